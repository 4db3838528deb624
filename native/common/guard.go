package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned when new capital inflow for a module has been
// suspended by the administrator. Settlement, claims, refunds and withdrawals
// are never guarded; the breaker only protects deposits.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the view reports the module as paused.
// A nil view or empty module name always passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is a toggleable PauseView covering all modules at once. It
// backs the administrator's setPause control.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused bool
}

// Toggle flips the switch and returns the new state.
func (s *PauseSwitch) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = !s.paused
	return s.paused
}

// IsPaused implements PauseView regardless of the module name.
func (s *PauseSwitch) IsPaused(string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}
