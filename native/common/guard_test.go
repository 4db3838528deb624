package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "pledge"); err != nil {
		t.Fatalf("nil view must pass, got %v", err)
	}
	s := &PauseSwitch{}
	if err := Guard(s, "pledge"); err != nil {
		t.Fatalf("unpaused switch must pass, got %v", err)
	}
	if !s.Toggle() {
		t.Fatalf("expected toggle to engage the pause")
	}
	if err := Guard(s, "pledge"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(s, ""); err != nil {
		t.Fatalf("empty module name must pass, got %v", err)
	}
	if s.Toggle() {
		t.Fatalf("expected toggle to release the pause")
	}
	if err := Guard(s, "pledge"); err != nil {
		t.Fatalf("released switch must pass, got %v", err)
	}
}
