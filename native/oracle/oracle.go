package oracle

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized   = errors.New("oracle: caller is not the operator")
	ErrLengthMismatch = errors.New("oracle: assets and prices length mismatch")
)

// priceDecimals is the scale every price is normalised to before it is
// handed to consumers. Aggregator answers carrying a different scale are
// rescaled on read.
var priceDecimals = big.NewInt(100_000_000) // 1e8

// Aggregator is an optional secondary price source for a single asset. When
// registered it takes precedence over the manually maintained price map.
type Aggregator interface {
	LatestAnswer(asset common.Address) (*big.Int, error)
}

type aggregatorEntry struct {
	source   Aggregator
	decimals uint8
}

// Oracle maintains admin-set prices per asset plus an optional aggregator
// feed per asset. Reads never fail: an unset price is reported as zero and it
// is the consumer's job to reject zero prices.
type Oracle struct {
	mu          sync.RWMutex
	operator    common.Address
	prices      map[common.Address]*big.Int
	underlying  map[uint64]*big.Int
	aggregators map[common.Address]aggregatorEntry
}

// New constructs an oracle whose write surface is gated on the operator.
func New(operator common.Address) *Oracle {
	return &Oracle{
		operator:    operator,
		prices:      make(map[common.Address]*big.Int),
		underlying:  make(map[uint64]*big.Int),
		aggregators: make(map[common.Address]aggregatorEntry),
	}
}

// GetPrice returns the current price of the asset at 1e8 scale, or zero when
// no price is known. A registered aggregator is consulted first; its answer is
// rescaled from the aggregator's decimals. Aggregator failures fall back to
// the stored price.
func (o *Oracle) GetPrice(asset common.Address) *big.Int {
	o.mu.RLock()
	entry, hasAgg := o.aggregators[asset]
	stored, hasStored := o.prices[asset]
	o.mu.RUnlock()

	if hasAgg && entry.source != nil {
		if answer, err := entry.source.LatestAnswer(asset); err == nil && answer != nil && answer.Sign() > 0 {
			return rescale(answer, entry.decimals)
		}
	}
	if hasStored {
		return new(big.Int).Set(stored)
	}
	return big.NewInt(0)
}

// GetUnderlyingPrice returns the price stored under a positional index, or
// zero when unset.
func (o *Oracle) GetUnderlyingPrice(index uint64) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if price, ok := o.underlying[index]; ok {
		return new(big.Int).Set(price)
	}
	return big.NewInt(0)
}

// SetPrice records the price of a single asset. Operator only.
func (o *Oracle) SetPrice(caller, asset common.Address, price *big.Int) error {
	if caller != o.operator {
		return ErrUnauthorized
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = clone(price)
	return nil
}

// SetPrices records a batch of asset prices in one call. Operator only.
func (o *Oracle) SetPrices(caller common.Address, assets []common.Address, prices []*big.Int) error {
	if caller != o.operator {
		return ErrUnauthorized
	}
	if len(assets) != len(prices) {
		return ErrLengthMismatch
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, asset := range assets {
		o.prices[asset] = clone(prices[i])
	}
	return nil
}

// SetUnderlyingPrice records a price under a positional index. Operator only.
func (o *Oracle) SetUnderlyingPrice(caller common.Address, index uint64, price *big.Int) error {
	if caller != o.operator {
		return ErrUnauthorized
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.underlying[index] = clone(price)
	return nil
}

// SetAssetsAggregator attaches a secondary price source for the asset along
// with the decimal scale of its answers. A nil source detaches the feed.
func (o *Oracle) SetAssetsAggregator(caller, asset common.Address, source Aggregator, decimals uint8) error {
	if caller != o.operator {
		return ErrUnauthorized
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if source == nil {
		delete(o.aggregators, asset)
		return nil
	}
	o.aggregators[asset] = aggregatorEntry{source: source, decimals: decimals}
	return nil
}

// GetAssetsAggregator returns the registered secondary source and its decimal
// scale, or nil when none is attached.
func (o *Oracle) GetAssetsAggregator(asset common.Address) (Aggregator, uint8) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.aggregators[asset]
	if !ok {
		return nil, 0
	}
	return entry.source, entry.decimals
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// rescale converts an answer from the source's decimal scale to 1e8.
func rescale(answer *big.Int, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(answer, priceDecimals)
	return out.Quo(out, scale)
}
