package oracle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	operatorAddr = common.HexToAddress("0x01")
	strangerAddr = common.HexToAddress("0x02")
	assetA       = common.HexToAddress("0x0A")
	assetB       = common.HexToAddress("0x0B")
)

type stubAggregator struct {
	answer *big.Int
	err    error
}

func (s *stubAggregator) LatestAnswer(common.Address) (*big.Int, error) {
	return s.answer, s.err
}

func TestSetPriceOperatorOnly(t *testing.T) {
	ora := New(operatorAddr)
	if err := ora.SetPrice(strangerAddr, assetA, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := ora.SetPrice(operatorAddr, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if got := ora.GetPrice(assetA); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100, got %s", got)
	}
	if got := ora.GetPrice(assetB); got.Sign() != 0 {
		t.Fatalf("expected zero for unset asset, got %s", got)
	}
}

func TestSetPricesBatch(t *testing.T) {
	ora := New(operatorAddr)
	assets := []common.Address{assetA, assetB}
	prices := []*big.Int{big.NewInt(1), big.NewInt(2)}
	if err := ora.SetPrices(operatorAddr, assets, prices[:1]); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if err := ora.SetPrices(operatorAddr, assets, prices); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	if got := ora.GetPrice(assetB); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected 2, got %s", got)
	}
}

func TestUnderlyingPriceByIndex(t *testing.T) {
	ora := New(operatorAddr)
	if err := ora.SetUnderlyingPrice(operatorAddr, 3, big.NewInt(42)); err != nil {
		t.Fatalf("set underlying: %v", err)
	}
	if got := ora.GetUnderlyingPrice(3); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected 42, got %s", got)
	}
	if got := ora.GetUnderlyingPrice(4); got.Sign() != 0 {
		t.Fatalf("expected zero for unset index, got %s", got)
	}
}

func TestAggregatorTakesPrecedenceAndRescales(t *testing.T) {
	ora := New(operatorAddr)
	if err := ora.SetPrice(operatorAddr, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	// 2.0 at 18 decimals must surface as 2e8.
	agg := &stubAggregator{answer: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)}
	agg.answer.Mul(agg.answer, big.NewInt(2))
	if err := ora.SetAssetsAggregator(operatorAddr, assetA, agg, 18); err != nil {
		t.Fatalf("set aggregator: %v", err)
	}
	if got := ora.GetPrice(assetA); got.Cmp(big.NewInt(200_000_000)) != 0 {
		t.Fatalf("expected 2e8, got %s", got)
	}

	// Failures fall back to the stored price.
	agg.err = errors.New("feed down")
	if got := ora.GetPrice(assetA); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected stored fallback 100, got %s", got)
	}

	// Detaching restores the stored price path.
	if err := ora.SetAssetsAggregator(operatorAddr, assetA, nil, 0); err != nil {
		t.Fatalf("detach aggregator: %v", err)
	}
	if source, _ := ora.GetAssetsAggregator(assetA); source != nil {
		t.Fatalf("expected aggregator detached")
	}
}
