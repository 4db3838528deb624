package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/native/oracle"
	"pledgepool/native/pledge"
	"pledgepool/native/router"
	"pledgepool/native/token"
)

// PoolResult is the JSON view of a pool. Big integers are rendered as decimal
// strings so precision survives JSON number handling.
type PoolResult struct {
	ID                     uint64 `json:"id"`
	SettleTime             int64  `json:"settleTime"`
	EndTime                int64  `json:"endTime"`
	InterestRate           string `json:"interestRate"`
	MaxSupply              string `json:"maxSupply"`
	MortgageRate           string `json:"mortgageRate"`
	AutoLiquidateThreshold string `json:"autoLiquidateThreshold"`
	LendToken              string `json:"lendToken"`
	BorrowToken            string `json:"borrowToken"`
	SpToken                string `json:"spToken"`
	JpToken                string `json:"jpToken"`
	LendSupply             string `json:"lendSupply"`
	BorrowSupply           string `json:"borrowSupply"`
	SettleAmountLend       string `json:"settleAmountLend"`
	SettleAmountBorrow     string `json:"settleAmountBorrow"`
	FinishAmountLend       string `json:"finishAmountLend"`
	FinishAmountBorrow     string `json:"finishAmountBorrow"`
	State                  string `json:"state"`
}

// PositionResult is the JSON view of a lend- or borrow-side position.
type PositionResult struct {
	Address     string `json:"address"`
	StakeAmount string `json:"stakeAmount"`
	HasClaimed  bool   `json:"hasClaimed"`
	HasRefunded bool   `json:"hasRefunded"`
}

// AmountResult carries a single amount returned by a claim, refund or
// withdrawal.
type AmountResult struct {
	Amount string `json:"amount"`
}

func poolView(pool *pledge.Pool) PoolResult {
	return PoolResult{
		ID:                     pool.ID,
		SettleTime:             pool.Terms.SettleTime,
		EndTime:                pool.Terms.EndTime,
		InterestRate:           decString(pool.Terms.InterestRate),
		MaxSupply:              decString(pool.Terms.MaxSupply),
		MortgageRate:           decString(pool.Terms.MortgageRate),
		AutoLiquidateThreshold: decString(pool.Terms.AutoLiquidateThreshold),
		LendToken:              pool.Terms.LendToken.Hex(),
		BorrowToken:            pool.Terms.BorrowToken.Hex(),
		SpToken:                pool.Terms.SpToken.Hex(),
		JpToken:                pool.Terms.JpToken.Hex(),
		LendSupply:             decString(pool.LendSupply),
		BorrowSupply:           decString(pool.BorrowSupply),
		SettleAmountLend:       decString(pool.SettleAmountLend),
		SettleAmountBorrow:     decString(pool.SettleAmountBorrow),
		FinishAmountLend:       decString(pool.FinishAmountLend),
		FinishAmountBorrow:     decString(pool.FinishAmountBorrow),
		State:                  pool.State.String(),
	}
}

func decString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// writeEngineError maps module sentinel errors onto JSON-RPC error responses.
// Validation failures become invalid-params errors; everything else surfaces
// as a server error.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case isParamError(err):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, pledge.ErrUnknownPool):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, pledge.ErrUnauthorized), errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, token.ErrNotOwner), errors.Is(err, token.ErrNotMinter):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func isParamError(err error) bool {
	for _, sentinel := range []error{
		pledge.ErrInvalidParams,
		pledge.ErrInvalidAmount,
		pledge.ErrInvalidState,
		pledge.ErrTooEarly,
		pledge.ErrTooLate,
		pledge.ErrAlreadyResolved,
		pledge.ErrDeadlineExpired,
		pledge.ErrMaxSupplyReached,
		pledge.ErrNoPosition,
		pledge.ErrAlreadyClaimed,
		pledge.ErrAlreadyExited,
		pledge.ErrNothingToRefund,
		pledge.ErrNotLiquidatable,
		pledge.ErrMustLiquidate,
		token.ErrInsufficientBalance,
		token.ErrInsufficientAllowance,
		token.ErrUnknownToken,
		token.ErrInvalidAmount,
		token.ErrZeroAddress,
		router.ErrDeadlineExpired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
