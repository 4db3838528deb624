package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/native/pledge"
	"pledgepool/observability"
)

type createPoolParams struct {
	Caller                 string `json:"caller"`
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
}

type poolIDParams struct {
	PoolID uint64 `json:"poolId"`
}

type positionParams struct {
	PoolID  uint64 `json:"poolId"`
	Address string `json:"address"`
}

type depositParams struct {
	From     string `json:"from"`
	PoolID   uint64 `json:"poolId"`
	Amount   string `json:"amount"`
	Deadline int64  `json:"deadline,omitempty"`
}

type claimParams struct {
	From   string `json:"from"`
	PoolID uint64 `json:"poolId"`
}

type withdrawParams struct {
	From     string `json:"from"`
	PoolID   uint64 `json:"poolId"`
	Amount   string `json:"amount"`
	Deadline int64  `json:"deadline,omitempty"`
}

type setPauseParams struct {
	Caller string `json:"caller"`
}

type pauseResult struct {
	Paused bool `json:"paused"`
}

type createPoolResult struct {
	PoolID uint64 `json:"poolId"`
}

type poolLengthResult struct {
	Length uint64 `json:"length"`
}

type poolStateResult struct {
	State string `json:"state"`
}

type checkoutResult struct {
	Liquidatable bool `json:"liquidatable"`
}

var errExpectedObject = errors.New("expected a single parameter object")

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errExpectedObject
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleCreatePool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input createPoolParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseAddress(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	terms := pledge.PoolTerms{SettleTime: input.SettleTime, EndTime: input.EndTime}
	if terms.InterestRate, err = parseAmount(input.InterestRate); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid interestRate", err.Error())
		return
	}
	if terms.MaxSupply, err = parseAmount(input.MaxSupply); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid maxSupply", err.Error())
		return
	}
	if terms.MortgageRate, err = parseAmount(input.MortgageRate); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid mortgageRate", err.Error())
		return
	}
	if terms.AutoLiquidateThreshold, err = parseAmount(input.AutoLiquidateThreshold); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid autoLiquidateThreshold", err.Error())
		return
	}
	if terms.LendToken, err = parseAddress(input.LendToken); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lendToken", err.Error())
		return
	}
	if terms.BorrowToken, err = parseAddress(input.BorrowToken); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrowToken", err.Error())
		return
	}
	if terms.SpToken, err = parseAddress(input.SpToken); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spToken", err.Error())
		return
	}
	if terms.JpToken, err = parseAddress(input.JpToken); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid jpToken", err.Error())
		return
	}

	id, err := s.engine.CreatePool(caller, terms)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.PoolMetrics().RecordPoolCreated()
	writeResult(w, req.ID, createPoolResult{PoolID: id})
}

func (s *Server) handleSetPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input setPauseParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseAddress(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	paused, err := s.engine.SetPause(caller)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.PoolMetrics().SetPause(paused)
	writeResult(w, req.ID, pauseResult{Paused: paused})
}

func (s *Server) handlePoolLength(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	length, err := s.engine.PoolLength()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolLengthResult{Length: length})
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input poolIDParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	pool, err := s.engine.GetPool(input.PoolID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolView(pool))
}

func (s *Server) handleGetPoolState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input poolIDParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	state, err := s.engine.GetPoolState(input.PoolID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolStateResult{State: state.String()})
}

func (s *Server) handleGetLendPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input positionParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := parseAddress(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pos, err := s.engine.GetLendPosition(input.PoolID, addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PositionResult{
		Address:     pos.Address.Hex(),
		StakeAmount: decString(pos.StakeAmount),
		HasClaimed:  pos.HasClaimed,
		HasRefunded: pos.HasRefunded,
	})
}

func (s *Server) handleGetBorrowPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input positionParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := parseAddress(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pos, err := s.engine.GetBorrowPosition(input.PoolID, addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PositionResult{
		Address:     pos.Address.Hex(),
		StakeAmount: decString(pos.StakeAmount),
		HasClaimed:  pos.HasClaimed,
		HasRefunded: pos.HasRefunded,
	})
}

func (s *Server) handleDepositLend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input depositParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := parseAddress(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.DepositLend(from, input.PoolID, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.PoolMetrics().RecordDeposit("lend")
	writeResult(w, req.ID, true)
}

func (s *Server) handleDepositBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input depositParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := parseAddress(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.DepositBorrow(from, input.PoolID, amount, input.Deadline); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.PoolMetrics().RecordDeposit("borrow")
	writeResult(w, req.ID, true)
}

func (s *Server) handleClaimLend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, s.engine.ClaimLend)
}

func (s *Server) handleClaimBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, s.engine.ClaimBorrow)
}

func (s *Server) handleRefundLend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, s.engine.RefundLend)
}

func (s *Server) handleRefundBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, s.engine.RefundBorrow)
}

func (s *Server) handleEmergencyLendWithdrawal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, s.engine.EmergencyLendWithdrawal)
}

func (s *Server) handleEmergencyBorrowWithdrawal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, s.engine.EmergencyBorrowWithdrawal)
}

// handleAmountOp covers claim, refund and emergency operations sharing the
// (from, poolId) -> amount shape.
func (s *Server) handleAmountOp(w http.ResponseWriter, req *RPCRequest, op func(common.Address, uint64) (*big.Int, error)) {
	var input claimParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := parseAddress(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := op(from, input.PoolID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: decString(amount)})
}

func (s *Server) handleWithdrawLend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input withdrawParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := parseAddress(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	paid, err := s.engine.WithdrawLend(from, input.PoolID, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: decString(paid)})
}

func (s *Server) handleWithdrawBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input withdrawParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := parseAddress(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	paid, err := s.engine.WithdrawBorrow(from, input.PoolID, amount, input.Deadline)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: decString(paid)})
}

func (s *Server) handleSettle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input poolIDParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.Settle(input.PoolID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	state, err := s.engine.GetPoolState(input.PoolID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.PoolMetrics().RecordSettlement(state.String())
	writeResult(w, req.ID, poolStateResult{State: state.String()})
}

func (s *Server) handleFinish(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input poolIDParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.Finish(input.PoolID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input poolIDParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.Liquidate(input.PoolID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.PoolMetrics().RecordLiquidation()
	writeResult(w, req.ID, true)
}

func (s *Server) handleCheckoutLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input poolIDParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidatable, err := s.engine.CheckoutLiquidate(input.PoolID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, checkoutResult{Liquidatable: liquidatable})
}
