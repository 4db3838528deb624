package rpc

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/native/token"
)

type tokenCallParams struct {
	Token  string `json:"token"`
	Caller string `json:"caller"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount,omitempty"`
}

type tokenQueryParams struct {
	Token   string `json:"token"`
	Address string `json:"address,omitempty"`
	Spender string `json:"spender,omitempty"`
}

type minterParams struct {
	Token  string `json:"token"`
	Caller string `json:"caller"`
	Minter string `json:"minter"`
}

type boolResult struct {
	Value bool `json:"value"`
}

func (s *Server) resolveToken(w http.ResponseWriter, id interface{}, addr string) *token.Token {
	parsed, err := parseAddress(addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
		return nil
	}
	tok, err := s.tokens.Resolve(parsed)
	if err != nil {
		writeEngineError(w, id, err)
		return nil
	}
	return tok
}

// handleTokenMove covers transfer and approve, which share the
// (token, caller, to, amount) shape.
func (s *Server) handleTokenMove(w http.ResponseWriter, req *RPCRequest, op func(*token.Token, common.Address, common.Address, *big.Int) error) {
	var input tokenCallParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	tok := s.resolveToken(w, req.ID, input.Token)
	if tok == nil {
		return
	}
	caller, err := parseAddress(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddress(input.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := op(tok, caller, to, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTokenMove(w, req, func(tok *token.Token, caller, to common.Address, amount *big.Int) error {
		return tok.Transfer(caller, to, amount)
	})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTokenMove(w, req, func(tok *token.Token, caller, spender common.Address, amount *big.Int) error {
		return tok.Approve(caller, spender, amount)
	})
}

func (s *Server) handleTokenMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTokenMove(w, req, func(tok *token.Token, caller, to common.Address, amount *big.Int) error {
		return tok.Mint(caller, to, amount)
	})
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input tokenQueryParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	tok := s.resolveToken(w, req.ID, input.Token)
	if tok == nil {
		return
	}
	addr, err := parseAddress(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: decString(tok.BalanceOf(addr))})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input tokenQueryParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	tok := s.resolveToken(w, req.ID, input.Token)
	if tok == nil {
		return
	}
	owner, err := parseAddress(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := parseAddress(input.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: decString(tok.Allowance(owner, spender))})
}

func (s *Server) handleTokenTotalSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input tokenQueryParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	tok := s.resolveToken(w, req.ID, input.Token)
	if tok == nil {
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: decString(tok.TotalSupply())})
}

func (s *Server) handleTokenIsMinter(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input tokenQueryParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	tok := s.resolveToken(w, req.ID, input.Token)
	if tok == nil {
		return
	}
	addr, err := parseAddress(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, boolResult{Value: tok.IsMinter(addr)})
}

func (s *Server) handleTokenAddMinter(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleMinterOp(w, req, func(tok *token.Token, caller, minter common.Address) error {
		return tok.AddMinter(caller, minter)
	})
}

func (s *Server) handleTokenDelMinter(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleMinterOp(w, req, func(tok *token.Token, caller, minter common.Address) error {
		return tok.DelMinter(caller, minter)
	})
}

func (s *Server) handleMinterOp(w http.ResponseWriter, req *RPCRequest, op func(*token.Token, common.Address, common.Address) error) {
	var input minterParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	tok := s.resolveToken(w, req.ID, input.Token)
	if tok == nil {
		return
	}
	caller, err := parseAddress(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	minter, err := parseAddress(input.Minter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := op(tok, caller, minter); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
