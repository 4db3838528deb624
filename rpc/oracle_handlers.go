package rpc

import "net/http"

type oracleSetPriceParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Price  string `json:"price"`
}

type oracleGetPriceParams struct {
	Asset string `json:"asset"`
}

type oraclePriceResult struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) handleOracleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input oracleSetPriceParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := parseAddress(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress(input.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(input.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.oracle.SetPrice(caller, asset, price); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleOracleGetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input oracleGetPriceParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	asset, err := parseAddress(input.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price := s.oracle.GetPrice(asset)
	writeResult(w, req.ID, oraclePriceResult{Asset: asset.Hex(), Price: decString(price)})
}
