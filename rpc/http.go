package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pledgepool/native/oracle"
	"pledgepool/native/pledge"
	"pledgepool/native/token"
	"pledgepool/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

type Server struct {
	engine    *pledge.Engine
	oracle    *oracle.Oracle
	tokens    *token.Registry
	authToken string
	log       *slog.Logger
}

// NewServer wires the JSON-RPC surface over the pool engine, oracle and token
// registry. The token guards the admin methods; an empty token disables them.
func NewServer(engine *pledge.Engine, ora *oracle.Oracle, tokens *token.Registry, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		oracle:    ora,
		tokens:    tokens,
		authToken: strings.TrimSpace(authToken),
		log:       log,
	}
}

// Router assembles the HTTP mux: JSON-RPC at the root, plus health and
// metrics endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r, req)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, recorder.status, time.Since(start))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "pledge_createPool":
		s.withAuth(w, r, req, s.handleCreatePool)
	case "pledge_setPause":
		s.withAuth(w, r, req, s.handleSetPause)
	case "pledge_settle":
		s.withAuth(w, r, req, s.handleSettle)
	case "pledge_finish":
		s.withAuth(w, r, req, s.handleFinish)
	case "pledge_liquidate":
		s.withAuth(w, r, req, s.handleLiquidate)
	case "pledge_checkoutLiquidate":
		s.handleCheckoutLiquidate(w, r, req)
	case "pledge_poolLength":
		s.handlePoolLength(w, r, req)
	case "pledge_getPool":
		s.handleGetPool(w, r, req)
	case "pledge_getPoolState":
		s.handleGetPoolState(w, r, req)
	case "pledge_getLendPosition":
		s.handleGetLendPosition(w, r, req)
	case "pledge_getBorrowPosition":
		s.handleGetBorrowPosition(w, r, req)
	case "pledge_depositLend":
		s.handleDepositLend(w, r, req)
	case "pledge_depositBorrow":
		s.handleDepositBorrow(w, r, req)
	case "pledge_claimLend":
		s.handleClaimLend(w, r, req)
	case "pledge_claimBorrow":
		s.handleClaimBorrow(w, r, req)
	case "pledge_refundLend":
		s.handleRefundLend(w, r, req)
	case "pledge_refundBorrow":
		s.handleRefundBorrow(w, r, req)
	case "pledge_emergencyLendWithdrawal":
		s.handleEmergencyLendWithdrawal(w, r, req)
	case "pledge_emergencyBorrowWithdrawal":
		s.handleEmergencyBorrowWithdrawal(w, r, req)
	case "pledge_withdrawLend":
		s.handleWithdrawLend(w, r, req)
	case "pledge_withdrawBorrow":
		s.handleWithdrawBorrow(w, r, req)
	case "oracle_setPrice":
		s.withAuth(w, r, req, s.handleOracleSetPrice)
	case "oracle_getPrice":
		s.handleOracleGetPrice(w, r, req)
	case "token_mint":
		s.withAuth(w, r, req, s.handleTokenMint)
	case "token_addMinter":
		s.withAuth(w, r, req, s.handleTokenAddMinter)
	case "token_delMinter":
		s.withAuth(w, r, req, s.handleTokenDelMinter)
	case "token_approve":
		s.handleTokenApprove(w, r, req)
	case "token_transfer":
		s.handleTokenTransfer(w, r, req)
	case "token_balanceOf":
		s.handleTokenBalanceOf(w, r, req)
	case "token_allowance":
		s.handleTokenAllowance(w, r, req)
	case "token_totalSupply":
		s.handleTokenTotalSupply(w, r, req)
	case "token_isMinter":
		s.handleTokenIsMinter(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

type rpcHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next rpcHandler) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, scheme))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func methodModule(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
