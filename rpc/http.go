package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kisx/indexer"
	"kisx/native/market"
	"kisx/observability/metrics"
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

	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
	codeMarketPayment       = -32026
)

// Server exposes the market engines over JSON-RPC 2.0. Mutating methods
// require the configured bearer token; reads are open.
type Server struct {
	lots      *market.Engine
	listings  *market.ListingEngine
	index     *indexer.Indexer
	authToken string
	log       *slog.Logger
	methods   map[string]handlerFunc
}

// NewServer wires the RPC surface. index may be nil when history queries are
// not served.
func NewServer(lots *market.Engine, listings *market.ListingEngine, index *indexer.Indexer, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		lots:      lots,
		listings:  listings,
		index:     index,
		authToken: strings.TrimSpace(authToken),
		log:       log,
	}
	s.methods = s.handlers()
	return s
}

// Router returns the HTTP handler: /rpc for JSON-RPC, /healthz and /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	return r
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

var mutatingMethods = map[string]bool{
	"market_createLot":       true,
	"market_cancelLot":       true,
	"market_updateLot":       true,
	"market_buyLot":          true,
	"market_relistLot":       true,
	"market_setMintPrice":    true,
	"market_withdrawBalance": true,
	"market_listItem":        true,
	"market_cancelListing":   true,
	"market_updateListing":   true,
	"market_buyItem":         true,
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid jsonrpc version", nil)
		return
	}
	if mutatingMethods[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			metrics.Market().ObserveRPC(req.Method, "unauthorized")
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	handler(w, r, &req)
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

// handlers builds the method dispatch table, called once from NewServer.
func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"market_createLot":       s.handleCreateLot,
		"market_cancelLot":       s.handleCancelLot,
		"market_updateLot":       s.handleUpdateLot,
		"market_buyLot":          s.handleBuyLot,
		"market_relistLot":       s.handleRelistLot,
		"market_findLot":         s.handleFindLot,
		"market_findAllPending":  s.handleFindAllPending,
		"market_pendingLotCount": s.handlePendingLotCount,
		"market_findMyLots":      s.handleFindMyLots,
		"market_mintPrice":       s.handleMintPrice,
		"market_setMintPrice":    s.handleSetMintPrice,
		"market_withdrawBalance": s.handleWithdrawBalance,
		"market_listItem":        s.handleListItem,
		"market_cancelListing":   s.handleCancelListing,
		"market_updateListing":   s.handleUpdateListing,
		"market_buyItem":         s.handleBuyItem,
		"market_getListing":      s.handleGetListing,
		"market_recentSales":     s.handleRecentSales,
	}
}

// writeEngineError maps engine sentinel errors onto JSON-RPC error codes.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	code := codeMarketInternal
	status := http.StatusInternalServerError
	switch {
	case isValidationError(err):
		code, status = codeMarketInvalidParams, http.StatusBadRequest
	case isNotFoundError(err):
		code, status = codeMarketNotFound, http.StatusNotFound
	case isForbiddenError(err):
		code, status = codeMarketForbidden, http.StatusForbidden
	case isConflictError(err):
		code, status = codeMarketConflict, http.StatusConflict
	case isPaymentError(err):
		code, status = codeMarketPayment, http.StatusBadRequest
	}
	writeError(w, status, id, code, "market error", err.Error())
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// parseAddress decodes a 0x-prefixed 20-byte hex address.
func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(trimmed) != 40 {
		return out, fmt.Errorf("address must be 20 bytes of hex")
	}
	for i := 0; i < 20; i++ {
		hi := hexVal(trimmed[2*i])
		lo := hexVal(trimmed[2*i+1])
		if hi < 0 || lo < 0 {
			return out, fmt.Errorf("invalid hex character in address")
		}
		out[i] = byte(hi<<4 | lo)
	}
	return out, nil
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

// parseAmount decodes a non-negative decimal amount.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be a non-negative decimal string")
	}
	return amount, nil
}
