package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"communityledger/native/community"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// TokenEnv names the environment variable holding the bearer token that
	// gates mutating methods.
	TokenEnv = "COMMUNITY_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeStateConflict  = -32010
)

// Server hosts the community ledger JSON-RPC 2.0 surface.
type Server struct {
	engine    *community.Engine
	log       *slog.Logger
	authToken string
}

// NewServer builds a server around the given engine. The mutating-method
// token is read from the COMMUNITY_RPC_TOKEN environment variable; when it
// is empty every mutating call is rejected.
func NewServer(engine *community.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		log:       logger,
		authToken: strings.TrimSpace(os.Getenv(TokenEnv)),
	}
}

// SetAuthToken overrides the mutating-method bearer token.
func (s *Server) SetAuthToken(token string) {
	s.authToken = strings.TrimSpace(token)
}

// Handler returns the http.Handler serving the RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
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
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, nil, codeParseError, "unable to read request body")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		s.writeError(w, req.ID, codeInvalidRequest, "jsonrpc 2.0 request required")
		return
	}
	if mutatingMethods[req.Method] && !s.authorized(r) {
		s.writeError(w, req.ID, codeUnauthorized, "missing or invalid bearer token")
		return
	}

	handler, ok := s.routes()[req.Method]
	if !ok {
		s.writeError(w, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		return
	}
	handler(w, &req)
}

var mutatingMethods = map[string]bool{
	"community_addContribution": true,
	"community_depositRewards":  true,
	"community_closePeriod":     true,
	"community_claimRewards":    true,
	"community_updateAdmin":     true,
}

func (s *Server) routes() map[string]func(http.ResponseWriter, *RPCRequest) {
	return map[string]func(http.ResponseWriter, *RPCRequest){
		"community_addContribution":       s.handleAddContribution,
		"community_depositRewards":        s.handleDepositRewards,
		"community_closePeriod":           s.handleClosePeriod,
		"community_claimRewards":          s.handleClaimRewards,
		"community_updateAdmin":           s.handleUpdateAdmin,
		"community_getContributions":      s.handleGetContributions,
		"community_getTotalContributions": s.handleGetTotalContributions,
		"community_getPeriodInfo":         s.handleGetPeriodInfo,
		"community_getCurrentPeriod":      s.handleGetCurrentPeriod,
		"community_getUserPoints":         s.handleGetUserPoints,
		"community_getClaimableAmount":    s.handleGetClaimableAmount,
		"community_getCommunityStats":     s.handleGetCommunityStats,
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}); err != nil {
		s.log.Error("write rpc response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}}); err != nil {
		s.log.Error("write rpc error", "err", err)
	}
}

// writeEngineError maps engine sentinels onto JSON-RPC error codes so clients
// can branch on failure modes without string matching.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	code := codeServerError
	switch {
	case errors.Is(err, community.ErrOnlyAdmin):
		code = codeUnauthorized
	case errors.Is(err, community.ErrZeroAddress),
		errors.Is(err, community.ErrInvalidPoints),
		errors.Is(err, community.ErrInvalidAmount),
		errors.Is(err, community.ErrPointsOverflow):
		code = codeInvalidParams
	case errors.Is(err, community.ErrPeriodNotFound):
		code = codeNotFound
	case errors.Is(err, community.ErrPeriodStillActive),
		errors.Is(err, community.ErrAlreadyClaimed),
		errors.Is(err, community.ErrNoPointsInPeriod),
		errors.Is(err, community.ErrReentrantCall):
		code = codeStateConflict
	}
	s.writeError(w, id, code, err.Error())
}

func decodeParams(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	return json.Unmarshal(req.Params[0], target)
}
