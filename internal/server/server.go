package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wellaios/crypto-chart-mcp/internal/artifact"
	"github.com/wellaios/crypto-chart-mcp/internal/catalog"
	"github.com/wellaios/crypto-chart-mcp/internal/icons"
	"github.com/wellaios/crypto-chart-mcp/internal/market"
	"github.com/wellaios/crypto-chart-mcp/internal/recorder"
	"github.com/wellaios/crypto-chart-mcp/internal/session"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// sessionHeader carries the caller identity assigned at initialize.
const sessionHeader = "Mcp-Session-Id"

// maxRequestBytes bounds one JSON-RPC request body.
const maxRequestBytes = 1 << 20

// Server handles MCP protocol communication over HTTP.
type Server struct {
	catalog  *catalog.Catalog
	icons    *icons.Store
	market   *market.Fetcher
	charts   *artifact.Publisher
	sessions *session.Registry
	recorder recorder.Recorder
	log      zerolog.Logger

	bearerToken    string
	requestTimeout time.Duration
	watermark      string

	now func() time.Time
}

// Options wires the server's collaborators.
type Options struct {
	Catalog        *catalog.Catalog
	Icons          *icons.Store
	Market         *market.Fetcher
	Charts         *artifact.Publisher
	Sessions       *session.Registry
	Recorder       recorder.Recorder
	BearerToken    string
	RequestTimeout time.Duration
	Watermark      string
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a new MCP server instance
func New(opts Options, logger zerolog.Logger) *Server {
	rec := opts.Recorder
	if rec == nil {
		rec = recorder.Noop{}
	}
	return &Server{
		catalog:        opts.Catalog,
		icons:          opts.Icons,
		market:         opts.Market,
		charts:         opts.Charts,
		sessions:       opts.Sessions,
		recorder:       rec,
		log:            logger.With().Str("component", "server").Logger(),
		bearerToken:    opts.BearerToken,
		requestTimeout: opts.RequestTimeout,
		watermark:      opts.Watermark,
		now:            time.Now,
	}
}

// Handler returns the HTTP routing for the server: the authenticated MCP
// endpoint, the public chart route, and the health probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.requireBearer(s.handleMCP))
	mux.HandleFunc("GET /charts", s.handleChart)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// requireBearer rejects requests whose Authorization header does not carry
// the configured bearer token. The check runs before any body is read.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		want := "Bearer " + s.bearerToken
		if s.bearerToken == "" || subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rejected request with missing or invalid bearer token")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// handleMCP decodes one JSON-RPC request from the body and writes the
// response. Notifications get 202 Accepted with no body.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeResponse(w, s.errorResponse(nil, -32700, "Parse error", "failed to read request body"))
		return
	}

	var req MCPRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, s.errorResponse(nil, -32700, "Parse error", err.Error()))
		return
	}

	callerID := r.Header.Get(sessionHeader)
	if callerID == "" {
		callerID = "anonymous"
	}

	resp := s.handleRequest(r, w, callerID, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeResponse(w, resp)
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(r *http.Request, w http.ResponseWriter, callerID string, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(w, req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(r.Context(), callerID, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request and assigns the caller
// its session id via the response header.
func (s *Server) handleInitialize(w http.ResponseWriter, req *MCPRequest) *MCPResponse {
	sessionID := uuid.NewString()
	w.Header().Set(sessionHeader, sessionID)
	s.log.Info().Str("session", sessionID).Msg("session initialized")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "crypto-chart-mcp",
				"version": "0.1.0",
			},
		},
	}
}

// handleChart serves a published chart image by id.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	data, err := s.charts.Get(id)
	if err != nil {
		http.Error(w, "chart not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", "inline")
	w.Write(data)
}

// handleHealth reports liveness and the size of the loaded coin catalog.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"coins":  s.catalog.Len(),
	})
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *MCPResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	resp := &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
		},
	}
	if data != "" {
		resp.Error.Data = data
	}
	return resp
}
