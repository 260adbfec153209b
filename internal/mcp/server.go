package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"s3mcp/internal/config"
	"s3mcp/internal/model"
	"s3mcp/internal/protocol"
	"s3mcp/internal/transfer"
)

// StorageGateway is the slice of the storage adapter the tool handlers use.
type StorageGateway interface {
	ListBuckets(ctx context.Context) ([]model.BucketInfo, error)
	ListObjects(ctx context.Context, bucket, prefix, startAfter string, limit int) ([]model.ObjectInfo, string, error)
	StatObject(ctx context.Context, bucket, key string) (model.ObjectInfo, error)
	GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (model.ObjectInfo, error)
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Downloader is the transfer engine surface the download tool uses.
type Downloader interface {
	Download(ctx context.Context, bucket, key string) (transfer.Result, error)
	Snapshot() transfer.Counters
}

// Server exposes the storage tools over Streamable HTTP JSON-RPC. The tool
// registry is built once in NewServer and never mutated afterward, so reads
// need no locking.
type Server struct {
	cfg      config.Config
	store    StorageGateway
	engine   Downloader
	log      zerolog.Logger
	tools    map[string]toolDefinition
	limiter  *ipRateLimiter
	admitSem *semaphore.Weighted

	mu        sync.Mutex
	sessions  map[string]time.Time
	startedAt time.Time
}

func NewServer(cfg config.Config, store StorageGateway, engine Downloader, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		log:       log,
		admitSem:  semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		sessions:  make(map[string]time.Time),
		startedAt: time.Now(),
	}
	if cfg.Public {
		s.limiter = newIPRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	s.tools = s.buildToolRegistry()
	return s
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data,omitempty"`
}

type rpcErrorData struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// Handler returns the HTTP handler for the MCP path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleMCP)
}

// Serve blocks while handling HTTP on listener. Cancel ctx to initiate
// graceful shutdown; in-flight requests are allowed to drain.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.MCPPath, s.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if s.limiter != nil {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.limiter.cleanup(10 * time.Minute)
				}
			}
		}()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		writeResponse(w, http.StatusTooManyRequests, rpcResponse{
			JSONRPC: "2.0",
			Error: &rpcError{
				Code:    -32000,
				Message: "rate limit exceeded",
				Data:    &rpcErrorData{Kind: protocol.ErrorKindOverload, Retryable: true},
			},
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		writeParseError(w, nil, "read request body")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeParseError(w, nil, "invalid JSON-RPC request")
		return
	}
	if req.JSONRPC != "2.0" {
		writeParseError(w, req.ID, "unsupported jsonrpc version")
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req.ID)
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
	case "ping":
		writeResult(w, http.StatusOK, req.ID, map[string]interface{}{})
	case "tools/list":
		if !s.requireSession(w, r, req.ID) {
			return
		}
		s.handleToolsList(w, req.ID)
	case "tools/call":
		if !s.requireSession(w, r, req.ID) {
			return
		}
		s.handleToolsCall(r.Context(), w, req.Params, req.ID)
	default:
		writeResponse(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: -32601, Message: "method not found: " + req.Method},
		})
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, id interface{}) {
	sessionID := uuid.NewString()
	s.mu.Lock()
	s.sessions[sessionID] = time.Now()
	s.mu.Unlock()

	w.Header().Set(protocol.MCPSessionHeader, sessionID)
	writeResult(w, http.StatusOK, id, map[string]interface{}{
		"protocolVersion": s.cfg.ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "s3mcp",
			"version": protocol.Version,
		},
	})
}

func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, id interface{}) bool {
	sessionID := strings.TrimSpace(r.Header.Get(protocol.MCPSessionHeader))
	if sessionID == "" {
		writeResponse(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: -32000, Message: "missing " + protocol.MCPSessionHeader + " header"},
		})
		return false
	}
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if ok {
		s.sessions[sessionID] = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		writeResponse(w, http.StatusNotFound, rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: -32000, Message: "unknown session"},
		})
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeParseError(w http.ResponseWriter, id interface{}, message string) {
	writeResponse(w, http.StatusBadRequest, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: -32700, Message: message},
	})
}

func writeResult(w http.ResponseWriter, statusCode int, id, result interface{}) {
	writeResponse(w, statusCode, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func writeResponse(w http.ResponseWriter, statusCode int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
