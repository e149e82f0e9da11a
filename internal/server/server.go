// Package server exposes the gateway's HTTP surface: the two chat endpoints
// in their respective dialects, the model listing, and the health probe.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/config"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/forward"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

// Server is the gateway HTTP server.
type Server struct {
	forwarder  *forward.Forwarder
	httpServer *http.Server
}

// New creates the server listening on the configured address.
func New(cfg *config.Config, forwarder *forward.Forwarder) *Server {
	s := &Server{forwarder: forwarder}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table with CORS applied to every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/messages", s.handleMessages)
	return corsMiddleware(mux)
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	logging.Info("gateway listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware answers preflight requests and marks every response as
// cross-origin friendly; browser-based clients call the gateway directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, Anthropic-Version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
