package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/proxyvet/proxyvet/internal/ingest"
	"github.com/proxyvet/proxyvet/internal/store"
)

// Server wraps the HTTP server and mux for the control plane.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a control-plane server wired with all routes. An empty
// adminToken leaves the API open.
func NewServer(listenAddress string, port int, adminToken string, s *store.Store, in *ingest.Ingestor) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	authed := http.NewServeMux()
	authed.Handle("GET /list", HandleList(s))
	authed.Handle("GET /add", HandleAdd(in))
	authed.Handle("GET /remove", HandleRemove(s))
	authed.Handle("GET /add_check", HandleAddCheck(s))
	authed.Handle("GET /list_check", HandleListCheck(s))
	authed.Handle("GET /remove_check", HandleRemoveCheck(s))
	authed.Handle("GET /add_proxy_check", HandleAddProxyCheck(s))
	authed.Handle("GET /remove_proxy_check", HandleRemoveProxyCheck(s))

	mux.Handle("/", AuthMiddleware(adminToken, authed))

	return &Server{
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
			Handler: mux,
		},
		mux: mux,
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
