package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/quotecache/internal/credential"
	"github.com/ahmethakanbesel/quotecache/internal/platform/metrics"
)

type Server struct {
	srv *http.Server
}

// New creates a server. Every request context derives from baseCtx, so
// cancelling it aborts in-flight upstream fetches during shutdown.
func New(baseCtx context.Context, port string, resolver Resolver, credSvc *credential.Service, m *metrics.Metrics) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: newMux(resolver, credSvc, m),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
