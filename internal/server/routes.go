package server

import (
	"net/http"

	"github.com/ahmethakanbesel/quotecache/internal/credential"
	"github.com/ahmethakanbesel/quotecache/internal/platform/metrics"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
// A nil m disables instrumentation and the /metrics route.
func NewHandler(resolver Resolver, credSvc *credential.Service, m *metrics.Metrics) http.Handler {
	return newMux(resolver, credSvc, m)
}

func newMux(resolver Resolver, credSvc *credential.Service, m *metrics.Metrics) http.Handler {
	h := &handler{
		resolver: resolver,
		credSvc:  credSvc,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/quotes", h.getQuotes)
	mux.HandleFunc("GET /api/v1/quotes/{symbol}", h.getQuote)
	mux.HandleFunc("PUT /api/v1/users/{id}/broker-credentials", h.putCredentials)
	mux.HandleFunc("DELETE /api/v1/users/{id}/broker-credentials", h.deleteCredentials)

	var handler http.Handler = mux
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
		handler = instrument(m, handler)
	}

	// recovery -> requestID -> logging -> instrument
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
