package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ahmethakanbesel/quotecache/internal/apperror"
	"github.com/ahmethakanbesel/quotecache/internal/credential"
	"github.com/ahmethakanbesel/quotecache/internal/quote"
)

const maxSymbolsPerRequest = 200

// Resolver is the read side of the quote cache.
type Resolver interface {
	GetPrice(ctx context.Context, symbol string) (quote.Quote, bool, error)
	GetPrices(ctx context.Context, symbols []string, userID string) (map[string]quote.Quote, error)
}

type handler struct {
	resolver Resolver
	credSvc  *credential.Service
}

type quotesResponse struct {
	Quotes  map[string]quote.Quote `json:"quotes"`
	Missing []string               `json:"missing"`
}

type credentialBody struct {
	APIKey      string     `json:"apiKey"`
	AccessToken string     `json:"accessToken"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	symbols := quote.NormalizeSymbols(strings.Split(raw, ","))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	if len(symbols) > maxSymbolsPerRequest {
		writeError(w, http.StatusBadRequest, "too many symbols")
		return
	}

	quotes, err := h.resolver.GetPrices(r.Context(), symbols, strings.TrimSpace(r.URL.Query().Get("user")))
	if err != nil {
		writeFailure(w, err)
		return
	}

	missing := make([]string, 0)
	for _, s := range symbols {
		if _, ok := quotes[s]; !ok {
			missing = append(missing, s)
		}
	}

	writeJSON(w, http.StatusOK, quotesResponse{Quotes: quotes, Missing: missing})
}

func (h *handler) getQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	q, ok, err := h.resolver.GetPrice(r.Context(), symbol)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "price unavailable")
		return
	}

	writeJSON(w, http.StatusOK, q)
}

func (h *handler) putCredentials(w http.ResponseWriter, r *http.Request) {
	var body credentialBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.credSvc.Save(r.Context(), credential.SaveRequest{
		UserID:      r.PathValue("id"),
		APIKey:      body.APIKey,
		AccessToken: body.AccessToken,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *handler) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.credSvc.Delete(r.Context(), credential.DeleteRequest{UserID: r.PathValue("id")}); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeFailure maps service errors to a status code.
func writeFailure(w http.ResponseWriter, err error) {
	if ae, ok := apperror.As(err); ok {
		writeAppError(w, ae)
		return
	}
	if errors.Is(err, quote.ErrStoreUnavailable) {
		slog.Error("quote store unavailable", "error", err)
		writeAppError(w, apperror.Wrap(apperror.Unavailable, "quote store unavailable", err))
		return
	}
	slog.Error("request failed", "error", err)
	writeAppError(w, apperror.Wrap(apperror.Internal, "internal server error", err))
}
