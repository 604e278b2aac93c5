// Package broker implements the primary quote source: a brokerage quote API
// authenticated with credentials scoped to one user.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ahmethakanbesel/quotecache/internal/credential"
	"github.com/ahmethakanbesel/quotecache/internal/quote"
)

const (
	defaultBaseURL = "https://api.broker.example.com/v3"
	defaultWorkers = 5
	defaultTimeout = 5 * time.Second

	quotePath     = "/quote"
	headerAPIKey  = "X-API-Key"
	headerVersion = "X-API-Version"
	apiVersion    = "3"
)

var errUnauthorized = fmt.Errorf("%w: credentials rejected", quote.ErrSourceUnreachable)

// CredentialStore looks up a user's broker credentials.
//
//go:generate mockgen -package=broker -destination=mock_credentials_test.go -source=broker.go CredentialStore
type CredentialStore interface {
	Find(ctx context.Context, userID string) (*credential.Credential, error)
}

// Source fetches quotes from the brokerage API on behalf of a user.
type Source struct {
	creds    CredentialStore
	client   *http.Client
	baseURL  string
	exchange string
	workers  int
	timeout  time.Duration
	now      func() time.Time

	lookups singleflight.Group
}

// New creates a Source reading credentials from creds.
func New(creds CredentialStore, opts ...Option) *Source {
	s := &Source{
		creds:   creds,
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
		workers: defaultWorkers,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures a Source.
type Option func(*Source)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(s *Source) { s.baseURL = u }
}

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithExchange prefixes every instrument with "<exchange>:".
func WithExchange(exchange string) Option {
	return func(s *Source) { s.exchange = exchange }
}

// WithWorkers sets how many symbols are fetched concurrently.
func WithWorkers(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTimeout bounds every quote request.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock sets the time used for expiry checks and quote stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

func (s *Source) Tag() quote.Tag { return quote.TagPrimary }

// TryResolve fetches req.Symbols with req.UserID's credentials. Without a
// user or usable credentials it resolves nothing. Symbols that fail are
// logged and skipped.
func (s *Source) TryResolve(ctx context.Context, req quote.Request, emit quote.Emit) (map[string]quote.Quote, error) {
	out := make(map[string]quote.Quote, len(req.Symbols))
	if req.UserID == "" || len(req.Symbols) == 0 {
		return out, nil
	}

	cred, err := s.credentials(ctx, req.UserID)
	if err != nil {
		slog.Warn("broker: credential lookup failed", "user", req.UserID, "error", err)
		return out, nil
	}
	if !cred.Usable(s.now()) {
		slog.Debug("broker: skipped", "user", req.UserID, "reason", quote.ErrNotApplicable)
		return out, nil
	}

	var (
		mu       sync.Mutex
		rejected atomic.Bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, sym := range req.Symbols {
		g.Go(func() error {
			if rejected.Load() {
				return nil
			}
			q, err := s.fetch(gctx, cred, sym)
			if err != nil {
				if errors.Is(err, errUnauthorized) {
					if !rejected.Swap(true) {
						slog.Warn("broker: credentials rejected", "user", req.UserID)
					}
					return nil
				}
				slog.Warn("broker: quote unavailable", "user", req.UserID, "symbol", sym, "error", err)
				return nil
			}
			saved, err := emit(gctx, q)
			if err != nil {
				return err
			}
			mu.Lock()
			out[sym] = saved
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// credentials shares one lookup among concurrent batches for the same user.
// The lookup is detached from any single caller's cancellation and bounded
// by the source timeout; each caller stops waiting when its own ctx ends.
func (s *Source) credentials(ctx context.Context, userID string) (*credential.Credential, error) {
	ch := s.lookups.DoChan(userID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.creds.Find(lctx, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cred, _ := res.Val.(*credential.Credential)
		return cred, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type quoteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		LastPrice decimal.NullDecimal `json:"last_price"`
		NetChange decimal.NullDecimal `json:"net_change"`
		Volume    decimal.NullDecimal `json:"volume"`
		OHLC      struct {
			Close decimal.NullDecimal `json:"close"`
		} `json:"ohlc"`
	} `json:"data"`
}

func (s *Source) instrument(symbol string) string {
	if s.exchange == "" {
		return symbol
	}
	return s.exchange + ":" + symbol
}

func (s *Source) fetch(ctx context.Context, cred *credential.Credential, symbol string) (quote.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqURL := s.baseURL + quotePath + "?symbol=" + url.QueryEscape(s.instrument(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return quote.Quote{}, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set(headerAPIKey, cred.APIKey)
	req.Header.Set(headerVersion, apiVersion)
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return quote.Quote{}, fmt.Errorf("%w: %w", quote.ErrSourceUnreachable, err)
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return quote.Quote{}, errUnauthorized
	case res.StatusCode < 200 || res.StatusCode > 299:
		return quote.Quote{}, fmt.Errorf("%w: HTTP %d", quote.ErrSourceUnreachable, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return quote.Quote{}, fmt.Errorf("%w: read body: %w", quote.ErrSourceUnreachable, err)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return quote.Quote{}, fmt.Errorf("%w: %w", quote.ErrMalformedResponse, err)
	}
	if qr.Status != "success" {
		return quote.Quote{}, fmt.Errorf("%w: status %q: %s", quote.ErrMalformedResponse, qr.Status, qr.Message)
	}
	if qr.Data == nil || !qr.Data.LastPrice.Valid {
		return quote.Quote{}, quote.ErrNoData
	}

	price := qr.Data.LastPrice.Decimal
	prevClose := qr.Data.OHLC.Close.Decimal
	if !qr.Data.OHLC.Close.Valid && qr.Data.NetChange.Valid {
		prevClose = price.Sub(qr.Data.NetChange.Decimal)
	}
	change, changePct := quote.Derive(price, prevClose)

	var volume int64
	if qr.Data.Volume.Valid && qr.Data.Volume.Decimal.IsPositive() {
		volume = qr.Data.Volume.Decimal.IntPart()
	}

	return quote.Quote{
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    volume,
		Source:    quote.TagPrimary,
		UpdatedAt: s.now().UTC(),
	}, nil
}
