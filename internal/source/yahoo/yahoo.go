// Package yahoo implements the fallback quote source on top of the public
// Yahoo Finance v8 chart API. The API is served by several interchangeable
// hosts; each symbol is tried against them in order until one answers.
package yahoo

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
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/quotecache/internal/quote"
	"github.com/ahmethakanbesel/quotecache/internal/source"
)

const (
	chartPath        = "/v8/finance/chart/"
	defaultBatchSize = 5
	defaultTimeout   = 5 * time.Second
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// DefaultMirrors are the public chart API hosts, in preference order.
var DefaultMirrors = []string{
	"https://query1.finance.yahoo.com",
	"https://query2.finance.yahoo.com",
}

// Source fetches quotes from the chart API.
type Source struct {
	client    *http.Client
	mirrorURL []string
	mirrors   []*mirror
	suffix    string
	batchSize int
	timeout   time.Duration
	limiter   *rate.Limiter
	now       func() time.Time

	breakerFailures uint32
	breakerCooldown time.Duration
}

type mirror struct {
	baseURL string
	breaker *gobreaker.CircuitBreaker // nil when breaking is disabled
}

// New creates a Source with the given options applied.
func New(opts ...Option) *Source {
	s := &Source{
		client:          &http.Client{Timeout: defaultTimeout},
		mirrorURL:       DefaultMirrors,
		suffix:          DefaultSuffix,
		batchSize:       defaultBatchSize,
		timeout:         defaultTimeout,
		limiter:         rate.NewLimiter(rate.Inf, 1),
		now:             time.Now,
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}

	s.mirrors = make([]*mirror, 0, len(s.mirrorURL))
	for _, u := range s.mirrorURL {
		s.mirrors = append(s.mirrors, &mirror{baseURL: u, breaker: s.newBreaker(u)})
	}
	return s
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithMirrors overrides DefaultMirrors. Order is preference order.
func WithMirrors(baseURLs ...string) Option {
	return func(s *Source) {
		if len(baseURLs) > 0 {
			s.mirrorURL = baseURLs
		}
	}
}

// WithSuffix sets the exchange suffix appended by WireSymbol.
func WithSuffix(suffix string) Option {
	return func(s *Source) { s.suffix = suffix }
}

// WithBatchSize sets how many symbols are fetched concurrently.
func WithBatchSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTimeout bounds every single mirror attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLimiter paces requests across all mirrors.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Source) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithBreaker makes a mirror be skipped for cooldown after failures
// consecutive failures. Zero failures disables breaking.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(s *Source) {
		s.breakerFailures = failures
		s.breakerCooldown = cooldown
	}
}

// WithClock sets the time stamped on fetched quotes.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

func (s *Source) Tag() quote.Tag { return quote.TagFallback }

// TryResolve fetches req.Symbols in groups of the configured batch size. Each
// group runs concurrently and is awaited as a whole; a failing symbol is
// logged and left out without disturbing its siblings.
func (s *Source) TryResolve(ctx context.Context, req quote.Request, emit quote.Emit) (map[string]quote.Quote, error) {
	var mu sync.Mutex
	out := make(map[string]quote.Quote, len(req.Symbols))

	for _, group := range source.Chunk(req.Symbols, s.batchSize) {
		g, gctx := errgroup.WithContext(ctx)
		for _, sym := range group {
			g.Go(func() error {
				q, err := s.fetch(gctx, sym)
				if err != nil {
					if errors.Is(err, quote.ErrNoData) {
						slog.Debug("yahoo: no data", "symbol", sym)
					} else {
						slog.Warn("yahoo: quote unavailable", "symbol", sym, "error", err)
					}
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
	}

	return out, nil
}

// fetch tries every mirror in order and returns the first well-formed quote.
func (s *Source) fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	wire := WireSymbol(symbol, s.suffix)

	var errs []error
	for _, m := range s.mirrors {
		meta, err := s.fetchFrom(ctx, m, wire)
		if err == nil {
			return s.toQuote(symbol, meta)
		}
		if ctx.Err() != nil {
			return quote.Quote{}, ctx.Err()
		}
		slog.Debug("yahoo: mirror failed", "mirror", m.baseURL, "symbol", wire, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", m.baseURL, err))
	}
	return quote.Quote{}, errors.Join(errs...)
}

func (s *Source) fetchFrom(ctx context.Context, m *mirror, wire string) (*chartMeta, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", quote.ErrSourceUnreachable, err)
	}
	if m.breaker == nil {
		return s.get(ctx, m.baseURL, wire)
	}

	res, err := m.breaker.Execute(func() (any, error) {
		return s.get(ctx, m.baseURL, wire)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", quote.ErrSourceUnreachable, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*chartMeta), nil
}

// chartResponse is the subset of the v8 chart payload we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta chartMeta `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartMeta struct {
	Symbol              string              `json:"symbol"`
	RegularMarketPrice  decimal.NullDecimal `json:"regularMarketPrice"`
	ChartPreviousClose  decimal.NullDecimal `json:"chartPreviousClose"`
	PreviousClose       decimal.NullDecimal `json:"previousClose"`
	RegularMarketVolume decimal.NullDecimal `json:"regularMarketVolume"`
}

// statusError is a non-2xx reply from a mirror.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", quote.ErrSourceUnreachable, e.code)
}

func (e *statusError) Unwrap() error { return quote.ErrSourceUnreachable }

func (s *Source) get(ctx context.Context, baseURL, wire string) (*chartMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqURL := baseURL + chartPath + url.PathEscape(wire) + "?interval=1d&range=1d"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return nil, fmt.Errorf("%w: %w", quote.ErrSourceUnreachable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &statusError{code: res.StatusCode}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", quote.ErrSourceUnreachable, err)
	}

	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("%w: %w", quote.ErrMalformedResponse, err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("%w: chart error %s: %s", quote.ErrMalformedResponse, cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty chart result", quote.ErrMalformedResponse)
	}

	return &cr.Chart.Result[0].Meta, nil
}

func (s *Source) toQuote(symbol string, meta *chartMeta) (quote.Quote, error) {
	if !meta.RegularMarketPrice.Valid {
		return quote.Quote{}, quote.ErrNoData
	}

	price := meta.RegularMarketPrice.Decimal
	prevClose := meta.ChartPreviousClose
	if !prevClose.Valid || prevClose.Decimal.IsZero() {
		prevClose = meta.PreviousClose
	}
	change, changePct := quote.Derive(price, prevClose.Decimal)

	var volume int64
	if meta.RegularMarketVolume.Valid && meta.RegularMarketVolume.Decimal.IsPositive() {
		volume = meta.RegularMarketVolume.Decimal.IntPart()
	}

	return quote.Quote{
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    volume,
		Source:    quote.TagFallback,
		UpdatedAt: s.now().UTC(),
	}, nil
}

func (s *Source) newBreaker(name string) *gobreaker.CircuitBreaker {
	if s.breakerFailures == 0 {
		return nil
	}
	threshold := s.breakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.breakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: mirrorHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("yahoo: mirror circuit changed", "mirror", name, "from", from.String(), "to", to.String())
		},
	})
}

// mirrorHealthy reports whether err says nothing about the mirror itself.
// Client errors other than 429 concern the symbol, not the host.
func mirrorHealthy(err error) bool {
	if err == nil {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
	}
	return false
}
