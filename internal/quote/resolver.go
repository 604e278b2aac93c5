package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Resolver answers "what is the current price of these symbols" from the
// store when fresh, otherwise from its sources in priority order.
type Resolver struct {
	store    Store
	sources  []Source
	ttl      time.Duration
	now      func() time.Time
	flights  *flights
	observer Observer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock sets the time source used for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver over store. Sources are tried in the given
// order; put the most preferred first.
func NewResolver(store Store, sources []Source, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		sources: sources,
		ttl:     DefaultTTL,
		now:     time.Now,
		flights: newFlights(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetPrice returns the quote for one symbol, if any is known.
func (r *Resolver) GetPrice(ctx context.Context, symbol string) (Quote, bool, error) {
	return r.ResolveOne(ctx, symbol)
}

// GetPrices returns quotes for symbols, using userID's credentialed sources
// when given.
func (r *Resolver) GetPrices(ctx context.Context, symbols []string, userID string) (map[string]Quote, error) {
	return r.Resolve(ctx, symbols, userID)
}

// ResolveOne resolves a single symbol without a user-scoped source.
func (r *Resolver) ResolveOne(ctx context.Context, symbol string) (Quote, bool, error) {
	res, err := r.Resolve(ctx, []string{symbol}, "")
	if err != nil {
		return Quote{}, false, err
	}
	for _, q := range res {
		return q, true, nil
	}
	return Quote{}, false, nil
}

// Resolve returns the best known quote for every symbol it can. Fresh stored
// quotes are served as-is; the rest are refetched, and a symbol no source
// could refresh falls back to its stale stored value. Symbols never seen by
// any source are absent. The only error is ErrStoreUnavailable.
func (r *Resolver) Resolve(ctx context.Context, symbols []string, userID string) (map[string]Quote, error) {
	syms := NormalizeSymbols(symbols)
	result := make(map[string]Quote, len(syms))
	if len(syms) == 0 {
		return result, nil
	}

	stored, err := r.store.Get(ctx, syms)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	stats := Stats{Requested: len(syms), Fetched: make(map[Tag]int)}

	now := r.now()
	stale := make([]string, 0, len(syms))
	for _, s := range syms {
		if q, ok := stored[s]; ok && IsFresh(q.UpdatedAt, now, r.ttl) {
			result[s] = q
			continue
		}
		stale = append(stale, s)
	}
	stats.Fresh = len(syms) - len(stale)
	if len(stale) == 0 {
		r.observe(stats)
		return result, nil
	}

	owned, joined := r.flights.claim(stale)

	if len(owned) > 0 {
		landed, err := r.recheck(ctx, stale, owned)
		if err != nil {
			return nil, err
		}
		for s, q := range landed {
			result[s] = q
		}
		stats.Fresh += len(landed)
	}

	if len(owned) > 0 {
		fetched, err := r.refresh(ctx, stale, owned, userID)
		if err != nil {
			return nil, err
		}
		for s, q := range fetched {
			result[s] = q
			stats.Fetched[q.Source]++
		}
	}

	for s, f := range joined {
		q, ok, err := f.wait(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			result[s] = q
			stats.Joined++
		}
	}

	for _, s := range stale {
		if _, ok := result[s]; ok {
			continue
		}
		if q, ok := stored[s]; ok {
			result[s] = q
			stats.LastKnown++
		}
	}

	slog.Debug("resolved quotes",
		"requested", stats.Requested,
		"fresh", stats.Fresh,
		"claimed", len(owned),
		"joined", stats.Joined,
		"last_known", stats.LastKnown,
		"missing", len(syms)-len(result),
	)
	stats.Missing = len(syms) - len(result)
	r.observe(stats)
	return result, nil
}

// recheck re-reads the owned symbols after the claim. A symbol another
// resolve stored in the meantime is landed with that record and dropped from
// owned. On a store failure every owned flight is landed with the error.
func (r *Resolver) recheck(ctx context.Context, order []string, owned map[string]*flight) (map[string]Quote, error) {
	syms := make([]string, 0, len(owned))
	for _, s := range order {
		if _, ok := owned[s]; ok {
			syms = append(syms, s)
		}
	}

	current, err := r.store.Get(ctx, syms)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		for s, f := range owned {
			r.flights.land(s, f, Quote{}, false, err)
		}
		return nil, err
	}

	now := r.now()
	landed := make(map[string]Quote)
	for _, s := range syms {
		q, ok := current[s]
		if !ok || !IsFresh(q.UpdatedAt, now, r.ttl) {
			continue
		}
		r.flights.land(s, owned[s], q, true, nil)
		delete(owned, s)
		landed[s] = q
	}
	return landed, nil
}

func (r *Resolver) observe(s Stats) {
	if r.observer != nil {
		r.observer.ObserveResolve(s)
	}
}

// refresh runs the owned symbols through the sources in order. Every owned
// flight is landed before refresh returns.
func (r *Resolver) refresh(ctx context.Context, order []string, owned map[string]*flight, userID string) (resolved map[string]Quote, err error) {
	remaining := make([]string, 0, len(owned))
	for _, s := range order {
		if _, ok := owned[s]; ok {
			remaining = append(remaining, s)
		}
	}

	var mu sync.Mutex
	resolved = make(map[string]Quote, len(remaining))

	defer func() {
		for s, f := range owned {
			r.flights.land(s, f, Quote{}, false, err)
		}
	}()

	emit := func(ctx context.Context, q Quote) (Quote, error) {
		f, ok := owned[q.Symbol]
		if !ok {
			slog.Warn("ignoring quote for unrequested symbol", "symbol", q.Symbol, "source", q.Source)
			return q, nil
		}
		saved, err := r.store.Upsert(ctx, q)
		if err != nil {
			return Quote{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		mu.Lock()
		resolved[saved.Symbol] = saved
		mu.Unlock()
		r.flights.land(saved.Symbol, f, saved, true, nil)
		return saved, nil
	}

	for _, src := range r.sources {
		if len(remaining) == 0 {
			break
		}
		if _, err := src.TryResolve(ctx, Request{Symbols: remaining, UserID: userID}, emit); err != nil {
			if !errors.Is(err, ErrStoreUnavailable) {
				err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
			return nil, err
		}

		mu.Lock()
		next := remaining[:0:0]
		for _, s := range remaining {
			if _, ok := resolved[s]; !ok {
				next = append(next, s)
			}
		}
		mu.Unlock()

		slog.Debug("source pass", "source", src.Tag(), "requested", len(remaining), "unresolved", len(next))
		remaining = next
	}

	return resolved, nil
}
