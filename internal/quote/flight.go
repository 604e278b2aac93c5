package quote

import (
	"context"
	"sync"
)

// flight is one in-progress upstream fetch of a symbol.
type flight struct {
	done chan struct{}
	q    Quote
	ok   bool
	err  error
}

// wait blocks until the flight lands or ctx ends. A cancelled wait reports
// the symbol as unresolved.
func (f *flight) wait(ctx context.Context) (Quote, bool, error) {
	select {
	case <-f.done:
		return f.q, f.ok, f.err
	case <-ctx.Done():
		return Quote{}, false, nil
	}
}

// flights tracks at most one in-progress fetch per symbol across all
// concurrent resolves.
type flights struct {
	mu    sync.Mutex
	m     map[string]*flight
	joins int
}

func newFlights() *flights {
	return &flights{m: make(map[string]*flight)}
}

// claim registers a flight for every symbol nobody is fetching yet (owned)
// and returns the existing flights for the rest (joined).
func (fs *flights) claim(symbols []string) (owned, joined map[string]*flight) {
	owned = make(map[string]*flight, len(symbols))
	joined = make(map[string]*flight)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, s := range symbols {
		if f, ok := fs.m[s]; ok {
			joined[s] = f
			fs.joins++
			continue
		}
		f := &flight{done: make(chan struct{})}
		fs.m[s] = f
		owned[s] = f
	}
	return owned, joined
}

// land publishes the outcome of f and releases the symbol. Landing a flight
// that already landed is a no-op.
func (fs *flights) land(symbol string, f *flight, q Quote, ok bool, err error) {
	if f == nil {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.m[symbol] != f {
		return
	}
	delete(fs.m, symbol)
	f.q, f.ok, f.err = q, ok, err
	close(f.done)
}

func (fs *flights) inFlight() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.m)
}

// joinCount reports how many symbol claims attached to an existing flight.
func (fs *flights) joinCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.joins
}
