package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/quotecache/internal/quote"
)

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// hitLog records "<mirror>:<wire symbol>" across every test mirror in arrival order.
type hitLog struct {
	mu   sync.Mutex
	hits []string
}

func (l *hitLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits = append(l.hits, s)
}

func (l *hitLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.hits...)
}

func (l *hitLog) count(prefix string) int {
	n := 0
	for _, h := range l.list() {
		if strings.HasPrefix(h, prefix) {
			n++
		}
	}
	return n
}

// newMirror starts a chart API mirror. handle receives the wire symbol.
func newMirror(t *testing.T, name string, log *hitLog, handle func(w http.ResponseWriter, r *http.Request, wire string)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wire := strings.TrimPrefix(r.URL.Path, chartPath)
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("expected interval=1d, got %q", r.URL.Query().Get("interval"))
		}
		log.add(name + ":" + wire)
		handle(w, r, wire)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeMeta(w http.ResponseWriter, fields string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"chart":{"result":[{"meta":{%s}}],"error":null}}`, fields)
}

func priceMeta(price, prevClose float64) string {
	return fmt.Sprintf(`"regularMarketPrice":%v,"chartPreviousClose":%v,"regularMarketVolume":1000`, price, prevClose)
}

type sink struct {
	mu  sync.Mutex
	got []quote.Quote
	err error
}

func (s *sink) emit(_ context.Context, q quote.Quote) (quote.Quote, error) {
	if s.err != nil {
		return quote.Quote{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, q)
	return q, nil
}

func newSource(opts ...Option) *Source {
	base := []Option{WithClock(func() time.Time { return testNow }), WithSuffix("")}
	return New(append(base, opts...)...)
}

func TestTryResolve_MirrorFailoverScenario(t *testing.T) {
	log := &hitLog{}
	m1 := newMirror(t, "m1", log, func(w http.ResponseWriter, r *http.Request, wire string) {
		switch wire {
		case "AAA":
			writeMeta(w, priceMeta(100.0, 95.0))
		case "BBB":
			<-r.Context().Done() // hang until the client gives up
		}
	})
	m2 := newMirror(t, "m2", log, func(w http.ResponseWriter, r *http.Request, wire string) {
		if wire != "BBB" {
			t.Errorf("mirror 2 should only be asked for BBB, got %s", wire)
		}
		writeMeta(w, priceMeta(50.0, 52.0))
	})

	s := newSource(WithMirrors(m1.URL, m2.URL), WithTimeout(100*time.Millisecond))
	out := &sink{}
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"AAA", "BBB"}}, out.emit)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, out.got, 2, "every resolved symbol is emitted")

	aaa := got["AAA"]
	require.Equal(t, "100", aaa.Price.String())
	require.Equal(t, "5", aaa.Change.String())
	require.Equal(t, "5.26", aaa.ChangePct.String())
	require.Equal(t, quote.TagFallback, aaa.Source)
	require.Equal(t, testNow, aaa.UpdatedAt)

	bbb := got["BBB"]
	require.Equal(t, "50", bbb.Price.String())
	require.Equal(t, "-2", bbb.Change.String())
	require.Equal(t, "-3.85", bbb.ChangePct.String())
	require.Equal(t, int64(1000), bbb.Volume)

	hits := log.list()
	first := -1
	for i, h := range hits {
		if h == "m1:BBB" {
			first = i
		}
		if h == "m2:BBB" {
			require.GreaterOrEqual(t, first, 0, "mirror 1 must be tried before mirror 2")
		}
	}
}

func TestTryResolve_ServerErrorFailsOver(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	b := newMirror(t, "b", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(10, 8))
	})

	s := newSource(WithMirrors(a.URL, b.URL))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"XYZ"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Equal(t, "10", got["XYZ"].Price.String())
	require.Equal(t, []string{"a:XYZ", "b:XYZ"}, log.list())
}

func TestTryResolve_MalformedFailsOver(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	})
	b := newMirror(t, "b", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(3, 3))
	})

	s := newSource(WithMirrors(a.URL, b.URL))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"XYZ"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Contains(t, got, "XYZ")
	require.True(t, got["XYZ"].ChangePct.IsZero())
}

func TestTryResolve_MissingPriceIsNoData(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, `"chartPreviousClose":12.0`)
	})
	b := newMirror(t, "b", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(1, 1))
	})

	s := newSource(WithMirrors(a.URL, b.URL))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"XYZ"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Zero(t, log.count("b:"), "no data is an answer, not a mirror failure")
}

func TestTryResolve_AllMirrorsFail(t *testing.T) {
	log := &hitLog{}
	down := func(w http.ResponseWriter, _ *http.Request, _ string) { w.WriteHeader(http.StatusBadGateway) }
	a := newMirror(t, "a", log, down)
	b := newMirror(t, "b", log, down)

	s := newSource(WithMirrors(a.URL, b.URL))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"XYZ"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, []string{"a:XYZ", "b:XYZ"}, log.list())
}

func TestTryResolve_PreviousCloseFallback(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, `"regularMarketPrice":44,"previousClose":40,"regularMarketVolume":12345`)
	})

	s := newSource(WithMirrors(a.URL))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"XYZ"}}, (&sink{}).emit)
	require.NoError(t, err)
	q := got["XYZ"]
	require.Equal(t, "4", q.Change.String())
	require.Equal(t, "10", q.ChangePct.String())
	require.Equal(t, int64(12345), q.Volume)
}

func TestTryResolve_AppliesSuffix(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(1, 1))
	})

	s := New(WithMirrors(a.URL), WithSuffix(".NS"))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"INFY", "^NSEI"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Contains(t, got, "INFY", "results are keyed by internal symbol")
	require.Contains(t, got, "^NSEI")
	require.ElementsMatch(t, []string{"a:INFY.NS", "a:^NSEI"}, log.list())
}

func TestTryResolve_BoundedBatches(t *testing.T) {
	var inFlight, peak atomic.Int32
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		writeMeta(w, priceMeta(1, 1))
	})

	s := newSource(WithMirrors(a.URL), WithBatchSize(5))
	symbols := []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7"}
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: symbols}, (&sink{}).emit)
	require.NoError(t, err)
	require.Len(t, got, len(symbols))
	require.LessOrEqual(t, peak.Load(), int32(5))
}

func TestTryResolve_EmitErrorIsReturned(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(1, 1))
	})

	storeErr := errors.New("store down")
	s := newSource(WithMirrors(a.URL))
	_, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"XYZ"}}, (&sink{err: storeErr}).emit)
	require.ErrorIs(t, err, storeErr)
}

func TestTryResolve_BreakerSkipsFailingMirror(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	b := newMirror(t, "b", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(1, 1))
	})

	s := newSource(WithMirrors(a.URL, b.URL), WithBatchSize(1), WithBreaker(1, time.Minute))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"AAA", "BBB"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, log.count("a:"), "open circuit must skip mirror a")
	require.Equal(t, 2, log.count("b:"))
}

func TestTryResolve_NotFoundDoesNotTripBreaker(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, wire string) {
		if wire == "GONE" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeMeta(w, priceMeta(1, 1))
	})

	s := newSource(WithMirrors(a.URL), WithBatchSize(1), WithBreaker(1, time.Minute))
	got, err := s.TryResolve(context.Background(), quote.Request{Symbols: []string{"GONE", "OK"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.NotContains(t, got, "GONE")
	require.Contains(t, got, "OK")
	require.Equal(t, []string{"a:GONE", "a:OK"}, log.list())
}

func TestTryResolve_LimiterPacesRequests(t *testing.T) {
	log := &hitLog{}
	a := newMirror(t, "a", log, func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeMeta(w, priceMeta(1, 1))
	})

	// One token, refilled hourly: the second symbol cannot be fetched in time.
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	s := newSource(WithMirrors(a.URL), WithBatchSize(1), WithLimiter(lim), WithTimeout(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	got, err := s.TryResolve(ctx, quote.Request{Symbols: []string{"AAA", "BBB"}}, (&sink{}).emit)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Contains(t, got, "AAA")
	require.Equal(t, 1, log.count("a:"))
}

func TestWireSymbol(t *testing.T) {
	tests := []struct {
		symbol, suffix, want string
	}{
		{"INFY", ".NS", "INFY.NS"},
		{" infy ", ".ns", "INFY.NS"},
		{"INFY.BO", ".NS", "INFY.BO"},
		{"^NSEI", ".NS", "^NSEI"},
		{"USDINR=X", ".NS", "USDINR=X"},
		{"AAPL", "", "AAPL"},
	}

	for _, tt := range tests {
		if got := WireSymbol(tt.symbol, tt.suffix); got != tt.want {
			t.Errorf("WireSymbol(%q, %q) = %q, want %q", tt.symbol, tt.suffix, got, tt.want)
		}
	}
}

func TestTag(t *testing.T) {
	require.Equal(t, quote.TagFallback, New().Tag())
}
