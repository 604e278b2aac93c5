package quote

// Stats summarises one Resolve call.
type Stats struct {
	Requested int
	Fresh     int
	Joined    int
	LastKnown int
	Missing   int
	// Fetched counts newly stored quotes by the source that produced them.
	Fetched map[Tag]int
}

// Observer receives a Stats for every Resolve call that reaches the store.
type Observer interface {
	ObserveResolve(Stats)
}

// WithObserver reports resolution statistics to o.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}
