package quote

import "context"

// Request is one batch of symbols handed to a Source.
type Request struct {
	Symbols []string
	// UserID scopes credentialed sources. Empty for anonymous lookups.
	UserID string
}

// Emit persists a freshly fetched quote and returns the stored record.
// Sources call it as soon as each symbol resolves. A non-nil error means the
// store is unavailable and the source must stop and return it.
type Emit func(ctx context.Context, q Quote) (Quote, error)

// Source is one upstream provider of quotes. Resolvers try sources in order,
// handing each the symbols its predecessors did not resolve.
type Source interface {
	Tag() Tag
	// TryResolve returns the quotes it resolved (and emitted), keyed by
	// symbol. Per-symbol failures are not errors; the only error is one
	// returned by emit.
	TryResolve(ctx context.Context, req Request, emit Emit) (map[string]Quote, error)
}
