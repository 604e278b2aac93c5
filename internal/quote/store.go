package quote

import "context"

// Store persists the latest quote per symbol.
type Store interface {
	// Get returns the stored quotes for symbols, fresh or stale. Symbols
	// without a record are absent from the map.
	Get(ctx context.Context, symbols []string) (map[string]Quote, error)

	// Upsert replaces the record for q.Symbol unless the stored record is
	// newer, and returns the record that is stored afterwards.
	Upsert(ctx context.Context, q Quote) (Quote, error)
}
