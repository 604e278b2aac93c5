package quote

import "time"

// DefaultTTL is how long a stored quote is served without refetching.
const DefaultTTL = 60 * time.Second

// IsFresh reports whether a quote stored at updatedAt may still be served at
// now. A quote exactly ttl old is stale.
func IsFresh(updatedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(updatedAt) < ttl
}
