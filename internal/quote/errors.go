package quote

import "errors"

var (
	// ErrStoreUnavailable wraps every Quote Store failure. It is the only
	// error a resolve ever returns.
	ErrStoreUnavailable = errors.New("quote store unavailable")

	// Per-symbol source failures. Sources log these and move on; they never
	// reach the resolver's caller.
	ErrNotApplicable     = errors.New("source not applicable")
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoData            = errors.New("no data for symbol")
)
