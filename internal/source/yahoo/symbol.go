package yahoo

import "strings"

// DefaultSuffix is the exchange qualifier for plain tickers (NSE).
const DefaultSuffix = ".NS"

// WireSymbol maps an internal ticker to the chart API's symbol by appending
// the exchange suffix. Symbols that already name an exchange ("INFY.BO"), an
// index ("^NSEI") or a currency pair ("USDINR=X") pass through unchanged.
func WireSymbol(symbol, suffix string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if suffix == "" || strings.ContainsAny(s, ".^=") {
		return s
	}
	return s + strings.ToUpper(suffix)
}
