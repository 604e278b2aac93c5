// Package quote resolves the latest market price of ticker symbols from a
// freshness-bounded store backed by an ordered list of upstream sources.
package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tag identifies the source that produced a quote.
type Tag string

const (
	TagPrimary  Tag = "primary"
	TagFallback Tag = "fallback"
)

func (t Tag) Valid() bool { return t == TagPrimary || t == TagFallback }

// Quote is the latest known value for one symbol. It is both the unit of
// storage and the result handed to callers.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"changePct"`
	Volume    int64           `json:"volume"`
	Source    Tag             `json:"source"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

var hundred = decimal.NewFromInt(100)

// Derive computes the absolute and percentage change of price against the
// previous close. A zero previous close yields zero for both.
func Derive(price, prevClose decimal.Decimal) (change, changePct decimal.Decimal) {
	if prevClose.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	change = price.Sub(prevClose)
	changePct = change.Div(prevClose).Mul(hundred).Round(2)
	return change, changePct
}
