package quote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/ahmethakanbesel/quotecache/internal/quote"
)

// timeFormat is fixed-width so stored timestamps order lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(symbols)), ", ")
	args := make([]any, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}

	query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
		`SELECT symbol, price, change, change_pct, volume, source, updated_at
		FROM quotes WHERE symbol IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get quotes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out[q.Symbol] = q
	}
	return out, rows.Err()
}

// Upsert writes q unless the stored row carries a later updated_at, and
// returns whichever row is stored afterwards.
func (s *SQLiteStore) Upsert(ctx context.Context, q domain.Quote) (domain.Quote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO quotes (symbol, price, change, change_pct, volume, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			change = excluded.change,
			change_pct = excluded.change_pct,
			volume = excluded.volume,
			source = excluded.source,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= quotes.updated_at`

	if _, err := tx.ExecContext(ctx, upsert,
		q.Symbol, q.Price.String(), q.Change.String(), q.ChangePct.String(),
		q.Volume, string(q.Source), q.UpdatedAt.UTC().Format(timeFormat),
	); err != nil {
		return domain.Quote{}, fmt.Errorf("upsert quote %s: %w", q.Symbol, err)
	}

	row := tx.QueryRowContext(ctx, `SELECT symbol, price, change, change_pct, volume, source, updated_at
		FROM quotes WHERE symbol = ?`, q.Symbol)
	stored, err := scanQuote(row)
	if err != nil {
		return domain.Quote{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Quote{}, fmt.Errorf("commit upsert: %w", err)
	}
	return stored, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuote(sc scanner) (domain.Quote, error) {
	var (
		q                                domain.Quote
		price, change, pct, src, updated string
	)
	if err := sc.Scan(&q.Symbol, &price, &change, &pct, &q.Volume, &src, &updated); err != nil {
		return domain.Quote{}, fmt.Errorf("scan quote: %w", err)
	}

	var err error
	if q.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Quote{}, fmt.Errorf("quote %s price: %w", q.Symbol, err)
	}
	if q.Change, err = decimal.NewFromString(change); err != nil {
		return domain.Quote{}, fmt.Errorf("quote %s change: %w", q.Symbol, err)
	}
	if q.ChangePct, err = decimal.NewFromString(pct); err != nil {
		return domain.Quote{}, fmt.Errorf("quote %s change_pct: %w", q.Symbol, err)
	}
	if q.UpdatedAt, err = time.Parse(timeFormat, updated); err != nil {
		return domain.Quote{}, fmt.Errorf("quote %s updated_at: %w", q.Symbol, err)
	}
	q.Source = domain.Tag(src)
	return q, nil
}
