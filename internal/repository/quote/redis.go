package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/ahmethakanbesel/quotecache/internal/quote"
)

const (
	keyPrefix      = "quotecache:quote:"
	maxUpsertTries = 5
)

// RedisStore keeps one JSON document per symbol. Keys never expire.
type RedisStore struct {
	rdb goredis.UniversalClient
}

func NewRedisStore(rdb goredis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func quoteKey(symbol string) string { return keyPrefix + symbol }

func (s *RedisStore) Get(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = quoteKey(sym)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get quotes: %w", err)
	}

	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // nil: no record
		}
		var q domain.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("decode quote %s: %w", symbols[i], err)
		}
		out[q.Symbol] = q
	}
	return out, nil
}

// Upsert writes q unless the stored document is newer. The read and the
// write run under WATCH so a concurrent writer forces a retry.
func (s *RedisStore) Upsert(ctx context.Context, q domain.Quote) (domain.Quote, error) {
	key := quoteKey(q.Symbol)
	q.UpdatedAt = q.UpdatedAt.UTC()

	var stored domain.Quote
	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			var cur domain.Quote
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode quote %s: %w", q.Symbol, err)
			}
			if cur.UpdatedAt.After(q.UpdatedAt) {
				stored = cur
				return nil
			}
		}

		doc, err := json.Marshal(q)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		if err == nil {
			stored = q
		}
		return err
	}

	for range maxUpsertTries {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return stored, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return domain.Quote{}, fmt.Errorf("upsert quote %s: %w", q.Symbol, err)
	}
	return domain.Quote{}, fmt.Errorf("upsert quote %s: %w", q.Symbol, goredis.TxFailedErr)
}
