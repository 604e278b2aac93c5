package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/ahmethakanbesel/quotecache/internal/credential"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Find(ctx context.Context, userID string) (*domain.Credential, error) {
	const query = `SELECT user_id, api_key, access_token, expires_at, updated_at
		FROM broker_credentials WHERE user_id = ?`

	var (
		c          domain.Credential
		expires    sql.NullString
		updatedStr string
	)
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&c.UserID, &c.APIKey, &c.AccessToken, &expires, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find credentials: %w", err)
	}

	if expires.Valid {
		t, err := time.Parse(time.RFC3339Nano, expires.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		c.ExpiresAt = &t
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	c.UpdatedAt = updated
	return &c, nil
}

// Save inserts or replaces the credentials of c.UserID. A zero UpdatedAt is
// set to the current time before writing.
func (r *Repository) Save(ctx context.Context, c *domain.Credential) error {
	const query = `INSERT INTO broker_credentials (user_id, api_key, access_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			api_key = excluded.api_key,
			access_token = excluded.access_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	var expires any
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	updated := c.UpdatedAt.Format(time.RFC3339Nano)

	if _, err := r.db.ExecContext(ctx, query, c.UserID, c.APIKey, c.AccessToken, expires, updated); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM broker_credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
