// Package credential manages the per-user brokerage credentials that unlock
// the primary quote source.
package credential

import (
	"context"
	"time"
)

type Credential struct {
	UserID      string     `json:"userId"`
	APIKey      string     `json:"-"`
	AccessToken string     `json:"-"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Usable reports whether c can authenticate a request at now: both secrets
// are present and the token, if it expires, has not expired yet.
func (c *Credential) Usable(now time.Time) bool {
	if c == nil || c.APIKey == "" || c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

type Repository interface {
	// Find returns nil, nil when the user has no credentials.
	Find(ctx context.Context, userID string) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, userID string) error
}
