package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Save stores (or replaces) the broker credentials of a user.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*Credential, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	c := &Credential{
		UserID:      strings.TrimSpace(req.UserID),
		APIKey:      strings.TrimSpace(req.APIKey),
		AccessToken: strings.TrimSpace(req.AccessToken),
		ExpiresAt:   req.ExpiresAt,
		UpdatedAt:   s.now().UTC(),
	}
	if c.ExpiresAt != nil {
		exp := c.ExpiresAt.UTC()
		c.ExpiresAt = &exp
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	slog.Info("stored broker credentials", "user", c.UserID, "expires", c.ExpiresAt)
	return c, nil
}

// Delete removes a user's broker credentials. Deleting absent credentials
// is not an error.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, strings.TrimSpace(req.UserID)); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
