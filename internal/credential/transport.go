package credential

import (
	"strings"
	"time"

	"github.com/ahmethakanbesel/quotecache/internal/apperror"
)

type SaveRequest struct {
	UserID      string
	APIKey      string
	AccessToken string
	ExpiresAt   *time.Time
}

func (r SaveRequest) Validate(now time.Time) *apperror.AppError {
	if strings.TrimSpace(r.UserID) == "" {
		return apperror.New(apperror.BadRequest, "user id is required")
	}
	if strings.TrimSpace(r.APIKey) == "" {
		return apperror.New(apperror.BadRequest, "apiKey is required")
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return apperror.New(apperror.BadRequest, "accessToken is required")
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return apperror.New(apperror.BadRequest, "expiresAt must be in the future")
	}
	return nil
}

type DeleteRequest struct {
	UserID string
}

func (r DeleteRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.UserID) == "" {
		return apperror.New(apperror.BadRequest, "user id is required")
	}
	return nil
}
