package authkit

import (
	"context"
	"time"
)

// CredentialStore owns subjects verified by email and password.
type CredentialStore interface {
	Create(ctx context.Context, email string, name string, password string) (subjectID string, err error)
	Verify(ctx context.Context, email string, password string) (subjectID string, subjectEmail string, err error)
	Email(ctx context.Context, subjectID string) (string, error)
}

// ProfileStore creates the application user linked to a subject.
type ProfileStore interface {
	Create(ctx context.Context, identityID string, email string, name string) (profileID string, err error)
}

// RefreshTokenRecord is one rotating refresh token chain. TokenHash always reflects the current value.
type RefreshTokenRecord struct {
	ID           string
	UserID       string
	TokenHash    string
	ExpiresAtUTC time.Time
	CreatedAtUTC time.Time
	RotatedAtUTC *time.Time
}

// RefreshTokenStore persists refresh tokens and rotates them in place.
type RefreshTokenStore interface {
	Create(ctx context.Context, subjectID string, tokenValue string, expiresAt time.Time) (RefreshTokenRecord, error)
	FindByValue(ctx context.Context, tokenValue string) (RefreshTokenRecord, error)
	Rotate(ctx context.Context, record RefreshTokenRecord, newTokenValue string, newExpiresAt time.Time) error
}
