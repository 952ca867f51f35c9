package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devhabit/devhabit/internal/secretbox"
)

const (
	// MinExpiresInDays and MaxExpiresInDays bound a stored token's lifetime.
	MinExpiresInDays = 1
	MaxExpiresInDays = 365
)

var errInvalidTokenInput = errors.New("github.invalid_token_input")

// Service encrypts tokens on the way in and decrypts them on the way out.
type Service struct {
	store *Store
	box   *secretbox.Box
	now   func() time.Time
}

// NewService wires the token service.
func NewService(store *Store, box *secretbox.Box) *Service {
	return &Service{store: store, box: box, now: func() time.Time { return time.Now().UTC() }}
}

// Save encrypts and stores accessToken for userID, valid for expiresInDays.
func (service *Service) Save(ctx context.Context, userID string, accessToken string, expiresInDays int) error {
	if strings.TrimSpace(accessToken) == "" || expiresInDays < MinExpiresInDays || expiresInDays > MaxExpiresInDays {
		return fmt.Errorf("github.save: %w", errInvalidTokenInput)
	}
	sealed, err := service.box.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("github.save: %w", err)
	}
	expiresAt := service.now().AddDate(0, 0, expiresInDays)
	return service.store.Upsert(ctx, userID, sealed, expiresAt)
}

// Revoke forgets the user's token.
func (service *Service) Revoke(ctx context.Context, userID string) error {
	return service.store.Delete(ctx, userID)
}

// AccessToken returns the decrypted token, or ErrTokenNotFound when none is stored or it has expired.
func (service *Service) AccessToken(ctx context.Context, userID string) (string, error) {
	stored, err := service.store.Find(ctx, userID)
	if err != nil {
		return "", err
	}
	if !stored.ExpiresAtUTC.After(service.now()) {
		return "", ErrTokenNotFound
	}
	plain, err := service.box.Decrypt(stored.EncryptedToken)
	if err != nil {
		return "", fmt.Errorf("github.access_token: %w", err)
	}
	return plain, nil
}
