package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinimumSigningKeyLength is the shortest HS256 key accepted, in bytes.
const MinimumSigningKeyLength = 32

var (
	errMissingSigningKey = errors.New("jwt_options.missing_key")
	errShortSigningKey   = errors.New("jwt_options.short_key")
	errMissingIssuer     = errors.New("jwt_options.missing_issuer")
	errMissingAudience   = errors.New("jwt_options.missing_audience")
	errInvalidAccessTTL  = errors.New("jwt_options.invalid_access_ttl")
	errInvalidRefreshTTL = errors.New("jwt_options.invalid_refresh_ttl")
)

// JWTAuthOptions configures token signing and lifetimes. It is built once at startup and never mutated.
type JWTAuthOptions struct {
	SigningKey     []byte
	Issuer         string
	Audience       string
	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration
}

// Validate reports the first missing or invalid setting.
func (options JWTAuthOptions) Validate() error {
	if len(options.SigningKey) == 0 {
		return fmt.Errorf("jwt_options.validate: %w", errMissingSigningKey)
	}
	if len(options.SigningKey) < MinimumSigningKeyLength {
		return fmt.Errorf("jwt_options.validate: %w", errShortSigningKey)
	}
	if strings.TrimSpace(options.Issuer) == "" {
		return fmt.Errorf("jwt_options.validate: %w", errMissingIssuer)
	}
	if strings.TrimSpace(options.Audience) == "" {
		return fmt.Errorf("jwt_options.validate: %w", errMissingAudience)
	}
	if options.AccessTokenTTL <= 0 {
		return fmt.Errorf("jwt_options.validate: %w", errInvalidAccessTTL)
	}
	if options.RefreshTTL <= 0 {
		return fmt.Errorf("jwt_options.validate: %w", errInvalidRefreshTTL)
	}
	return nil
}
