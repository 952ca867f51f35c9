package authkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devhabit/devhabit/pkg/accesstoken"
	"github.com/golang-jwt/jwt/v5"
)

var errEmptySubject = errors.New("jwt.mint.empty_subject")

// TokenRequest identifies the subject a token pair is issued for.
type TokenRequest struct {
	SubjectID string
	Email     string
}

// AccessTokens is the pair returned to callers. Only the refresh half is persisted.
type AccessTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenProvider mints signed access tokens and fresh opaque refresh tokens.
type TokenProvider struct {
	options JWTAuthOptions
	clock   Clock
}

// NewTokenProvider binds the provider to validated options.
func NewTokenProvider(options JWTAuthOptions, clock Clock) (*TokenProvider, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &TokenProvider{options: options, clock: clock}, nil
}

// Create issues a new access token and a refresh token value that has never been returned before.
func (provider *TokenProvider) Create(request TokenRequest) (AccessTokens, error) {
	accessToken, err := provider.generateAccessToken(request)
	if err != nil {
		return AccessTokens{}, err
	}
	refreshToken, err := generateRefreshOpaque()
	if err != nil {
		return AccessTokens{}, fmt.Errorf("jwt.mint.refresh: %w", err)
	}
	return AccessTokens{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (provider *TokenProvider) generateAccessToken(request TokenRequest) (string, error) {
	if strings.TrimSpace(request.SubjectID) == "" {
		return "", fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	issuedAt := provider.clock.Now().UTC()
	expiresAt := issuedAt.Add(provider.options.AccessTokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accesstoken.Claims{
		Email: request.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    provider.options.Issuer,
			Subject:   request.SubjectID,
			Audience:  jwt.ClaimStrings{provider.options.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(provider.options.SigningKey)
	if err != nil {
		return "", fmt.Errorf("jwt.mint.sign: %w", err)
	}
	return signed, nil
}
