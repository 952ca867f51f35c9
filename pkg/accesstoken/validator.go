package accesstoken

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	Clock      Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_claims"

const bearerPrefix = "Bearer "

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("access_token.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("access_token.validator.missing_issuer")
	ErrMissingAudience   = errors.New("access_token.validator.missing_audience")
	ErrMissingToken      = errors.New("access_token.validator.missing_token")
	ErrMissingHeader     = errors.New("access_token.validator.missing_authorization_header")
	ErrInvalidToken      = errors.New("access_token.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("access_token.validator.invalid_issuer")
	ErrInvalidAudience   = errors.New("access_token.validator.invalid_audience")
	ErrTokenExpired      = errors.New("access_token.validator.expired")
)

// Claims are the verifiable contents of an access token. The JWT subject carries the identity id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// GetSubjectID returns the identity id the token was issued for.
func (claims *Claims) GetSubjectID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// GetEmail returns the email associated with the token.
func (claims *Claims) GetEmail() string {
	if claims == nil {
		return ""
	}
	return claims.Email
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Validator validates bearer access tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	audience   string
	clock      Clock
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("access_token.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("access_token.validator.new: %w", ErrMissingIssuer)
	}
	if strings.TrimSpace(configuration.Audience) == "" {
		return nil, fmt.Errorf("access_token.validator.new: %w", ErrMissingAudience)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		audience:   configuration.Audience,
		clock:      clock,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return validator.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrInvalidIssuer)
	}
	if !slices.Contains(claims.Audience, validator.audience) {
		return nil, fmt.Errorf("access_token.validator.validate_token: %w", ErrInvalidAudience)
	}
	return claims, nil
}

// ValidateRequest reads the bearer token from the Authorization header and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("access_token.validator.validate_request: %w", ErrMissingToken)
	}
	header := request.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, fmt.Errorf("access_token.validator.validate_request: %w", ErrMissingHeader)
	}
	return validator.ValidateToken(strings.TrimSpace(header[len(bearerPrefix):]))
}

// GinMiddleware returns a Gin middleware that validates the bearer token and injects claims.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}

// ClaimsFromContext returns the claims stored by GinMiddleware under the default key.
func ClaimsFromContext(contextGin *gin.Context) (*Claims, bool) {
	value, found := contextGin.Get(DefaultContextKey)
	if !found {
		return nil, false
	}
	claims, ok := value.(*Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}
