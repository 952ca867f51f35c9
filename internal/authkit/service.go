package authkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/devhabit/devhabit/internal/identity"
)

// ErrUnauthorized covers every credential or refresh failure the caller must not distinguish.
var ErrUnauthorized = errors.New("auth.unauthorized")

// ValidationError reports registration input rejected by the credential store, keyed by code.
type ValidationError struct {
	Errors map[string]string
}

func (validationError *ValidationError) Error() string {
	codes := make([]string, 0, len(validationError.Errors))
	for code := range validationError.Errors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return "auth.validation: " + strings.Join(codes, ",")
}

type fieldErrorReporter interface {
	FieldErrors() map[string]string
}

// RegisterRequest carries a new account's credentials.
type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

// LoginRequest carries credentials to verify.
type LoginRequest struct {
	Email    string
	Password string
}

// RefreshRequest carries the refresh token to exchange.
type RefreshRequest struct {
	RefreshToken string
}

// Service implements registration, login and refresh-token rotation.
type Service struct {
	coordinator *Coordinator
	tokens      *TokenProvider
	options     JWTAuthOptions
	clock       Clock
	metrics     MetricsRecorder
}

// NewService wires the service. A nil clock uses the system clock and nil metrics are discarded.
func NewService(coordinator *Coordinator, options JWTAuthOptions, clock Clock, metrics MetricsRecorder) (*Service, error) {
	if coordinator == nil {
		return nil, errors.New("auth.service.nil_coordinator")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	provider, err := NewTokenProvider(options, clock)
	if err != nil {
		return nil, err
	}
	return &Service{
		coordinator: coordinator,
		tokens:      provider,
		options:     options,
		clock:       clock,
		metrics:     metrics,
	}, nil
}

// Register creates the credential, the linked profile and the first refresh token in one transaction.
func (service *Service) Register(ctx context.Context, request RegisterRequest) (AccessTokens, error) {
	email := strings.TrimSpace(request.Email)
	name := strings.TrimSpace(request.Name)

	var issued AccessTokens
	err := service.coordinator.WithinTransaction(ctx, func(ctx context.Context, stores Stores) error {
		subjectID, createErr := stores.Credentials.Create(ctx, email, name, request.Password)
		if createErr != nil {
			var reporter fieldErrorReporter
			if errors.As(createErr, &reporter) {
				return &ValidationError{Errors: reporter.FieldErrors()}
			}
			return fmt.Errorf("auth.register.credentials: %w", createErr)
		}
		if _, profileErr := stores.Profiles.Create(ctx, subjectID, email, name); profileErr != nil {
			return fmt.Errorf("auth.register.profile: %w", profileErr)
		}
		tokens, issueErr := service.issue(ctx, stores.RefreshTokens, subjectID, email)
		if issueErr != nil {
			return fmt.Errorf("auth.register.tokens: %w", issueErr)
		}
		issued = tokens
		return nil
	})
	if err != nil {
		var validationError *ValidationError
		if errors.As(err, &validationError) {
			service.metrics.Increment(metricRegisterInvalid)
		}
		return AccessTokens{}, err
	}
	service.metrics.Increment(metricRegisterSuccess)
	return issued, nil
}

// Login verifies credentials and starts a new, independent refresh token chain.
func (service *Service) Login(ctx context.Context, request LoginRequest) (AccessTokens, error) {
	stores := service.coordinator.Stores()
	subjectID, email, verifyErr := stores.Credentials.Verify(ctx, strings.TrimSpace(request.Email), request.Password)
	if verifyErr != nil {
		if errors.Is(verifyErr, identity.ErrInvalidCredentials) {
			service.metrics.Increment(metricLoginFailure)
			return AccessTokens{}, ErrUnauthorized
		}
		return AccessTokens{}, fmt.Errorf("auth.login.verify: %w", verifyErr)
	}
	tokens, issueErr := service.issue(ctx, stores.RefreshTokens, subjectID, email)
	if issueErr != nil {
		return AccessTokens{}, fmt.Errorf("auth.login.tokens: %w", issueErr)
	}
	service.metrics.Increment(metricLoginSuccess)
	return tokens, nil
}

// Refresh exchanges a live refresh token for a new pair, rotating the stored row in place.
// Unknown, expired and already-rotated tokens are all ErrUnauthorized.
func (service *Service) Refresh(ctx context.Context, request RefreshRequest) (AccessTokens, error) {
	tokens, err := service.refresh(ctx, request)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			service.metrics.Increment(metricRefreshFailure)
		}
		return AccessTokens{}, err
	}
	service.metrics.Increment(metricRefreshSuccess)
	return tokens, nil
}

func (service *Service) refresh(ctx context.Context, request RefreshRequest) (AccessTokens, error) {
	stores := service.coordinator.Stores()
	record, findErr := stores.RefreshTokens.FindByValue(ctx, request.RefreshToken)
	if findErr != nil {
		if errors.Is(findErr, ErrRefreshTokenNotFound) || errors.Is(findErr, ErrRefreshTokenEmptyOpaque) {
			return AccessTokens{}, fmt.Errorf("%w: %w", ErrUnauthorized, findErr)
		}
		return AccessTokens{}, fmt.Errorf("auth.refresh.find: %w", findErr)
	}

	now := service.clock.Now().UTC()
	if record.ExpiresAtUTC.Before(now) {
		return AccessTokens{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrRefreshTokenExpired)
	}

	email, emailErr := stores.Credentials.Email(ctx, record.UserID)
	if emailErr != nil {
		if errors.Is(emailErr, identity.ErrSubjectNotFound) {
			return AccessTokens{}, fmt.Errorf("%w: %w", ErrUnauthorized, emailErr)
		}
		return AccessTokens{}, fmt.Errorf("auth.refresh.subject: %w", emailErr)
	}

	tokens, mintErr := service.tokens.Create(TokenRequest{SubjectID: record.UserID, Email: email})
	if mintErr != nil {
		return AccessTokens{}, fmt.Errorf("auth.refresh.mint: %w", mintErr)
	}
	rotateErr := stores.RefreshTokens.Rotate(ctx, record, tokens.RefreshToken, now.Add(service.options.RefreshTTL))
	if rotateErr != nil {
		if errors.Is(rotateErr, ErrRefreshTokenStale) {
			return AccessTokens{}, fmt.Errorf("%w: %w", ErrUnauthorized, rotateErr)
		}
		return AccessTokens{}, fmt.Errorf("auth.refresh.rotate: %w", rotateErr)
	}
	return tokens, nil
}

func (service *Service) issue(ctx context.Context, refreshTokens RefreshTokenStore, subjectID string, email string) (AccessTokens, error) {
	tokens, mintErr := service.tokens.Create(TokenRequest{SubjectID: subjectID, Email: email})
	if mintErr != nil {
		return AccessTokens{}, mintErr
	}
	expiresAt := service.clock.Now().UTC().Add(service.options.RefreshTTL)
	if _, err := refreshTokens.Create(ctx, subjectID, tokens.RefreshToken, expiresAt); err != nil {
		return AccessTokens{}, err
	}
	return tokens, nil
}
