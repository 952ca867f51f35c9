package authkit

import (
	"context"
	"errors"
	"net/http"

	"github.com/devhabit/devhabit/internal/web"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Authenticator is the behaviour the auth routes delegate to. *Service implements it.
type Authenticator interface {
	Register(ctx context.Context, request RegisterRequest) (AccessTokens, error)
	Login(ctx context.Context, request LoginRequest) (AccessTokens, error)
	Refresh(ctx context.Context, request RefreshRequest) (AccessTokens, error)
}

type registerPayload struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginPayload struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshPayload struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

const registrationProblemTitle = "One or more validation errors occurred."

// MountAuthRoutes registers /auth/register, /auth/login and /auth/refresh.
func MountAuthRoutes(router gin.IRouter, authenticator Authenticator, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound registerPayload
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			web.AbortWithBindingProblem(contextGin, err)
			return
		}
		tokens, err := authenticator.Register(contextGin.Request.Context(), RegisterRequest{
			Email:    inbound.Email,
			Name:     inbound.Name,
			Password: inbound.Password,
		})
		if err != nil {
			var validationError *ValidationError
			if errors.As(err, &validationError) {
				web.AbortWithProblem(contextGin, http.StatusBadRequest, registrationProblemTitle, validationError.Errors)
				return
			}
			abortWithAuthError(contextGin, logger, "auth.register", err)
			return
		}
		contextGin.JSON(http.StatusOK, tokens)
	})

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound loginPayload
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			web.AbortWithBindingProblem(contextGin, err)
			return
		}
		tokens, err := authenticator.Login(contextGin.Request.Context(), LoginRequest{
			Email:    inbound.Email,
			Password: inbound.Password,
		})
		if err != nil {
			abortWithAuthError(contextGin, logger, "auth.login", err)
			return
		}
		contextGin.JSON(http.StatusOK, tokens)
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound refreshPayload
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			web.AbortWithBindingProblem(contextGin, err)
			return
		}
		tokens, err := authenticator.Refresh(contextGin.Request.Context(), RefreshRequest{
			RefreshToken: inbound.RefreshToken,
		})
		if err != nil {
			abortWithAuthError(contextGin, logger, "auth.refresh", err)
			return
		}
		contextGin.JSON(http.StatusOK, tokens)
	})
}

func abortWithAuthError(contextGin *gin.Context, logger *zap.Logger, operation string, err error) {
	if errors.Is(err, ErrUnauthorized) {
		logger.Debug("auth rejected",
			zap.String("code", operation+".unauthorized"),
			zap.String("request_id", web.RequestID(contextGin)),
			zap.Error(err))
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	logger.Error("auth failure",
		zap.String("code", operation+".failure"),
		zap.String("request_id", web.RequestID(contextGin)),
		zap.Error(err))
	contextGin.AbortWithStatus(http.StatusInternalServerError)
}
