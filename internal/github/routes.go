package github

import (
	"context"
	"errors"
	"net/http"

	"github.com/devhabit/devhabit/internal/profiles"
	"github.com/devhabit/devhabit/internal/web"
	"github.com/devhabit/devhabit/pkg/accesstoken"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserResolver maps an authenticated subject to the application user id.
type UserResolver interface {
	UserID(ctx context.Context, identityID string) (string, error)
}

// ProfileFetcher loads a GitHub profile with a user's token.
type ProfileFetcher interface {
	UserProfile(ctx context.Context, accessToken string) (UserProfile, error)
}

type storeTokenPayload struct {
	AccessToken   string `json:"accessToken" binding:"required"`
	ExpiresInDays int    `json:"expiresInDays" binding:"required,min=1,max=365"`
}

// MountRoutes registers the /github routes. The router must already enforce access tokens.
func MountRoutes(router gin.IRouter, users UserResolver, tokens *Service, profilesAPI ProfileFetcher, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := routeHandlers{users: users, tokens: tokens, profilesAPI: profilesAPI, logger: logger}

	group := router.Group("/github")
	group.PUT("/personal-access-token", handlers.storeToken)
	group.DELETE("/personal-access-token", handlers.revokeToken)
	group.GET("/profile", handlers.userProfile)
}

type routeHandlers struct {
	users       UserResolver
	tokens      *Service
	profilesAPI ProfileFetcher
	logger      *zap.Logger
}

func (handlers routeHandlers) storeToken(contextGin *gin.Context) {
	userID, ok := handlers.resolveUser(contextGin)
	if !ok {
		return
	}
	var inbound storeTokenPayload
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		web.AbortWithBindingProblem(contextGin, err)
		return
	}
	if err := handlers.tokens.Save(contextGin.Request.Context(), userID, inbound.AccessToken, inbound.ExpiresInDays); err != nil {
		handlers.fail(contextGin, "api.github.store_token", err)
		return
	}
	contextGin.Status(http.StatusNoContent)
}

func (handlers routeHandlers) revokeToken(contextGin *gin.Context) {
	userID, ok := handlers.resolveUser(contextGin)
	if !ok {
		return
	}
	if err := handlers.tokens.Revoke(contextGin.Request.Context(), userID); err != nil {
		handlers.fail(contextGin, "api.github.revoke_token", err)
		return
	}
	contextGin.Status(http.StatusNoContent)
}

func (handlers routeHandlers) userProfile(contextGin *gin.Context) {
	userID, ok := handlers.resolveUser(contextGin)
	if !ok {
		return
	}
	accessToken, err := handlers.tokens.AccessToken(contextGin.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			contextGin.AbortWithStatus(http.StatusNotFound)
			return
		}
		handlers.fail(contextGin, "api.github.profile", err)
		return
	}
	profile, err := handlers.profilesAPI.UserProfile(contextGin.Request.Context(), accessToken)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnauthorized) {
			contextGin.AbortWithStatus(http.StatusNotFound)
			return
		}
		handlers.logger.Warn("github profile lookup failed",
			zap.String("code", "api.github.upstream"),
			zap.String("request_id", web.RequestID(contextGin)),
			zap.Error(err))
		contextGin.AbortWithStatus(http.StatusBadGateway)
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (handlers routeHandlers) resolveUser(contextGin *gin.Context) (string, bool) {
	claims, found := accesstoken.ClaimsFromContext(contextGin)
	if !found {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return "", false
	}
	userID, err := handlers.users.UserID(contextGin.Request.Context(), claims.GetSubjectID())
	if err != nil {
		if errors.Is(err, profiles.ErrProfileNotFound) {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return "", false
		}
		handlers.fail(contextGin, "api.github.user_context", err)
		return "", false
	}
	return userID, true
}

func (handlers routeHandlers) fail(contextGin *gin.Context, code string, err error) {
	handlers.logger.Error("github request failed",
		zap.String("code", code),
		zap.String("request_id", web.RequestID(contextGin)),
		zap.Error(err))
	contextGin.AbortWithStatus(http.StatusInternalServerError)
}
