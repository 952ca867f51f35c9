package profiles

import (
	"errors"
	"net/http"

	"github.com/devhabit/devhabit/pkg/accesstoken"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleCurrentUser resolves the authenticated user's profile payload.
func HandleCurrentUser(logger *zap.Logger, profiles ProfileFinder) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiles == nil {
		panic("profile store is required")
	}

	return func(contextGin *gin.Context) {
		claims, found := accesstoken.ClaimsFromContext(contextGin)
		if !found || claims.GetSubjectID() == "" {
			logger.Warn("missing auth claims on context",
				zap.String("code", "api.users_me.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		profile, profileErr := profiles.FindByIdentityID(contextGin.Request.Context(), claims.GetSubjectID())
		if profileErr != nil {
			if errors.Is(profileErr, ErrProfileNotFound) {
				logger.Warn("user profile missing",
					zap.String("code", "api.users_me.profile_missing"),
					zap.String("identity_id", claims.GetSubjectID()))
				contextGin.AbortWithStatus(http.StatusNotFound)
				return
			}
			logger.Error("user profile lookup error",
				zap.String("code", "api.users_me.profile_error"),
				zap.String("identity_id", claims.GetSubjectID()),
				zap.Error(profileErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"id":           profile.ID,
			"email":        profile.Email,
			"name":         profile.Name,
			"createdAtUtc": profile.CreatedAtUTC,
			"updatedAtUtc": profile.UpdatedAtUTC,
		})
	}
}
