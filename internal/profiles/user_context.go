package profiles

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// ProfileFinder looks profiles up by identity id.
type ProfileFinder interface {
	FindByIdentityID(ctx context.Context, identityID string) (Profile, error)
}

// UserContext maps authenticated identity ids to profile ids.
// Profiles are never re-linked, so cached entries only expire to bound memory.
type UserContext struct {
	finder ProfileFinder
	cache  *cache.Cache
}

// NewUserContext builds a resolver caching entries for ttl.
func NewUserContext(finder ProfileFinder, ttl time.Duration) *UserContext {
	return &UserContext{
		finder: finder,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// UserID returns the profile id for the identity, or ErrProfileNotFound.
func (userContext *UserContext) UserID(ctx context.Context, identityID string) (string, error) {
	if identityID == "" {
		return "", ErrProfileNotFound
	}
	if cached, found := userContext.cache.Get(identityID); found {
		if profileID, ok := cached.(string); ok {
			return profileID, nil
		}
	}
	profile, err := userContext.finder.FindByIdentityID(ctx, identityID)
	if err != nil {
		return "", err
	}
	userContext.cache.SetDefault(identityID, profile.ID)
	return profile.ID, nil
}
