package services

import (
	"context"

	"github.com/anonto42/nearme/backend/internal/repositories"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// NameResolver picks the display name shown for a user: live presence name,
// then profile name (cached), then a name derived from the id.
type NameResolver struct {
	presence repositories.PresenceRepository
	profiles repositories.ProfileRepository
	cache    *lru.Cache
	log      *zap.Logger
}

// NewNameResolver accepts nil repositories; lookups against them are skipped.
func NewNameResolver(presence repositories.PresenceRepository, profiles repositories.ProfileRepository, cacheSize int, log *zap.Logger) (*NameResolver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NameResolver{presence: presence, profiles: profiles, cache: cache, log: log}, nil
}

// FallbackName is "User " followed by the first 8 characters of userID.
func FallbackName(userID string) string {
	if len(userID) > 8 {
		userID = userID[:8]
	}
	return "User " + userID
}

func (r *NameResolver) DisplayName(ctx context.Context, userID string) string {
	if r == nil {
		return FallbackName(userID)
	}

	if r.presence != nil {
		p, err := r.presence.GetPresence(ctx, userID)
		if err != nil {
			r.log.Debug("presence lookup failed", zap.String("user", userID), zap.Error(err))
		} else if p != nil && p.DisplayName != "" {
			return p.DisplayName
		}
	}

	if v, ok := r.cache.Get(userID); ok {
		return v.(string)
	}

	if r.profiles != nil {
		p, err := r.profiles.GetProfileByUID(userID)
		if err == nil && p.DisplayName != "" {
			r.cache.Add(userID, p.DisplayName)
			return p.DisplayName
		}
	}
	return FallbackName(userID)
}

// Forget drops the cached profile name, e.g. after a profile update.
func (r *NameResolver) Forget(userID string) {
	if r != nil {
		r.cache.Remove(userID)
	}
}
