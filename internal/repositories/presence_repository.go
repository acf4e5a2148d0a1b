package repositories

import (
	"context"
	"strconv"
	"time"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// PresenceRepository tracks who is visible in the nearby feed.
type PresenceRepository interface {
	UpdatePresence(ctx context.Context, userID, displayName string, visible bool) (*models.Presence, error)
	SetVisibility(ctx context.Context, userID string, visible bool) error
	UpdateLocation(ctx context.Context, userID string, loc models.Location) error
	// GetPresence returns nil, nil for users with no live presence.
	GetPresence(ctx context.Context, userID string) (*models.Presence, error)
	NearbyUsers(ctx context.Context, excludeUserID string, limit int) ([]models.Presence, error)
	RemovePresence(ctx context.Context, userID string) error
}

// Page sizes for NearbyUsers.
const (
	DefaultNearbyLimit = 50
	MaxNearbyLimit     = 100
)

const (
	presenceKeyPrefix = "presence:"
	presenceVisible   = "presence:visible"

	hUserID      = "userId"
	hDisplayName = "displayName"
	hVisible     = "isVisible"
	hLastSeen    = "lastSeen"
	hLatitude    = "latitude"
	hLongitude   = "longitude"
	hAccuracy    = "accuracy"
)

// RedisPresenceRepository keeps one hash per user, expiring after ttl, and a
// sorted set of visible users scored by lastSeen in milliseconds.
type RedisPresenceRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresenceRepository(rdb *redis.Client, ttl time.Duration) *RedisPresenceRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisPresenceRepository{rdb: rdb, ttl: ttl}
}

func presenceKey(userID string) string { return presenceKeyPrefix + userID }

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// serverTime reads the Redis clock so lastSeen does not depend on API host clocks.
func (r *RedisPresenceRepository) serverTime(ctx context.Context) (time.Time, error) {
	t, err := r.rdb.Time(ctx).Result()
	if err != nil {
		return time.Time{}, classify(err, "redis time")
	}
	return t, nil
}

func (r *RedisPresenceRepository) UpdatePresence(ctx context.Context, userID, displayName string, visible bool) (*models.Presence, error) {
	now, err := r.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	key := presenceKey(userID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			hUserID, userID,
			hDisplayName, displayName,
			hVisible, boolField(visible),
			hLastSeen, strconv.FormatInt(now.UnixMilli(), 10),
		)
		pipe.Expire(ctx, key, r.ttl)
		if visible {
			pipe.ZAdd(ctx, presenceVisible, redis.Z{Score: float64(now.UnixMilli()), Member: userID})
		} else {
			pipe.ZRem(ctx, presenceVisible, userID)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "update presence")
	}
	return r.GetPresence(ctx, userID)
}

func (r *RedisPresenceRepository) SetVisibility(ctx context.Context, userID string, visible bool) error {
	now, err := r.serverTime(ctx)
	if err != nil {
		return err
	}

	key := presenceKey(userID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			hUserID, userID,
			hVisible, boolField(visible),
			hLastSeen, strconv.FormatInt(now.UnixMilli(), 10),
		)
		pipe.Expire(ctx, key, r.ttl)
		if visible {
			pipe.ZAdd(ctx, presenceVisible, redis.Z{Score: float64(now.UnixMilli()), Member: userID})
		} else {
			pipe.ZRem(ctx, presenceVisible, userID)
		}
		return nil
	})
	return classify(err, "set visibility")
}

// UpdateLocation refreshes lastSeen too; the visible set is only touched for users already in it.
func (r *RedisPresenceRepository) UpdateLocation(ctx context.Context, userID string, loc models.Location) error {
	now, err := r.serverTime(ctx)
	if err != nil {
		return err
	}

	key := presenceKey(userID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			hUserID, userID,
			hLatitude, strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			hLongitude, strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
			hAccuracy, strconv.FormatFloat(loc.Accuracy, 'f', -1, 64),
			hLastSeen, strconv.FormatInt(now.UnixMilli(), 10),
		)
		pipe.Expire(ctx, key, r.ttl)
		pipe.ZAddXX(ctx, presenceVisible, redis.Z{Score: float64(now.UnixMilli()), Member: userID})
		return nil
	})
	return classify(err, "update location")
}

func (r *RedisPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	fields, err := r.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return nil, classify(err, "get presence")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parsePresence(userID, fields), nil
}

// NearbyUsers lists up to limit visible users by lastSeen, newest first. limit
// is capped at MaxNearbyLimit. Entries older than the ttl are pruned from the
// visible set on the way.
func (r *RedisPresenceRepository) NearbyUsers(ctx context.Context, excludeUserID string, limit int) ([]models.Presence, error) {
	switch {
	case limit <= 0:
		limit = DefaultNearbyLimit
	case limit > MaxNearbyLimit:
		limit = MaxNearbyLimit
	}
	now, err := r.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-r.ttl).UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, presenceVisible, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, classify(err, "prune presence")
	}

	ids, err := r.rdb.ZRevRange(ctx, presenceVisible, 0, int64(limit)).Result()
	if err != nil {
		return nil, classify(err, "nearby users")
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	candidates := make([]string, 0, len(ids))
	pipe := r.rdb.Pipeline()
	for _, id := range ids {
		if id == excludeUserID {
			continue
		}
		candidates = append(candidates, id)
		cmds = append(cmds, pipe.HGetAll(ctx, presenceKey(id)))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, classify(err, "nearby users")
		}
	}

	out := make([]models.Presence, 0, len(cmds))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p := parsePresence(candidates[i], fields)
		if !p.IsVisible {
			continue
		}
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RedisPresenceRepository) RemovePresence(ctx context.Context, userID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(userID))
		pipe.ZRem(ctx, presenceVisible, userID)
		return nil
	})
	return classify(err, "remove presence")
}

func parsePresence(userID string, fields map[string]string) *models.Presence {
	p := &models.Presence{
		UserID:      userID,
		DisplayName: fields[hDisplayName],
		IsVisible:   fields[hVisible] == "1",
	}
	if ms, err := strconv.ParseInt(fields[hLastSeen], 10, 64); err == nil {
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	lat, latErr := strconv.ParseFloat(fields[hLatitude], 64)
	lng, lngErr := strconv.ParseFloat(fields[hLongitude], 64)
	if latErr == nil && lngErr == nil {
		acc, _ := strconv.ParseFloat(fields[hAccuracy], 64)
		p.Location = &models.Location{Latitude: lat, Longitude: lng, Accuracy: acc}
	}
	return p
}
