package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// LastSeenPrefix is the Redis key prefix for last-seen timestamps.
	LastSeenPrefix = "lastseen:"

	// LastSeenTTL bounds how long a last-seen record survives without the
	// user reconnecting.
	LastSeenTTL = 30 * 24 * time.Hour
)

// LastSeenStore records online/offline transitions in Redis so the REST API
// can answer "last seen" queries for users without an open channel. The
// live presence set stays in-memory in Registry; this store is only a
// best-effort historical record.
type LastSeenStore struct {
	client *redis.Client
}

// NewLastSeenStore creates a LastSeenStore using the provided Redis client.
func NewLastSeenStore(client *redis.Client) *LastSeenStore {
	return &LastSeenStore{client: client}
}

// Touch updates the user's last-seen timestamp to now. Called on connect and
// on disconnect.
func (s *LastSeenStore) Touch(ctx context.Context, userID string) error {
	key := LastSeenPrefix + userID
	return s.client.Set(ctx, key, time.Now().Unix(), LastSeenTTL).Err()
}

// Get returns the user's last-seen time. The second return value is false if
// no record exists.
func (s *LastSeenStore) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	key := LastSeenPrefix + userID
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(unix, 0), true, nil
}
