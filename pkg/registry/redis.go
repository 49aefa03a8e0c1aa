package registry

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores each user's active history ids in a Redis list
// keyed "<namespace>_<user_id>", expiring as a whole TTL after the last
// registration.
type RedisRegistry struct {
	client *redis.Client
}

var _ Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Register(ctx context.Context, namespace string, userID, historyID int64) error {
	key := listKey(namespace, userID)
	if err := r.client.RPush(ctx, key, historyID).Err(); err != nil {
		return errors.Wrapf(err, "rpush %s", key)
	}
	if err := r.client.Expire(ctx, key, TTL).Err(); err != nil {
		return errors.Wrapf(err, "expire %s", key)
	}
	return nil
}

func (r *RedisRegistry) ListActive(ctx context.Context, namespace string, userID int64) ([]int64, error) {
	key := listKey(namespace, userID)
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "lrange %s", key)
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisRegistry) IsActive(ctx context.Context, namespace string, userID, historyID int64) (bool, error) {
	ids, err := r.ListActive(ctx, namespace, userID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == historyID {
			return true, nil
		}
	}
	return false, nil
}

func listKey(namespace string, userID int64) string {
	return namespace + "_" + strconv.FormatInt(userID, 10)
}
