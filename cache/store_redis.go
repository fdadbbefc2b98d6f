package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.UniversalClient
}

var _ Store = (*redisStore)(nil)

// NewRedisStore returns a Store backed by go-redis. Closing the store closes
// the client.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func (s *redisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, Classify(err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *redisStore) MSet(ctx context.Context, values map[string][]byte, ttl time.Duration, remove ...string) error {
	if len(values) == 0 && len(remove) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.MSet(ctx, toPairs(values)...)
		}
		if ttl > 0 {
			for key := range values {
				pipe.PExpire(ctx, key, ttl)
			}
		}
		if len(remove) > 0 {
			pipe.Del(ctx, remove...)
		}
		return nil
	})
	return Classify(err)
}

func (s *redisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return ok, Classify(err)
}

func (s *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return n, Classify(err)
}

func (s *redisStore) IncrBy(ctx context.Context, key string, amount int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, key, amount).Result()
	return n, Classify(err)
}

func (s *redisStore) PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.PExpire(ctx, key, ttl).Result()
	return ok, Classify(err)
}

func (s *redisStore) PExpireAt(ctx context.Context, key string, at time.Time) (bool, error) {
	ok, err := s.client.PExpireAt(ctx, key, at).Result()
	return ok, Classify(err)
}

func (s *redisStore) HIncrBy(ctx context.Context, key, field string, amount int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, amount).Result()
	return n, Classify(err)
}

func (s *redisStore) HSet(ctx context.Context, key, field string, value []byte) (int64, error) {
	n, err := s.client.HSet(ctx, key, field, value).Result()
	return n, Classify(err)
}

func (s *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	return m, Classify(err)
}

func (s *redisStore) HKeys(ctx context.Context, key string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, key).Result()
	return keys, Classify(err)
}

func (s *redisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, Classify(err)
}

func (s *redisStore) SAdd(ctx context.Context, key string, members [][]byte, ttl time.Duration) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, args...)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, Classify(err)
	}
	return added.Val(), nil
}

func (s *redisStore) SMembers(ctx context.Context, key string) ([][]byte, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, Classify(err)
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (s *redisStore) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.client.RPush(ctx, key, args...).Result()
	return n, Classify(err)
}

func (s *redisStore) FlushDB(ctx context.Context) error {
	return Classify(s.client.FlushDB(ctx).Err())
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func toPairs(values map[string][]byte) []any {
	pairs := make([]any, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	return pairs
}
