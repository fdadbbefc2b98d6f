package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	valkey "github.com/valkey-io/valkey-go"
)

type valkeyStore struct {
	client valkey.Client
}

var _ Store = (*valkeyStore)(nil)

// NewValkeyStore returns a Store backed by valkey-go. Closing the store
// closes the client.
func NewValkeyStore(client valkey.Client) Store {
	return &valkeyStore{client: client}
}

// transaction runs cmds inside MULTI/EXEC on one connection and returns the
// EXEC reply elements.
func (s *valkeyStore) transaction(ctx context.Context, cmds ...valkey.Completed) ([]valkey.ValkeyMessage, error) {
	all := make([]valkey.Completed, 0, len(cmds)+2)
	all = append(all, s.client.B().Multi().Build())
	all = append(all, cmds...)
	all = append(all, s.client.B().Exec().Build())
	resps := s.client.DoMulti(ctx, all...)
	for _, resp := range resps[:len(resps)-1] {
		if err := resp.Error(); err != nil {
			return nil, Classify(err)
		}
	}
	replies, err := resps[len(resps)-1].ToArray()
	if err != nil {
		return nil, Classify(err)
	}
	for _, reply := range replies {
		if err := reply.Error(); err != nil {
			return nil, Classify(err)
		}
	}
	return replies, nil
}

func (s *valkeyStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	msgs, err := s.client.Do(ctx, s.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, Classify(err)
	}
	out := make([][]byte, len(msgs))
	for i, msg := range msgs {
		if msg.IsNil() {
			continue
		}
		b, err := msg.AsBytes()
		if err != nil {
			return nil, Classify(err)
		}
		out[i] = b
	}
	return out, nil
}

func (s *valkeyStore) MSet(ctx context.Context, values map[string][]byte, ttl time.Duration, remove ...string) error {
	if len(values) == 0 && len(remove) == 0 {
		return nil
	}
	var cmds []valkey.Completed
	if len(values) > 0 {
		kv := s.client.B().Mset().KeyValue()
		for k, v := range values {
			kv = kv.KeyValue(k, string(v))
		}
		cmds = append(cmds, kv.Build())
	}
	if ttl > 0 {
		for k := range values {
			cmds = append(cmds, s.client.B().Pexpire().Key(k).Milliseconds(ttl.Milliseconds()).Build())
		}
	}
	if len(remove) > 0 {
		cmds = append(cmds, s.client.B().Del().Key(remove...).Build())
	}
	_, err := s.transaction(ctx, cmds...)
	return err
}

func (s *valkeyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(value)).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(value)).Nx().Build()
	}
	err := s.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, Classify(err)
	}
	return true, nil
}

func (s *valkeyStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) IncrBy(ctx context.Context, key string, amount int64) (int64, error) {
	n, err := s.client.Do(ctx, s.client.B().Incrby().Key(key).Increment(amount).Build()).AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build()).AsInt64()
	return n == 1, Classify(err)
}

func (s *valkeyStore) PExpireAt(ctx context.Context, key string, at time.Time) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Pexpireat().Key(key).MillisecondsTimestamp(at.UnixMilli()).Build()).AsInt64()
	return n == 1, Classify(err)
}

func (s *valkeyStore) HIncrBy(ctx context.Context, key, field string, amount int64) (int64, error) {
	n, err := s.client.Do(ctx, s.client.B().Hincrby().Key(key).Field(field).Increment(amount).Build()).AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) HSet(ctx context.Context, key, field string, value []byte) (int64, error) {
	n, err := s.client.Do(ctx, s.client.B().Hset().Key(key).FieldValue().FieldValue(field, string(value)).Build()).AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.Do(ctx, s.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, Classify(err)
	}
	return m, nil
}

func (s *valkeyStore) HKeys(ctx context.Context, key string) ([]string, error) {
	keys, err := s.client.Do(ctx, s.client.B().Hkeys().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, Classify(err)
	}
	return keys, nil
}

func (s *valkeyStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.Do(ctx, s.client.B().Hdel().Key(key).Field(fields...).Build()).AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) SAdd(ctx context.Context, key string, members [][]byte, ttl time.Duration) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	strs := make([]string, len(members))
	for i, m := range members {
		strs[i] = string(m)
	}
	cmds := []valkey.Completed{s.client.B().Sadd().Key(key).Member(strs...).Build()}
	if ttl > 0 {
		cmds = append(cmds, s.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build())
	}
	replies, err := s.transaction(ctx, cmds...)
	if err != nil {
		return 0, err
	}
	if len(replies) == 0 {
		return 0, errors.New("cache: empty transaction reply")
	}
	n, err := replies[0].AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) SMembers(ctx context.Context, key string) ([][]byte, error) {
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, Classify(err)
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (s *valkeyStore) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = string(v)
	}
	n, err := s.client.Do(ctx, s.client.B().Rpush().Key(key).Element(strs...).Build()).AsInt64()
	return n, Classify(err)
}

func (s *valkeyStore) FlushDB(ctx context.Context) error {
	return Classify(s.client.Do(ctx, s.client.B().Flushdb().Build()).Error())
}

func (s *valkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}
