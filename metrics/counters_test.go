package metrics

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
	"github.com/metabrainz/brainzutils-go/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *cache.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	c, err := cache.New(context.Background(), cache.Config{Host: mr.Host(), Port: port, Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return mr, c
}

func newTestCounters(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Counters, *logger.TestLogger) {
	t.Helper()
	mr, c := newTestCache(t)
	log := logger.NewTestLogger()
	m, err := New(c, "listenbrainz.org", append([]Option{WithLogger(log), WithServer("127.0.0.1")}, opts...)...)
	require.NoError(t, err)
	return mr, m, log
}

func TestNewRequiresProject(t *testing.T) {
	_, c := newTestCache(t)
	_, err := New(c, "")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = New(nil, "listenbrainz.org")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestIncrement(t *testing.T) {
	_, m, _ := newTestCounters(t)
	ctx := context.Background()

	n, err := m.Increment(ctx, "new_users", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.Increment(ctx, "new_users", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	n, err = m.Increment(ctx, "computed_stats", math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), n)
}

func TestIncrementValidation(t *testing.T) {
	_, m, _ := newTestCounters(t)
	ctx := context.Background()

	_, err := m.Increment(ctx, "new_users", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = m.Increment(ctx, "new_users", -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	for _, name := range []string{"tag", "date"} {
		_, err = m.Increment(ctx, name, 1)
		assert.ErrorIs(t, err, ErrReservedName)
	}
}

// overflowStore fails the next HIncrBy calls the way Redis reports an
// int64 overflow.
type overflowStore struct {
	cache.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *overflowStore) HIncrBy(ctx context.Context, key, field string, amount int64) (int64, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return 0, cache.Classify(errors.New("ERR increment or decrement would overflow"))
	}
	return s.Store.HIncrBy(ctx, key, field, amount)
}

func newOverflowCounters(t *testing.T, failures int) (*overflowStore, *Counters) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := &overflowStore{Store: cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})), failures: failures}
	c, err := cache.NewWithStore(store, "test")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	m, err := New(c, "listenbrainz.org", WithLogger(logger.NewTestLogger()), WithServer("127.0.0.1"))
	require.NoError(t, err)
	return store, m
}

func TestIncrementOverflowResets(t *testing.T) {
	store, m := newOverflowCounters(t, 0)
	ctx := context.Background()

	_, err := m.Increment(ctx, "new_users", 100)
	require.NoError(t, err)

	store.failures = 1
	n, err := m.Increment(ctx, "new_users", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n, "counter restarts from zero")
	assert.Equal(t, 3, store.calls)
}

func TestIncrementOverflowRetriesOnce(t *testing.T) {
	store, m := newOverflowCounters(t, 2)
	_, err := m.Increment(context.Background(), "new_users", 5)
	assert.ErrorIs(t, err, cache.ErrOverflow)
	assert.Equal(t, 2, store.calls)
}

func TestRemoveAndStats(t *testing.T) {
	_, m, _ := newTestCounters(t)
	ctx := context.Background()

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Tag: "listenbrainz.org", Counters: map[string]int64{}}, stats)

	_, err = m.Increment(ctx, "new_users", 100)
	require.NoError(t, err)
	_, err = m.Increment(ctx, "computed_stats", 20)
	require.NoError(t, err)

	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"new_users": 100, "computed_stats": 20}, stats.Counters)

	n, err := m.Remove(ctx, "computed_stats")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = m.Remove(ctx, "computed_stats")
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"new_users": 100}, stats.Counters)
}

func TestStatsMarshal(t *testing.T) {
	stats := Stats{Tag: "listenbrainz.org", Counters: map[string]int64{"new_users": 100, "computed_stats": 20}}

	buf, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"new_users":100,"computed_stats":20,"tag":"listenbrainz.org"}`, string(buf))

	out, err := yaml.Marshal(stats)
	require.NoError(t, err)
	assert.YAMLEq(t, "new_users: 100\ncomputed_stats: 20\ntag: listenbrainz.org\n", string(out))
}

func TestProjectsAreSeparate(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()
	lb, err := New(c, "listenbrainz.org", WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	cb, err := New(c, "critiquebrainz.org", WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)

	_, err = lb.Increment(ctx, "new_users", 3)
	require.NoError(t, err)
	stats, err := cb.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Counters)
	assert.Equal(t, "critiquebrainz.org", stats.Tag)
}

func TestCountersSurviveOtherNamespaces(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()
	m, err := New(c, "listenbrainz.org", WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)

	_, err = m.Increment(ctx, "new_users", 3)
	require.NoError(t, err)
	_, err = c.InvalidateNamespace(ctx, "timeseries_stats")
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Counters["new_users"])

	_, err = c.InvalidateNamespace(ctx, CacheNamespace)
	require.NoError(t, err)
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Counters)
}

func TestServerName(t *testing.T) {
	t.Setenv("PRIVATE_IP", "10.2.2.31")
	assert.Equal(t, "10.2.2.31", serverName())

	t.Setenv("PRIVATE_IP", "")
	assert.NotEmpty(t, serverName())
}
