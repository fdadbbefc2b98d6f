package metrics

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
	"github.com/metabrainz/brainzutils-go/logger"
	"github.com/shirou/gopsutil/v4/host"
)

// CacheNamespace holds one hash of counters per project.
const CacheNamespace = "metrics"

// DefaultDatacenter is the dc tag of pushed measurements.
const DefaultDatacenter = "hetzner"

var (
	// ErrNotInitialized is returned by New without a cache client or project.
	ErrNotInitialized = errors.New("metrics: a cache client and a project name are required")
	// ErrInvalidAmount is returned for increments smaller than 1.
	ErrInvalidAmount = errors.New("metrics: amount must be 1 or greater")
	// ErrReservedName is returned for counter names used by Stats.
	ErrReservedName = errors.New("metrics: counter name is reserved")
	// ErrInvalidMeasurement is returned by Set for an empty measurement or field list.
	ErrInvalidMeasurement = errors.New("metrics: invalid measurement")
)

var reservedNames = map[string]bool{"tag": true, "date": true}

// Counters are named cumulative counters of one project, kept in a store
// hash so every process of the project adds to the same values.
type Counters struct {
	cache   *cache.Client
	project string
	dc      string
	server  string
	log     logger.Logger
}

type options struct {
	dc     string
	server string
	log    logger.Logger
}

// Option configures Counters.
type Option func(*options)

// WithDatacenter sets the dc tag of pushed measurements.
func WithDatacenter(dc string) Option {
	return func(o *options) { o.dc = dc }
}

// WithServer sets the server tag of pushed measurements. The default is
// the PRIVATE_IP environment variable, or the host name.
func WithServer(server string) Option {
	return func(o *options) { o.server = server }
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// New returns the counters of project.
func New(c *cache.Client, project string, opts ...Option) (*Counters, error) {
	if c == nil || project == "" {
		return nil, ErrNotInitialized
	}
	o := options{dc: DefaultDatacenter}
	for _, opt := range opts {
		opt(&o)
	}
	if o.server == "" {
		o.server = serverName()
	}
	if o.log == nil {
		o.log = logger.NewConsoleLogger()
	}
	return &Counters{
		cache:   c,
		project: project,
		dc:      o.dc,
		server:  o.server,
		log:     o.log.WithPrefix("[metrics]"),
	}, nil
}

func serverName() string {
	if ip := os.Getenv("PRIVATE_IP"); ip != "" {
		return ip
	}
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	name, _ := os.Hostname()
	return name
}

// Project returns the project the counters belong to.
func (m *Counters) Project() string {
	return m.project
}

// Increment adds amount to counter name and returns the new value. A
// counter that would overflow is reset to zero before adding.
func (m *Counters) Increment(ctx context.Context, name string, amount int64) (int64, error) {
	if amount < 1 {
		return 0, errors.Wrapf(ErrInvalidAmount, "got %d", amount)
	}
	if reservedNames[name] {
		return 0, errors.Wrapf(ErrReservedName, "%q", name)
	}
	ns := cache.Namespace(CacheNamespace)
	n, err := m.cache.HashIncrement(ctx, m.project, name, amount, ns)
	if errors.Is(err, cache.ErrOverflow) {
		if _, err := m.cache.HashSet(ctx, m.project, name, 0, ns); err != nil {
			return 0, errors.Wrapf(err, "metrics: reset %q", name)
		}
		n, err = m.cache.HashIncrement(ctx, m.project, name, amount, ns)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "metrics: increment %q", name)
	}
	return n, nil
}

// Remove deletes counter name so it no longer appears in Stats.
func (m *Counters) Remove(ctx context.Context, name string) (int64, error) {
	n, err := m.cache.HashDelete(ctx, m.project, []string{name}, cache.Namespace(CacheNamespace))
	if err != nil {
		return 0, errors.Wrapf(err, "metrics: remove %q", name)
	}
	return n, nil
}

// Stats is a snapshot of a project's counters. It marshals as one flat
// object with the project under "tag".
type Stats struct {
	Tag      string
	Counters map[string]int64
}

func (s Stats) flatten() map[string]any {
	out := make(map[string]any, len(s.Counters)+1)
	for k, v := range s.Counters {
		out[k] = v
	}
	out["tag"] = s.Tag
	return out
}

func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.flatten())
}

func (s Stats) MarshalYAML() (interface{}, error) {
	return s.flatten(), nil
}

// Stats returns the current value of every counter.
func (m *Counters) Stats(ctx context.Context) (Stats, error) {
	fields, err := m.cache.HashGetAll(ctx, m.project, cache.Namespace(CacheNamespace))
	if err != nil {
		return Stats{}, errors.Wrap(err, "metrics: read counters")
	}
	stats := Stats{Tag: m.project, Counters: make(map[string]int64, len(fields))}
	for name, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Stats{}, errors.Wrapf(cache.ErrNotInteger, "metrics: counter %q holds %q", name, v)
		}
		stats.Counters[name] = n
	}
	return stats, nil
}
