package cache

import "time"

// DefaultQueryTimeout is the per-operation timeout applied to every store
// round-trip issued by a single facade call.
const DefaultQueryTimeout = 5 * time.Second

const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// Config holds the connection parameters used by New.
type Config struct {
	// Driver selects the store client, DriverRedis (default) or DriverValkey.
	Driver string `koanf:"driver" yaml:"driver" json:"driver"`
	Host   string `koanf:"host" yaml:"host" json:"host"`
	Port   int    `koanf:"port" yaml:"port" json:"port"`
	// DB is the logical database index.
	DB       int    `koanf:"db" yaml:"db" json:"db"`
	Username string `koanf:"username" yaml:"username,omitempty" json:"username,omitempty"`
	Password string `koanf:"password" yaml:"-" json:"-"`
	// Namespace is the global prefix prepended to every physical key.
	Namespace string `koanf:"namespace" yaml:"namespace" json:"namespace"`
	// ClientName is reported to the server with CLIENT SETNAME when set.
	ClientName string `koanf:"client_name" yaml:"client_name,omitempty" json:"client_name,omitempty"`
}

// DefaultConfig returns a Config pointing at a local Redis.
func DefaultConfig() Config {
	return Config{
		Driver: DriverRedis,
		Host:   "localhost",
		Port:   6379,
	}
}

type config struct {
	queryTimeout time.Duration
}

// Option configures a Client.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the timeout for a single facade call. Defaults to
// DefaultQueryTimeout (5 seconds). Zero or negative disables it.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

type callOptions struct {
	namespace string
	raw       bool
	verbatim  bool
}

// CallOption adjusts a single facade call.
type CallOption func(*callOptions)

// Namespace scopes the call's keys to a versioned namespace.
func Namespace(namespace string) CallOption {
	return func(o *callOptions) { o.namespace = namespace }
}

// Raw bypasses the value codec: values are stored as their byte or decimal
// text form and reads return the stored []byte.
func Raw() CallOption {
	return func(o *callOptions) { o.raw = true }
}

// Verbatim uses the caller's key as the physical key, without the global
// prefix, hashing or namespacing. Meant for keys read by external agents.
func Verbatim() CallOption {
	return func(o *callOptions) { o.verbatim = true }
}

func applyCallOptions(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	return co
}
