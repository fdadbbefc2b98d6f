package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/metabrainz/brainzutils-go/cache"
	"github.com/metabrainz/brainzutils-go/logger"
	"github.com/metabrainz/brainzutils-go/metrics"
	"github.com/metabrainz/brainzutils-go/ratelimit"
)

// DefaultEnvPrefix is the prefix of environment overrides, e.g.
// BRAINZ_CACHE__HOST for cache.host.
const DefaultEnvPrefix = "BRAINZ"

// envAliases maps single underscore variables, as read by the logger and
// the env package, onto their configuration keys.
var envAliases = map[string]string{
	"LOG_LEVEL":  "log.level",
	"LOG_FORMAT": "log.format",
}

// ErrInvalid is returned by Load and Validate for unusable settings.
var ErrInvalid = errors.New("config: invalid configuration")

// invalidError tags a validation failure from another package with
// ErrInvalid while keeping its own chain.
type invalidError struct {
	err error
}

func (e *invalidError) Error() string        { return e.err.Error() }
func (e *invalidError) Unwrap() error        { return e.err }
func (e *invalidError) Is(target error) bool { return target == ErrInvalid }

func invalid(err error) error {
	return &invalidError{err: err}
}

// Config is everything a service needs to talk to the shared cache.
type Config struct {
	Cache     cache.Config    `koanf:"cache" yaml:"cache" json:"cache"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit" json:"ratelimit"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics" json:"metrics"`
	Log       LogConfig       `koanf:"log" yaml:"log" json:"log"`
}

type RateLimitConfig struct {
	// PerToken, PerIP and Window are written as the global stored limits
	// by "brainzctl ratelimit set" when given; zero leaves them unset.
	PerToken int64         `koanf:"per_token" yaml:"per_token" json:"per_token"`
	PerIP    int64         `koanf:"per_ip" yaml:"per_ip" json:"per_ip"`
	Window   time.Duration `koanf:"window" yaml:"window" json:"window"`
	// Refresh is how long stored limits are cached in process.
	Refresh time.Duration `koanf:"refresh" yaml:"refresh" json:"refresh"`
	// LimitsFile is a YAML file of per scope limits, see LimitsFile.
	LimitsFile string `koanf:"limits_file" yaml:"limits_file,omitempty" json:"limits_file,omitempty"`
}

// Limits returns the configured limits.
func (c RateLimitConfig) Limits() ratelimit.Limits {
	return ratelimit.Limits{PerToken: c.PerToken, PerIP: c.PerIP, Window: c.Window}
}

type MetricsConfig struct {
	Project    string `koanf:"project" yaml:"project" json:"project"`
	Datacenter string `koanf:"datacenter" yaml:"datacenter" json:"datacenter"`
	// Server overrides the server tag; empty uses PRIVATE_IP or the host name.
	Server string `koanf:"server" yaml:"server,omitempty" json:"server,omitempty"`
	// Listen is the address "brainzctl metrics serve" binds to.
	Listen string `koanf:"listen" yaml:"listen" json:"listen"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"`
}

// NewLogger builds the configured logger.
func (c LogConfig) NewLogger() (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, invalid(err)
	}
	switch strings.ToLower(c.Format) {
	case "", "console":
		return logger.NewConsoleLogger(level), nil
	case "json":
		return logger.NewJSONLogger(level), nil
	}
	return nil, errors.Wrapf(ErrInvalid, "unknown log format %q", c.Format)
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	limits := ratelimit.DefaultLimits()
	return Config{
		Cache: cache.DefaultConfig(),
		RateLimit: RateLimitConfig{
			PerToken: limits.PerToken,
			PerIP:    limits.PerIP,
			Window:   limits.Window,
			Refresh:  time.Minute,
		},
		Metrics: MetricsConfig{
			Datacenter: metrics.DefaultDatacenter,
			Listen:     ":9100",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Validate checks the settings New functions cannot check themselves.
func (c Config) Validate() error {
	if err := c.RateLimit.Limits().Validate(); err != nil {
		return invalid(err)
	}
	if c.RateLimit.Refresh < 0 {
		return errors.Wrapf(ErrInvalid, "ratelimit.refresh must not be negative, got %s", c.RateLimit.Refresh)
	}
	if _, err := c.Log.NewLogger(); err != nil {
		return err
	}
	return nil
}

func toMap(cfg Config) map[string]any {
	return map[string]any{
		"cache": map[string]any{
			"driver":      cfg.Cache.Driver,
			"host":        cfg.Cache.Host,
			"port":        cfg.Cache.Port,
			"db":          cfg.Cache.DB,
			"username":    cfg.Cache.Username,
			"password":    cfg.Cache.Password,
			"namespace":   cfg.Cache.Namespace,
			"client_name": cfg.Cache.ClientName,
		},
		"ratelimit": map[string]any{
			"per_token":   cfg.RateLimit.PerToken,
			"per_ip":      cfg.RateLimit.PerIP,
			"window":      cfg.RateLimit.Window,
			"refresh":     cfg.RateLimit.Refresh,
			"limits_file": cfg.RateLimit.LimitsFile,
		},
		"metrics": map[string]any{
			"project":    cfg.Metrics.Project,
			"datacenter": cfg.Metrics.Datacenter,
			"server":     cfg.Metrics.Server,
			"listen":     cfg.Metrics.Listen,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
	}
}

// Load builds the configuration from, in increasing precedence, Default,
// the YAML file at path (skipped when empty) and environment variables
// starting with envPrefix. A double underscore in a variable name separates
// levels: BRAINZ_CACHE__CLIENT_NAME sets cache.client_name. BRAINZ_LOG_LEVEL
// and BRAINZ_LOG_FORMAT are accepted for log.level and log.format.
func Load(ctx context.Context, path, envPrefix string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(toMap(Default()), "."), nil); err != nil {
		return Config{}, errors.Wrap(err, "config: load defaults")
	}

	if path != "" {
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			return Config{}, errors.Wrapf(err, "config: stat %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "config: load file %s", path)
		}
	}

	if envPrefix != "" {
		prefix := envPrefix + "_"
		// The logger's own variables (BRAINZ_LOG_LEVEL) count too; the
		// nested spelling loads after them and wins.
		aliases := map[string]any{}
		for name, key := range envAliases {
			if v, ok := os.LookupEnv(prefix + name); ok && v != "" {
				aliases[key] = v
			}
		}
		if err := k.Load(confmap.Provider(aliases, "."), nil); err != nil {
			return Config{}, errors.Wrap(err, "config: load env aliases")
		}
		transform := func(s string) string {
			key := strings.TrimPrefix(s, prefix)
			return strings.ToLower(strings.ReplaceAll(key, "__", "."))
		}
		if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
			return Config{}, errors.Wrap(err, "config: load env")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
