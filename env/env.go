package env

import (
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/logger"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

var validKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseEnvFile parses an environment file. A missing file has no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "env: read %s", filename)
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses KEY=VALUE lines. Blank lines and # comments are
// skipped and an "export " prefix is accepted. Double quoted and bare values
// expand $VAR, ${VAR} and ${VAR:-default} against earlier lines and then the
// process environment, like a shell would; single quoted values are taken
// literally.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := []EnvLine{}
	seen := map[string]string{}
	for i, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !validKey.MatchString(key) {
			return nil, errors.Newf("env: line %d: invalid variable name %q", i+1, key)
		}
		val = strings.TrimSpace(val)
		if quoted(val, '\'') {
			val = val[1 : len(val)-1]
		} else {
			if quoted(val, '"') {
				val = val[1 : len(val)-1]
			}
			val = interpolate(val, seen)
		}
		seen[key] = val
		envs = append(envs, EnvLine{Key: key, Val: val})
	}
	return envs, nil
}

func quoted(s string, q byte) bool {
	return len(s) >= 2 && s[0] == q && s[len(s)-1] == q
}

func interpolate(val string, seen map[string]string) string {
	return os.Expand(val, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":-")
		if v, ok := seen[name]; ok && v != "" {
			return v
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// LoadEnvFile exports the variables of an environment file into the
// process environment, leaving variables that are already set untouched.
// It returns how many variables were set.
func LoadEnvFile(filename string) (int, error) {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return 0, err
	}
	var n int
	for _, e := range envs {
		if _, ok := os.LookupEnv(e.Key); ok {
			continue
		}
		if err := os.Setenv(e.Key, e.Val); err != nil {
			return n, errors.Wrapf(err, "env: set %s", e.Key)
		}
		n++
	}
	return n, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel reads the log-level flag, then BRAINZ_LOG_LEVEL. Unknown values
// mean info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level, err := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// NewLogger returns the logger selected by the log-format flag (console or
// json, falling back to BRAINZ_LOG_FORMAT) at the level given by LogLevel.
func NewLogger(cmd *cobra.Command) logger.Logger {
	level := LogLevel(cmd)
	if strings.EqualFold(FlagOrEnv(cmd, "log-format", "BRAINZ_LOG_FORMAT", "console"), "json") {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}
