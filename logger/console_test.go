package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newBufferedConsole(level LogLevel) (*bytes.Buffer, Logger) {
	var buf bytes.Buffer
	log := NewConsoleLoggerWithWriter(&buf, level)
	log.(*consoleLogger).now = func() time.Time {
		return time.Date(2021, 4, 28, 17, 4, 22, 0, time.UTC)
	}
	return &buf, log
}

func TestConsoleLoggerFormat(t *testing.T) {
	buf, log := newBufferedConsole(LevelDebug)
	log.WithPrefix("[cache]").With(map[string]interface{}{"ns": "artists"}).Info("invalidated %d keys", 3)

	assert.Equal(t, "2021/04/28 17:04:22 [INFO ] [cache] invalidated 3 keys {\"ns\":\"artists\"}\n", buf.String())
}

func TestConsoleLoggerLevels(t *testing.T) {
	buf, log := newBufferedConsole(LevelWarn)
	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("also shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[WARN ] shown")
	assert.Contains(t, lines[1], "[ERROR] also shown")
	assert.False(t, log.IsLevelEnabled(LevelInfo))
	assert.True(t, log.IsLevelEnabled(LevelError))
}

func TestConsoleLoggerNoColorForBuffers(t *testing.T) {
	buf, log := newBufferedConsole(LevelTrace)
	log.Trace("plain")
	assert.NotContains(t, buf.String(), "\033[")
}

func TestConsoleLoggerWithDoesNotLeak(t *testing.T) {
	buf, log := newBufferedConsole(LevelInfo)
	_ = log.With(map[string]interface{}{"a": 1})
	log.WithPrefix("p1")
	log.Info("base")
	assert.Equal(t, "2021/04/28 17:04:22 [INFO ] base\n", buf.String())
}
