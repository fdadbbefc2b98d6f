package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLoggerMethods(t *testing.T) {
	log := NewTestLogger()
	log.Trace("Trace message %d", 1)
	log.Debug("Debug message %d", 2)
	log.Info("Info message %d", 3)
	log.Warn("Warn message %d", 4)
	log.Error("Error message %d", 5)
	log.Fatal("Fatal message %d", 6)

	logs := log.Logs()
	assert.Len(t, logs, 6)
	for i, severity := range []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "FATAL"} {
		assert.Equal(t, severity, logs[i].Severity)
		assert.Equal(t, []interface{}{i + 1}, logs[i].Arguments)
	}
	assert.True(t, log.Contains("WARNING", "Warn message 4"))
	assert.False(t, log.Contains("INFO", "Warn message 4"))
}

func TestTestLoggerSharedRecord(t *testing.T) {
	log := NewTestLogger()
	child := log.With(map[string]interface{}{"component": "metrics"})
	child.Error("push failed")

	logs := log.Logs()
	assert.Len(t, logs, 1)
	assert.Equal(t, map[string]interface{}{"component": "metrics"}, logs[0].Metadata)
}

func TestTestLoggerConcurrent(t *testing.T) {
	log := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("hit")
		}()
	}
	wg.Wait()
	assert.Len(t, log.Logs(), 50)
}
