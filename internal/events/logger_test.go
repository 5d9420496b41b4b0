package events

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(WarnLevel, "text", &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "[WARN]")
}

func TestLoggerFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(InfoLevel, "text", &buf)

	child := logger.WithField("component", "pusher").WithField("repo_id", "repo-1")
	child.Info("pushed")

	out := buf.String()
	assert.Contains(t, out, "component=pusher")
	assert.Contains(t, out, "repo_id=repo-1")

	// The parent is unchanged.
	buf.Reset()
	logger.Info("plain")
	assert.NotContains(t, buf.String(), "component=")
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(InfoLevel, "json", &buf)

	logger.WithField("tx", 7).Info("applied")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "applied", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(7), entry["tx"])
	assert.NotEmpty(t, entry["time"])
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(InfoLevel, "text", &buf)

	logger.WithError(assert.AnError).Error("failed")
	assert.Contains(t, buf.String(), assert.AnError.Error())
}
