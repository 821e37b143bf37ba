package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json"}, &buf)

	logger.Debug().Str("component", "fit").Msg("converged")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "fit", entry["component"])
	assert.Equal(t, "converged", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "WARN", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	logger := New(Config{Level: "chatty"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger = New(Config{}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "console"}, &buf)

	logger.Info().Str("catalog", "napa").Msg("analysis complete")
	out := buf.String()
	assert.Contains(t, out, "analysis complete")
	assert.Contains(t, out, "catalog=napa")
	assert.NotContains(t, out, "\x1b[")
}
