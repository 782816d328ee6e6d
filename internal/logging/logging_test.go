package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Configure(Config{
		Level:            "INFO",
		Structured:       true,
		StructuredFormat: "json",
		ExtraFields:      map[string]string{"device": "car-12"},
		Output:           &buf,
	})

	logger.Info("hello", "k", "v")
	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"device":"car-12"`)
}

func TestConfigureLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := Configure(Config{Level: "WARN", Output: &buf})

	logger.Info("invisible")
	assert.Empty(t, buf.String())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}
