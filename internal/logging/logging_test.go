package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canguard/internal/config"
)

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.LoggerConfig{Level: "warn", Format: "json", Console: true}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "id", 0x169)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, float64(0x169), rec["id"])
}

func TestNewRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canguard.log")
	logger, closer, err := New(config.LoggerConfig{Level: "info", Format: "text", FilePath: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)

	logger.Info("safety mode set", "mode", "nissan")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode=nissan")
}

func TestNewBadLevel(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Level: "chatty"}, nil)
	assert.Error(t, err)
}
