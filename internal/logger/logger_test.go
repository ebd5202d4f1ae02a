package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phiguard.log")
	log, err := New(Config{Debug: true, OutputPaths: []string{path}})
	require.NoError(t, err)

	log.Debug("document processed", zap.String("document_id", "doc-1"), zap.Int("spans", 3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "doc-1", entry["document_id"])
	// ISO8601 时间
	assert.Contains(t, entry["ts"], "T")
}

func TestNewLevels(t *testing.T) {
	log, err := New(Config{Format: "console", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.DebugLevel))
	assert.True(t, log.Core().Enabled(zap.InfoLevel))

	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(false))
}
