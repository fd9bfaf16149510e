package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cohort.log")
	logger, err := New(Config{Level: "debug", File: path, Service: "cohort"})
	require.NoError(t, err)

	logger.Info("Created cohort", zap.String("cohort", "brca"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "Created cohort", entry["msg"])
	assert.Equal(t, "brca", entry["cohort"])
	assert.Equal(t, "cohort", entry["service"])
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestTimer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	done := Timer(zap.New(core), "pretile")
	done()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pretile", entries[0].ContextMap()["block"])
}
