package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForService(t *testing.T) {
	Init(slog.LevelInfo)
	logger := ForService("review")
	require.NotNil(t, logger)
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	logger, closeFn, err := NewFileLogger(path, "qagate", slog.LevelInfo, FileLoggerConfig{
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	require.NoError(t, err)

	logger.Info("service started")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"qagate"`)
	assert.Contains(t, string(data), "service started")
}
