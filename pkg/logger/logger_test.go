package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "voice.log")
	require.NoError(t, Init(&LogConfig{Level: "debug", Filename: file, MaxSize: 1}, "production"))

	Info("cache hit", zap.String("fingerprint", "abc"))
	_ = Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cache hit")
	assert.Contains(t, string(data), "abc")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(&LogConfig{Level: "loud"}, "production"))
}
