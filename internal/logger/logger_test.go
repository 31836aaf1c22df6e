package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lipdub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_CarriesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")

	entry := WithContext(ctx)
	assert.Equal(t, "req-1", entry.Data["request_id"])

	entry = WithContext(context.Background())
	_, ok := entry.Data["request_id"]
	assert.False(t, ok)
}

func TestInit_WritesNamedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, Init(config.LogConfig{Level: "debug", Format: "json", Output: "file", Path: dir, MaxSize: 1}))
	t.Cleanup(func() { _ = Init(config.LogConfig{Level: "info", Format: "text", Output: "stdout"}) })

	Audit("webhook_signature_rejected").Warn("rejected")
	WithModule("reconciler").Debug("sweep")

	audit, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"event":"webhook_signature_rejected"`)

	app, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(app), `"module":"reconciler"`))
}

func TestGetLogger_ReusesStreams(t *testing.T) {
	assert.Same(t, GetLogger("x"), GetLogger("x"))
	assert.NotSame(t, GetLogger("x"), GetLogger("y"))
}
