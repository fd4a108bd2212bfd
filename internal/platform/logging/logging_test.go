package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string) (*Logger, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	console := &bytes.Buffer{}
	logger, err := New(Config{Level: level, Dir: dir, Filename: "test.log", Console: console})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, console, dir
}

func TestNew_CreatesFile(t *testing.T) {
	_, _, dir := newTestLogger(t, "info")

	_, err := os.Stat(filepath.Join(dir, "test.log"))
	assert.NoError(t, err)
}

func TestLogger_InfoWritesBothSinks(t *testing.T) {
	logger, console, dir := newTestLogger(t, "info")

	logger.Info("panel %s accepted", "p-1")

	content, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"panel p-1 accepted"`)
	assert.Contains(t, console.String(), "panel p-1 accepted")
	assert.Contains(t, console.String(), "[INFO]")
}

func TestLogger_FieldMap(t *testing.T) {
	logger, _, dir := newTestLogger(t, "info")

	logger.Warn("reading dropped", map[string]any{"device_id": "esp-1", "voltage": 12.5})

	content, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"device_id":"esp-1"`)
	assert.Contains(t, string(content), `"level":"WARN"`)
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, console, _ := newTestLogger(t, "warn")

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Error("visible error")

	out := console.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible error")
}

func TestLogger_DebugEnabledCaseInsensitive(t *testing.T) {
	logger, console, _ := newTestLogger(t, "DEBUG")

	logger.Debug("debug line")

	assert.Contains(t, console.String(), "debug line")
}

func TestLogger_TagMethods(t *testing.T) {
	logger, console, _ := newTestLogger(t, "debug")

	logger.InfoTag("Inspection", "request %s done", "abc")
	logger.ErrorTag("VLLLM", "call failed")

	out := console.String()
	assert.Contains(t, out, "[Inspection] request abc done")
	assert.Contains(t, out, "[VLLLM] call failed")
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		tag, msg, want string
	}{
		{"HTTP", "listening", "[HTTP] listening"},
		{"", "plain", "plain"},
		{"HTTP", "[Other] kept", "[Other] kept"},
		{" Intake ", "  spaced  ", "[Intake] spaced"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLog(tt.tag, tt.msg))
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "ERROR", ParseLevel("ERROR").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}

func TestLogger_RotateAndClean(t *testing.T) {
	logger, _, dir := newTestLogger(t, "info")
	logger.Info("before rotation")

	stale := filepath.Join(dir, "test-2000-01-01.log")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	prevDate := logger.currentDate
	logger.checkAndRotate(time.Now().AddDate(0, 0, 1))

	_, err := os.Stat(filepath.Join(dir, "test-"+prevDate+".log"))
	assert.NoError(t, err, "active file should be archived under its date")
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "files older than retention are removed")

	logger.Info("after rotation")
	content, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "after rotation")
	assert.NotContains(t, string(content), "before rotation")
}

func TestLogger_NilSafeTags(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.InfoTag("HTTP", "noop")
		logger.Error("noop")
	})
	assert.NotNil(t, logger.Slog())
}

func TestLogger_CloseTwice(t *testing.T) {
	logger, _, _ := newTestLogger(t, "info")
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}
