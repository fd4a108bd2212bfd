package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "sunforge-server/internal/domain/auth"
	"sunforge-server/internal/platform/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("SUNFORGE_AUTH_SECRET", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestIssueToken(t *testing.T) {
	path := writeConfig(t, "server:\n  auth:\n    enabled: true\n    secret: cli-secret\n")

	token, err := issueToken(path, "esp32-7", time.Hour)
	require.NoError(t, err)

	ok, device, err := domainauth.NewAuthToken("cli-secret").VerifyToken(token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "esp32-7", device)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  auth:\n    enabled: true\n")
	_, err := issueToken(path, "esp32-7", 0)
	assert.ErrorContains(t, err, "secret")
}

func TestIssueTokenDisabled(t *testing.T) {
	path := writeConfig(t, "server:\n  auth:\n    enabled: false\n    secret: x\n")
	_, err := issueToken(path, "esp32-7", 0)
	assert.ErrorContains(t, err, "disabled")
}

func TestIssueTokenMissingConfig(t *testing.T) {
	_, err := issueToken(filepath.Join(t.TempDir(), "missing.yaml"), "esp32-7", 0)
	assert.Error(t, err)
}
