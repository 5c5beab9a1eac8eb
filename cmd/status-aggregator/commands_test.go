package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "log:\n  level: error\npublish:\n  directory: "+dir+"\n")

	out, err := execute(t, "--config", path, "run-once")
	require.NoError(t, err)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Contains(t, summary, "run_id")

	_, err = os.Stat(filepath.Join(dir, "status.json"))
	assert.NoError(t, err)
}

func TestReset_RequiresConfirmation(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	_, err := execute(t, "--config", path, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := execute(t, "--config", path, "reset", "--yes")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":0}`, out)
}

func TestToken(t *testing.T) {
	path := writeConfig(t, "admin:\n  signing_key: cli-secret\n  issuer: cli\n")

	out, err := execute(t, "--config", path, "token", "--subject", "ops", "--ttl", "10m")
	require.NoError(t, err)

	auth, err := identity.NewAuthenticator(identity.Config{SigningKey: "cli-secret", Issuer: "cli"})
	require.NoError(t, err)
	subject, err := auth.ValidateToken(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)
}

func TestToken_RequiresSigningKey(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")
	_, err := execute(t, "--config", path, "token", "--ttl", time.Minute.String())
	assert.Error(t, err)
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")
	_, err := execute(t, "--config", path, "migrate", "up")
	assert.Error(t, err)
}
