package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "astroglossary version "+Version)
}

func TestNewLogger(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}

	for name, level := range cases {
		t.Run(name, func(t *testing.T) {
			logger := newLogger(name)
			assert.True(t, logger.Enabled(context.Background(), level))
			assert.False(t, logger.Enabled(context.Background(), level-1))
		})
	}
}

func TestStatusWithoutServer(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ASTRO_CLIENT_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("ASTRO_CLIENT_CACHE_PATH", filepath.Join(dir, "client.db"))

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--log-level", "error"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Server Down: Changes will sync later")
	assert.Contains(t, out.String(), "not signed in")
	assert.Contains(t, out.String(), "queued:  0")
}
