package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamrec.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", cfg.Addr)
	require.Equal(t, 5*time.Second, cfg.TickInterval)
	require.Equal(t, 15*time.Second, cfg.IdleBackoff)
	require.Equal(t, 200, cfg.LogLines)
	require.Equal(t, 24*time.Hour, cfg.FFmpegCeiling)
	require.Equal(t, "streamrec.db.lock", cfg.LockPath())
}

func TestDefaultReadsEnv(t *testing.T) {
	t.Setenv("STREAMREC_ADDR", ":9999")
	t.Setenv("STREAMREC_TICK_SECONDS", "2")
	t.Setenv("STREAMREC_STOP_GRACE_SECONDS", "not-a-number")
	t.Setenv("STREAMREC_MIN_FREE", "2 GB")

	cfg := Default()
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, 2*time.Second, cfg.TickInterval)
	require.Equal(t, 10*time.Second, cfg.StopGrace)
	require.Equal(t, uint64(2_000_000_000), cfg.MinFreeBytes)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
addr = "0.0.0.0:8181"
recording_dir = "/srv/radio"

[ffmpeg]
binary = "/usr/local/bin/ffmpeg"
args = "-reconnect 1 -metadata title='Morning show'"
ceiling_seconds = 90000

[scheduler]
tick_seconds = 1
shutdown_timeout_seconds = 45
min_free = "500 MiB"

[log]
level = "debug"
format = "console"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8181", cfg.Addr)
	require.Equal(t, "streamrec.db", cfg.DBPath)
	require.Equal(t, "/srv/radio", cfg.RecordingDir)
	require.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpegBinary)
	require.Equal(t, "-reconnect 1 -metadata title='Morning show'", cfg.FFmpegArgs)
	require.Equal(t, 25*time.Hour, cfg.FFmpegCeiling)
	require.Equal(t, time.Second, cfg.TickInterval)
	require.Equal(t, 15*time.Second, cfg.IdleBackoff)
	require.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, uint64(500*1024*1024), cfg.MinFreeBytes)
	require.Equal(t, "console", cfg.LogFormat)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
[scheduler]
tick_seconds = 0

[log]
level = "loud"
format = "xml"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tick_seconds must be > 0")
	require.Contains(t, err.Error(), "log.level")
	require.Contains(t, err.Error(), "log.format")

	_, err = Load(writeConfig(t, `[ffmpeg]
ceiling_seconds = 3600`))
	require.ErrorContains(t, err, "ffmpeg.ceiling_seconds")

	_, err = Load(writeConfig(t, `[scheduler]
min_free = "lots"`))
	require.ErrorContains(t, err, "scheduler.min_free")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "read config")
}
