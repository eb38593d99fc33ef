package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/pkg/browser"
	"github.com/harun/stitch/pkg/collage"
)

// createTestDaemon builds a daemon against a fake Telegram API, with every
// state file rooted in a temp dir.
func createTestDaemon(t *testing.T) (*Daemon, *fakeTelegramState) {
	t.Helper()

	tmpDir := t.TempDir()
	state, endpoint := newFakeTelegramAPI(t)

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Telegram.BotToken = testBotToken
	cfg.Telegram.DMPolicy = "open"
	cfg.Telegram.APIEndpoint = endpoint
	cfg.Ledger.Path = filepath.Join(tmpDir, "stitch.db")

	daemon, err := New(cfg, newTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		if daemon.ledger != nil {
			_ = daemon.ledger.Close()
		}
	})

	return daemon, state
}

func TestNewDaemon(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	assert.NotNil(t, daemon.browserMgr)
	assert.NotNil(t, daemon.renderer)
	assert.NotNil(t, daemon.ledger)
	assert.NotNil(t, daemon.controller)
	assert.NotNil(t, daemon.telegramBot)
	assert.NotNil(t, daemon.ingress)
	assert.NotNil(t, daemon.maintenance)
	assert.NotNil(t, daemon.lifecycle)
}

func TestNewDaemonValidation(t *testing.T) {
	log := newTestLogger(t)

	_, err := New(nil, log)
	assert.ErrorContains(t, err, "config is required")

	_, err = New(config.DefaultConfig(), nil)
	assert.ErrorContains(t, err, "logger is required")

	// A missing bot token fails service initialization before any network use.
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Ledger.Enabled = false
	_, err = New(cfg, log)
	assert.ErrorContains(t, err, "failed to initialize services")
}

func TestDaemonStatusBeforeStart(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)
	assert.Equal(t, 0, status.ActiveSessions)
}

func TestDaemonStopWithoutStart(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	err := daemon.Stop()
	assert.ErrorContains(t, err, "daemon is not running")
}

func TestDaemonStatusPayload(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	payload := daemon.statusPayload(context.Background())

	assert.Equal(t, false, payload["running"])
	assert.Equal(t, 0, payload["active_sessions"])
	assert.Equal(t, false, payload["browser_running"])
	assert.Contains(t, payload, "bot")
	assert.Contains(t, payload, "renders")

	settings, ok := payload["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "done", settings["completion_keyword"])
	assert.Equal(t, int64(10000), settings["debounce_ms"])
	assert.Equal(t, 2, settings["min_images"])
}

func TestApplyCollageSettings(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	daemon.applyCollageSettings(config.CollageConfig{
		CompletionKeyword: "ready",
		DebounceMS:        5000,
		MinImages:         3,
	})

	settings := daemon.controller.Settings()
	assert.Equal(t, "ready", settings.CompletionKeyword)
	assert.Equal(t, 5*time.Second, settings.Debounce)
	assert.Equal(t, 3, settings.MinImages)
	assert.Equal(t, "ready", daemon.config.Collage.CompletionKeyword)

	// Invalid settings are rejected and the previous ones stay in effect.
	daemon.applyCollageSettings(config.CollageConfig{
		CompletionKeyword: "",
		DebounceMS:        5000,
		MinImages:         3,
	})

	assert.Equal(t, "ready", daemon.controller.Settings().CompletionKeyword)
}

func TestWatchConfig(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	configPath := filepath.Join(t.TempDir(), "stitch.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"collage":{"completion_keyword":"done","debounce_ms":10000,"min_images":2}}`), 0644))

	require.NoError(t, daemon.WatchConfig(configPath))
	assert.NotNil(t, daemon.configWatcher)

	err := daemon.WatchConfig("")
	assert.Error(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	if !browser.IsChromeInstalled() {
		t.Skip("chrome is not installed")
	}

	daemon, _ := createTestDaemon(t)

	require.NoError(t, daemon.Start())

	status := daemon.Status()
	assert.True(t, status.Running)

	err := daemon.Start()
	assert.ErrorContains(t, err, "daemon is already running")

	// The PID file is in place while running.
	pid, err := daemon.lifecycle.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, daemon.Status().Uptime, time.Duration(0))

	require.NoError(t, daemon.Stop())

	status = daemon.Status()
	assert.False(t, status.Running)

	err = daemon.Stop()
	assert.ErrorContains(t, err, "daemon is not running")
}

func TestDaemonSessionCountsInStatus(t *testing.T) {
	daemon, _ := createTestDaemon(t)

	require.NoError(t, daemon.controller.Start(context.Background(), 42, 100, "horizontal"))
	require.NoError(t, daemon.controller.Start(context.Background(), 43, 101, "vertical"))

	status := daemon.Status()
	assert.Equal(t, 2, status.ActiveSessions)

	payload := daemon.statusPayload(context.Background())
	assert.Equal(t, 2, payload["active_sessions"])

	sessions, ok := payload["sessions"].([]collage.Snapshot)
	require.True(t, ok)
	assert.Len(t, sessions, 2)
}
