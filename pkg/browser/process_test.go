package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/internal/metrics"
)

func newTestManager(cfg config.BrowserConfig) *Manager {
	return NewManager(cfg, metrics.NewMetrics(), zerolog.Nop())
}

func TestNewManager(t *testing.T) {
	m := newTestManager(config.BrowserConfig{Headless: true})
	assert.NotNil(t, m)
	assert.False(t, m.IsRunning())
}

func TestEnsureUserDataDir(t *testing.T) {
	t.Run("creates configured directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "chrome-profile")
		m := newTestManager(config.BrowserConfig{UserDataDir: dir})

		require.NoError(t, m.ensureUserDataDir())

		_, err := os.Stat(dir)
		assert.NoError(t, err)
	})

	t.Run("falls back to a temp directory", func(t *testing.T) {
		m := newTestManager(config.BrowserConfig{})

		require.NoError(t, m.ensureUserDataDir())
		assert.NotEmpty(t, m.cfg.UserDataDir)
	})
}

func TestFindAvailablePort(t *testing.T) {
	port, err := findAvailablePort(39222)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 39222)
	assert.Less(t, port, 39322)
}

func TestParseCDPPort(t *testing.T) {
	tests := []struct {
		name     string
		cdpURL   string
		expected int
		wantErr  bool
	}{
		{"valid URL", "ws://localhost:9222", 9222, false},
		{"different port", "ws://localhost:9333", 9333, false},
		{"invalid format", "http://localhost:9222", 0, true},
		{"no port", "ws://localhost", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, err := ParseCDPPort(tt.cdpURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, port)
			}
		})
	}
}

func TestValidateCDPPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"valid port", 9222, false},
		{"valid high port", 50000, false},
		{"too low", 1023, true},
		{"too high", 65536, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCDPPort(tt.port)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAcquirePageBeforeStart(t *testing.T) {
	m := newTestManager(config.BrowserConfig{Headless: true})

	_, err := m.AcquirePage(context.Background())
	require.Error(t, err)

	var berr *BrowserError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ErrCodeBrowserCrash, berr.Code)

	assert.Error(t, m.CheckHealth(context.Background()))
	assert.NoError(t, m.Stop())
}

// onePixelPNG is a 1x1 transparent PNG, enough to exercise image decoding
// without touching the network.
const onePixelPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func TestManagerLifecycle(t *testing.T) {
	if !IsChromeInstalled() {
		t.Skip("Chrome not installed")
	}

	m := newTestManager(config.BrowserConfig{
		Headless:    true,
		NoSandbox:   true,
		UserDataDir: filepath.Join(t.TempDir(), "chrome-profile"),
	})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsRunning())
	require.NoError(t, m.CheckHealth(ctx))

	// Starting again is a no-op
	require.NoError(t, m.Start(ctx))

	page, err := m.AcquirePage(ctx)
	require.NoError(t, err)

	doc := `<!DOCTYPE html><html><body>` +
		`<img src="` + onePixelPNG + `">` +
		`<img src="` + onePixelPNG + `">` +
		`</body></html>`

	require.NoError(t, page.SetContent(ctx, doc))
	require.NoError(t, page.WaitStable(ctx))

	png, err := page.CaptureFullPage(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	page.Release()
	page.Release() // second release is a no-op

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}
