// Package browser manages a single headless Chrome process and hands out
// disposable pages for rendering.
package browser

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/internal/metrics"
)

// Manager owns the Chrome process lifecycle. It either spawns its own
// instance or attaches to one via ConnectURL, and exposes pages through
// AcquirePage.
type Manager struct {
	cfg     config.BrowserConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.RWMutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	port     int
	spawned  bool
	running  bool
}

// NewManager creates a manager for the given browser configuration.
func NewManager(cfg config.BrowserConfig, m *metrics.Metrics, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "browser").Logger(),
	}
}

// Start brings up the browser connection. When ConnectURL is set the manager
// attaches to an existing instance and never kills it; otherwise it spawns
// its own Chrome.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if m.cfg.ConnectURL != "" {
		return m.attach(ctx)
	}
	return m.spawn(ctx)
}

func (m *Manager) spawn(ctx context.Context) error {
	if err := m.ensureUserDataDir(); err != nil {
		return errorf(ErrCodeConfiguration, "Failed to create user data directory: %v", err)
	}

	port := m.cfg.RemoteDebuggingPort
	if port == 0 {
		var err error
		port, err = findAvailablePort(9222)
		if err != nil {
			return errorf(ErrCodeConfiguration, "No available debugging port: %v", err)
		}
	}
	if err := ValidateCDPPort(port); err != nil {
		return errorf(ErrCodeConfiguration, "Invalid debugging port: %v", err)
	}

	l := launcher.New().
		Headless(m.cfg.Headless).
		UserDataDir(m.cfg.UserDataDir).
		RemoteDebuggingPort(port)

	if m.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}
	if m.cfg.BrowserPath != "" {
		l = l.Bin(m.cfg.BrowserPath)
	}

	url, err := l.Launch()
	if err != nil {
		return errorf(ErrCodeBrowserCrash, "Failed to launch Chrome: %v", err)
	}

	if err := waitForCDP(ctx, port, 10*time.Second); err != nil {
		l.Kill()
		return err
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return errorf(ErrCodeBrowserCrash, "Failed to connect to CDP: %v", err)
	}

	m.launcher = l
	m.browser = browser
	m.port = port
	m.spawned = true
	m.running = true

	m.logger.Info().
		Bool("headless", m.cfg.Headless).
		Int("port", port).
		Msg("Browser process started")
	return nil
}

func (m *Manager) attach(ctx context.Context) error {
	port, err := ParseCDPPort(m.cfg.ConnectURL)
	if err == nil {
		if err := waitForCDP(ctx, port, 10*time.Second); err != nil {
			return err
		}
		m.port = port
	}

	browser := rod.New().ControlURL(m.cfg.ConnectURL)
	if err := browser.Connect(); err != nil {
		return errorf(ErrCodeBrowserCrash, "Failed to attach to existing browser: %v", err)
	}

	m.browser = browser
	m.spawned = false
	m.running = true

	m.logger.Info().Str("connectUrl", m.cfg.ConnectURL).Msg("Attached to existing browser")
	return nil
}

// Stop tears down the browser connection. A spawned Chrome is killed, an
// attached one is left running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("Failed to close browser connection")
		}
		m.browser = nil
	}
	if m.spawned && m.launcher != nil {
		m.launcher.Kill()
		m.launcher = nil
	}

	m.running = false
	m.logger.Info().Msg("Browser stopped")
	return nil
}

// IsRunning checks if the browser connection is up.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// CheckHealth verifies the CDP endpoint still responds.
func (m *Manager) CheckHealth(ctx context.Context) error {
	m.mu.RLock()
	running := m.running
	port := m.port
	m.mu.RUnlock()

	if !running {
		return errorf(ErrCodeBrowserCrash, "Browser not running")
	}
	if port == 0 {
		return nil
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 2*time.Second)
	if err != nil {
		return errorf(ErrCodeBrowserCrash, "CDP endpoint not responding")
	}
	conn.Close()
	return nil
}

func (m *Manager) ensureUserDataDir() error {
	if m.cfg.UserDataDir == "" {
		m.cfg.UserDataDir = filepath.Join(os.TempDir(), "stitch-browser")
	}
	return os.MkdirAll(m.cfg.UserDataDir, 0755)
}

// waitForCDP waits for the CDP endpoint to become available
func waitForCDP(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), time.Second)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(100 * time.Millisecond)
	}

	return errorf(ErrCodeTimeout, "CDP endpoint not available after %v", timeout)
}

// findAvailablePort finds an available port starting from the given port
func findAvailablePort(startPort int) (int, error) {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port found in range %d-%d", startPort, startPort+100)
}

// ParseCDPPort extracts the port number from a CDP URL
func ParseCDPPort(cdpURL string) (int, error) {
	var port int
	_, err := fmt.Sscanf(cdpURL, "ws://localhost:%d", &port)
	if err != nil {
		return 0, fmt.Errorf("invalid CDP URL format: %s", cdpURL)
	}
	return port, nil
}

// ValidateCDPPort checks if a CDP port is valid
func ValidateCDPPort(port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("CDP port must be between 1024 and 65535, got %d", port)
	}
	return nil
}

// IsChromeInstalled checks if Chrome is installed
func IsChromeInstalled() bool {
	_, err := launcher.NewBrowser().Get()
	return err == nil
}
