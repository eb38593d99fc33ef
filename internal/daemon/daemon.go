// Package daemon assembles the Stitch service: it owns the browser, the
// render pipeline, the collection controller and the Telegram transport,
// and manages their lifecycle as one unit.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/internal/logger"
	"github.com/harun/stitch/internal/maintenance"
	"github.com/harun/stitch/internal/metrics"
	"github.com/harun/stitch/internal/telegram"
	"github.com/harun/stitch/internal/tracing"
	"github.com/harun/stitch/pkg/browser"
	"github.com/harun/stitch/pkg/collage"
	"github.com/harun/stitch/pkg/gateway"
	"github.com/harun/stitch/pkg/ledger"
	"github.com/harun/stitch/pkg/render"
)

// Daemon represents the Stitch daemon service
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	// Core modules
	browserMgr *browser.Manager
	renderer   *render.Renderer
	ledger     *ledger.Store
	controller *collage.Controller

	// Services
	gatewayServer *gateway.Server
	maintenance   *maintenance.Service
	configWatcher *config.Watcher

	// Telegram
	telegramBot *telegram.Bot
	ingress     *collageIngress

	// Internal
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		cancel()
		if d.ledger != nil {
			_ = d.ledger.Close()
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes the browser, renderer and ledger
func (d *Daemon) initializeCoreModules() error {
	d.browserMgr = browser.NewManager(d.config.Browser, d.metrics, d.logger.GetZerolog())
	d.logger.Info().Bool("headless", d.config.Browser.Headless).Msg("Browser manager initialized")

	renderer, err := render.New(render.Config{
		Provider:    browserPages{manager: d.browserMgr},
		Timeout:     time.Duration(d.config.Render.TimeoutMS) * time.Millisecond,
		MaxAttempts: d.config.Render.MaxAttempts,
		Backoff:     time.Duration(d.config.Render.RetryBackoffMS) * time.Millisecond,
		Metrics:     d.metrics,
		Logger:      d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	d.renderer = renderer
	d.logger.Info().
		Int("timeoutMs", d.config.Render.TimeoutMS).
		Int("maxAttempts", d.config.Render.MaxAttempts).
		Msg("Renderer initialized")

	if d.config.Ledger.Enabled {
		store, err := ledger.NewStore(ledger.Config{
			DBPath: d.config.Ledger.Path,
			Logger: d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to open render ledger: %w", err)
		}
		d.ledger = store
		d.logger.Info().Str("path", d.config.Ledger.Path).Msg("Render ledger initialized")
	}

	return nil
}

// initializeServices initializes the transport, controller and background services
func (d *Daemon) initializeServices() error {
	bot, err := telegram.New(&d.config.Telegram, d.metrics, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.telegramBot = bot
	d.logger.Info().Str("dmPolicy", d.config.Telegram.DMPolicy).Msg("Telegram bot initialized")

	if d.config.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Host:         d.config.Gateway.Host,
			Port:         d.config.Gateway.Port,
			SharedSecret: d.config.Gateway.SharedSecret,
			Status:       gatewayStatus{daemon: d},
			Metrics:      d.metrics,
			Logger:       d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gatewayServer = server
		d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")
	}

	var recorder collage.Recorder
	if d.ledger != nil {
		recorder = ledgerRecorder{store: d.ledger}
	}
	var events collage.Events
	if d.gatewayServer != nil {
		events = gatewayEvents{server: d.gatewayServer}
	}

	controller, err := collage.New(collage.Config{
		Settings: collage.Settings{
			CompletionKeyword: d.config.Collage.CompletionKeyword,
			Debounce:          time.Duration(d.config.Collage.DebounceMS) * time.Millisecond,
			MinImages:         d.config.Collage.MinImages,
		},
		Renderer: directionRenderer{renderer: d.renderer},
		Sender:   d.telegramBot,
		Recorder: recorder,
		Events:   events,
		Metrics:  d.metrics,
		Logger:   d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection controller: %w", err)
	}
	d.controller = controller
	d.logger.Info().
		Str("keyword", d.config.Collage.CompletionKeyword).
		Int("debounceMs", d.config.Collage.DebounceMS).
		Int("minImages", d.config.Collage.MinImages).
		Msg("Collection controller initialized")

	d.ingress = newCollageIngress(d.telegramBot, d.controller, d.logger.GetZerolog())
	d.logger.Info().Msg("Collage ingress initialized")

	if d.ledger != nil && d.config.Maintenance.Schedule != "" && d.config.Ledger.RetentionDays > 0 {
		svc, err := maintenance.New(maintenance.Config{
			Schedule:  d.config.Maintenance.Schedule,
			Retention: time.Duration(d.config.Ledger.RetentionDays) * 24 * time.Hour,
			Pruner:    d.ledger,
			Sessions:  func() int { return len(d.controller.ActiveSessions()) },
			Logger:    d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create maintenance service: %w", err)
		}
		d.maintenance = svc
		d.logger.Info().Str("schedule", d.config.Maintenance.Schedule).Msg("Maintenance service initialized")
	}

	return nil
}

// WatchConfig enables live reload of the collage settings from the config
// file at path. It must be called before Start.
func (d *Daemon) WatchConfig(path string) error {
	watcher, err := config.NewWatcher(path, d.config.Collage, d.logger.GetZerolog(), d.applyCollageSettings)
	if err != nil {
		return err
	}
	d.configWatcher = watcher
	return nil
}

func (d *Daemon) applyCollageSettings(cc config.CollageConfig) {
	settings := collage.Settings{
		CompletionKeyword: cc.CompletionKeyword,
		Debounce:          time.Duration(cc.DebounceMS) * time.Millisecond,
		MinImages:         cc.MinImages,
	}
	if err := d.controller.ApplySettings(settings); err != nil {
		d.logger.Warn().Err(err).Msg("Rejected collage settings from config reload")
		return
	}

	d.mu.Lock()
	d.config.Collage = cc
	d.mu.Unlock()

	d.logger.Info().
		Str("keyword", cc.CompletionKeyword).
		Int("debounceMs", cc.DebounceMS).
		Int("minImages", cc.MinImages).
		Msg("Collage settings reloaded")
}

// Start starts the daemon and all its services
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("traceId", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting Stitch daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	// The browser comes up first so the renderer has pages to draw on.
	browserCtx, cancelBrowser := context.WithTimeout(d.ctx, 60*time.Second)
	err := d.browserMgr.Start(browserCtx)
	cancelBrowser()
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info().Msg("Browser started")

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server started")
	}

	// Handlers must be attached before the bot begins polling.
	if err := d.ingress.Start(); err != nil {
		return fmt.Errorf("failed to start collage ingress: %w", err)
	}

	if err := d.telegramBot.Start(); err != nil {
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}
	logger.Info().Msg("Telegram bot started")

	if d.maintenance != nil {
		d.maintenance.Start()
		logger.Info().Msg("Maintenance service started")
	}

	if d.configWatcher != nil {
		if err := d.configWatcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config watcher failed to start, live reload disabled")
		} else {
			logger.Info().Msg("Config watcher started")
		}
	}

	logger.Info().Msg("Stitch daemon started successfully")
	return nil
}

// Stop stops the daemon and all its services
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping Stitch daemon")

	if d.configWatcher != nil {
		d.configWatcher.Stop()
	}

	if d.maintenance != nil {
		d.maintenance.Stop()
	}

	// Intake stops first so no new sessions arrive while draining.
	if d.telegramBot.IsRunning() {
		if err := d.telegramBot.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop telegram bot")
		}
	}
	d.ingress.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	if err := d.controller.Shutdown(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Collection controller did not drain cleanly")
	}
	cancelShutdown()

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if err := d.browserMgr.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop browser")
	}

	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close render ledger")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.cancel()

	d.logger.Info().Msg("Stitch daemon stopped successfully")
	return nil
}

// Wait blocks until the daemon receives a shutdown signal
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	d.logger.Info().Msg("Received shutdown signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping daemon")
	}
}

// Status contains daemon runtime status
type Status struct {
	Running        bool          `json:"running"`
	Uptime         time.Duration `json:"uptime"`
	StartTime      time.Time     `json:"start_time"`
	ActiveSessions int           `json:"active_sessions"`
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	if d.controller != nil {
		status.ActiveSessions = len(d.controller.ActiveSessions())
	}

	return status
}

// statusPayload builds the detailed snapshot served at the gateway /status
// endpoint.
func (d *Daemon) statusPayload(ctx context.Context) map[string]interface{} {
	st := d.Status()

	payload := map[string]interface{}{
		"running":         st.Running,
		"active_sessions": st.ActiveSessions,
	}
	if st.Running {
		payload["start_time"] = st.StartTime
		payload["uptime_seconds"] = int64(st.Uptime.Seconds())
	}

	if d.controller != nil {
		if sessions := d.controller.ActiveSessions(); len(sessions) > 0 {
			payload["sessions"] = sessions
		}
		settings := d.controller.Settings()
		payload["settings"] = map[string]interface{}{
			"completion_keyword": settings.CompletionKeyword,
			"debounce_ms":        settings.Debounce.Milliseconds(),
			"min_images":         settings.MinImages,
		}
	}
	if d.browserMgr != nil {
		payload["browser_running"] = d.browserMgr.IsRunning()
	}
	if d.telegramBot != nil {
		payload["bot"] = d.telegramBot.GetBotInfo()
	}
	if d.ledger != nil {
		if counts, err := d.ledger.CountByStatus(ctx); err == nil {
			payload["renders"] = counts
		}
	}

	return payload
}

// gatewayStatus adapts the daemon to the gateway's status provider.
type gatewayStatus struct {
	daemon *Daemon
}

func (g gatewayStatus) Status(ctx context.Context) (interface{}, error) {
	return g.daemon.statusPayload(ctx), nil
}

// browserPages adapts the browser manager to the renderer's page provider.
type browserPages struct {
	manager *browser.Manager
}

func (p browserPages) AcquirePage(ctx context.Context) (render.Page, error) {
	page, err := p.manager.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// directionRenderer adapts the render pipeline to the controller's renderer.
type directionRenderer struct {
	renderer *render.Renderer
}

func (r directionRenderer) Render(ctx context.Context, images []string, direction collage.Direction) ([]byte, error) {
	return r.renderer.Render(ctx, images, string(direction))
}

// ledgerRecorder writes render outcomes to the ledger.
type ledgerRecorder struct {
	store *ledger.Store
}

func (r ledgerRecorder) Record(ctx context.Context, o collage.Outcome) error {
	return r.store.Record(ctx, ledger.Entry{
		SessionID:  o.SessionID,
		UserID:     o.UserID,
		Direction:  string(o.Direction),
		ImageCount: o.ImageCount,
		Status:     o.Status,
		DurationMS: o.Duration.Milliseconds(),
		Error:      o.Error,
	})
}

// gatewayEvents forwards controller events to connected websocket clients.
type gatewayEvents struct {
	server *gateway.Server
}

func (e gatewayEvents) Publish(eventType string, payload interface{}) {
	e.server.Broadcast(eventType, payload)
}
