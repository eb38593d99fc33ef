package collage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/harun/stitch/internal/metrics"
	"github.com/harun/stitch/internal/tracing"
)

// Settings are the collection parameters. They can be swapped at runtime
// through ApplySettings.
type Settings struct {
	CompletionKeyword string
	Debounce          time.Duration
	MinImages         int
}

// Message is one inbound chat message, reduced to what collection needs.
type Message struct {
	UserID int64
	ChatID int64
	Text   string
	Images []string
}

// Outcome describes a finished finalize attempt for the activity ledger.
type Outcome struct {
	SessionID  string
	UserID     int64
	Direction  Direction
	ImageCount int
	Status     string
	Duration   time.Duration
	Error      string
}

// Renderer turns an ordered list of image URLs into a PNG.
type Renderer interface {
	Render(ctx context.Context, images []string, direction Direction) ([]byte, error)
}

// Sender delivers replies back to the chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendImage(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// Recorder persists finalize outcomes.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// Events receives lifecycle events for live observers.
type Events interface {
	Publish(eventType string, payload interface{})
}

// Config configures a Controller.
type Config struct {
	Settings Settings
	Renderer Renderer
	Sender   Sender
	Recorder Recorder
	Events   Events
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Clock    clockwork.Clock
}

// Controller drives the collection state machine for all users.
type Controller struct {
	mu       sync.Mutex
	settings Settings
	sessions *Store
	timers   *Timers
	renderer Renderer
	sender   Sender
	recorder Recorder
	events   Events
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	clock    clockwork.Clock
	wg       sync.WaitGroup
	stopped  bool
}

// New creates a collection controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics is required")
	}
	if err := cfg.Settings.validate(); err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Controller{
		settings: cfg.Settings,
		sessions: NewStore(),
		timers:   NewTimers(clock),
		renderer: cfg.Renderer,
		sender:   cfg.Sender,
		recorder: cfg.Recorder,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		clock:    clock,
	}, nil
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.CompletionKeyword) == "" {
		return fmt.Errorf("completion keyword is required")
	}
	if s.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive")
	}
	if s.MinImages < 2 {
		return fmt.Errorf("min images must be at least 2")
	}
	return nil
}

// Start begins a collection session, replacing the user's existing session
// if there is one.
func (c *Controller) Start(ctx context.Context, userID, chatID int64, directionToken string) error {
	direction, err := ParseDirection(directionToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("controller is stopped")
	}

	_, replaced := c.sessions.Get(userID)
	if replaced {
		c.timers.Cancel(userID)
	}

	now := c.clock.Now()
	sess := &Session{
		ID:        newSessionID(),
		UserID:    userID,
		ChatID:    chatID,
		Direction: direction,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.sessions.Put(sess)

	c.metrics.SessionsStartedTotal.Inc()
	if replaced {
		c.metrics.SessionsReplacedTotal.Inc()
	}
	c.metrics.SessionsActive.Set(float64(c.sessions.Len()))

	keyword := c.settings.CompletionKeyword
	debounce := c.settings.Debounce
	c.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, sess.ID)
	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Info().
		Int64("userId", userID).
		Str("direction", string(direction)).
		Bool("replaced", replaced).
		Msg("Collection session started")

	c.publish("session.started", map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    userID,
		"direction":  string(direction),
		"replaced":   replaced,
	})

	text := fmt.Sprintf(
		"Collecting images for a %s collage. Send me photos, then say %q or pause for %d seconds.",
		direction, keyword, int(debounce.Seconds()),
	)
	if replaced {
		text = "Your previous collection was discarded. " + text
	}
	if err := c.sender.SendText(ctx, chatID, text); err != nil {
		logger.Warn().Err(err).Msg("Failed to send start confirmation")
	}

	return nil
}

// OnMessage feeds a chat message into the user's session. Messages from
// users without an active session are ignored.
func (c *Controller) OnMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}

	sess, ok := c.sessions.Get(msg.UserID)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if sess.Processing {
		c.mu.Unlock()
		tracing.LoggerFromContext(ctx, c.logger).Debug().
			Int64("userId", msg.UserID).
			Msg("Ignoring message, session is already being processed")
		return nil
	}

	var status string
	if len(msg.Images) > 0 {
		sess.Images = append(sess.Images, msg.Images...)
		sess.UpdatedAt = c.clock.Now()
		status = fmt.Sprintf("%d image(s) collected", len(sess.Images))
		c.metrics.ImagesCollectedTotal.Add(float64(len(msg.Images)))
	}

	sessionID := sess.ID
	userID := sess.UserID
	completed := strings.TrimSpace(msg.Text) == c.settings.CompletionKeyword

	if completed {
		c.timers.Cancel(userID)
	} else {
		c.timers.Reset(userID, c.settings.Debounce, func() {
			c.onTimerFired(userID, sessionID)
		})
	}
	c.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, sessionID)
	logger := tracing.LoggerFromContext(ctx, c.logger)

	if status != "" {
		if err := c.sender.SendText(ctx, msg.ChatID, status); err != nil {
			logger.Warn().Err(err).Msg("Failed to send collection status")
		}
	}

	if completed {
		logger.Info().Int64("userId", userID).Msg("Completion keyword received")
		return c.finalizeSession(ctx, userID, sessionID)
	}

	return nil
}

// Cancel discards a user's session without rendering.
func (c *Controller) Cancel(ctx context.Context, userID int64) error {
	c.mu.Lock()
	sess, ok := c.sessions.Get(userID)
	if !ok {
		c.mu.Unlock()
		return ErrNoSession
	}
	if sess.Processing {
		c.mu.Unlock()
		return ErrSessionProcessing
	}

	c.timers.Cancel(userID)
	c.sessions.Delete(userID)
	c.metrics.SessionsReplacedTotal.Inc()
	c.metrics.SessionsActive.Set(float64(c.sessions.Len()))
	c.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, sess.ID)
	tracing.LoggerFromContext(ctx, c.logger).Info().
		Int64("userId", userID).
		Int("images", len(sess.Images)).
		Msg("Collection session cancelled")

	c.publish("session.cancelled", map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    userID,
	})

	return nil
}

// SessionInfo returns a snapshot of the user's session, if any.
func (c *Controller) SessionInfo(userID int64) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions.Get(userID)
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// ActiveSessions returns snapshots of every active session.
func (c *Controller) ActiveSessions() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := c.sessions.All()
	snapshots := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snapshots = append(snapshots, sess.snapshot())
	}
	return snapshots
}

// Settings returns the current collection settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// ApplySettings swaps the collection settings. Pending timers keep the
// debounce they were scheduled with.
func (c *Controller) ApplySettings(s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()

	c.logger.Info().
		Str("keyword", s.CompletionKeyword).
		Dur("debounce", s.Debounce).
		Int("minImages", s.MinImages).
		Msg("Collection settings applied")
	return nil
}

// Shutdown cancels all pending timers, discards sessions and waits for
// in-flight renders to finish.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.timers.CancelAll()
	discarded := len(c.sessions.Drain())
	c.metrics.SessionsActive.Set(0)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn().Msg("Timed out waiting for in-flight renders")
		return ctx.Err()
	}

	c.logger.Info().Int("discarded", discarded).Msg("Collage controller stopped")
	return nil
}

// onTimerFired runs when a user's debounce expires.
func (c *Controller) onTimerFired(userID int64, sessionID string) {
	ctx := tracing.NewUpdateContext(context.Background(), userID)
	ctx = tracing.WithSessionID(ctx, sessionID)

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Info().Int64("userId", userID).Msg("Collection debounce expired")

	if err := c.finalizeSession(ctx, userID, sessionID); err != nil {
		logger.Error().Err(err).Msg("Finalize after debounce failed")
	}
}

// finalizeSession renders and delivers the collage for the given session.
// The sessionID pin makes a stale trigger harmless: a timer that fired for
// a session that was since replaced finds a different ID and backs off.
func (c *Controller) finalizeSession(ctx context.Context, userID int64, sessionID string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}

	sess, ok := c.sessions.Get(userID)
	if !ok || sess.ID != sessionID {
		c.mu.Unlock()
		return nil
	}
	if sess.Processing {
		c.mu.Unlock()
		return nil
	}

	logger := tracing.LoggerFromContext(ctx, c.logger)

	if len(sess.Images) < c.settings.MinImages {
		minImages := c.settings.MinImages
		keyword := c.settings.CompletionKeyword
		chatID := sess.ChatID
		imageCount := len(sess.Images)
		direction := sess.Direction
		c.mu.Unlock()

		logger.Info().
			Int64("userId", userID).
			Int("images", imageCount).
			Int("minImages", minImages).
			Msg("Not enough images to build a collage, keeping session open")

		c.metrics.RendersTotal.WithLabelValues(metrics.RenderStatusRejected).Inc()
		c.record(ctx, Outcome{
			SessionID:  sessionID,
			UserID:     userID,
			Direction:  direction,
			ImageCount: imageCount,
			Status:     metrics.RenderStatusRejected,
		})
		c.publish("render.rejected", map[string]interface{}{
			"session_id":  sessionID,
			"user_id":     userID,
			"image_count": imageCount,
			"min_images":  minImages,
		})

		text := fmt.Sprintf(
			"I need at least %d images to build a collage. Send more photos and say %q when you're done.",
			minImages, keyword,
		)
		if err := c.sender.SendText(ctx, chatID, text); err != nil {
			logger.Warn().Err(err).Msg("Failed to send collection reminder")
		}
		return nil
	}

	sess.Processing = true
	images := append([]string(nil), sess.Images...)
	direction := sess.Direction
	chatID := sess.ChatID
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()

	logger.Info().
		Int64("userId", userID).
		Int("images", len(images)).
		Str("direction", string(direction)).
		Msg("Rendering collage")

	start := c.clock.Now()
	png, renderErr := c.renderer.Render(ctx, images, direction)
	elapsed := c.clock.Since(start)

	// The session is spent either way. Only remove it if it is still the
	// one this finalize started from.
	c.mu.Lock()
	if current, ok := c.sessions.Get(userID); ok && current.ID == sessionID {
		c.timers.Cancel(userID)
		c.sessions.Delete(userID)
	}
	c.metrics.SessionsActive.Set(float64(c.sessions.Len()))
	c.mu.Unlock()

	c.metrics.RenderDuration.Observe(elapsed.Seconds())

	if renderErr != nil {
		c.metrics.RendersTotal.WithLabelValues(metrics.RenderStatusFailed).Inc()
		c.record(ctx, Outcome{
			SessionID:  sessionID,
			UserID:     userID,
			Direction:  direction,
			ImageCount: len(images),
			Status:     metrics.RenderStatusFailed,
			Duration:   elapsed,
			Error:      renderErr.Error(),
		})
		c.publish("render.failed", map[string]interface{}{
			"session_id":  sessionID,
			"user_id":     userID,
			"image_count": len(images),
			"duration_ms": elapsed.Milliseconds(),
			"error":       renderErr.Error(),
		})

		logger.Error().
			Err(renderErr).
			Int64("userId", userID).
			Dur("duration", elapsed).
			Msg("Collage render failed")

		if err := c.sender.SendText(ctx, chatID, "Something went wrong while building your collage. Please try again."); err != nil {
			logger.Warn().Err(err).Msg("Failed to send render failure notice")
		}
		return fmt.Errorf("render collage: %w", renderErr)
	}

	c.metrics.RendersTotal.WithLabelValues(metrics.RenderStatusOK).Inc()
	c.record(ctx, Outcome{
		SessionID:  sessionID,
		UserID:     userID,
		Direction:  direction,
		ImageCount: len(images),
		Status:     metrics.RenderStatusOK,
		Duration:   elapsed,
	})
	c.publish("render.completed", map[string]interface{}{
		"session_id":  sessionID,
		"user_id":     userID,
		"image_count": len(images),
		"duration_ms": elapsed.Milliseconds(),
	})

	logger.Info().
		Int64("userId", userID).
		Int("images", len(images)).
		Dur("duration", elapsed).
		Msg("Collage rendered")

	caption := fmt.Sprintf("Here's your %s collage of %d images.", direction, len(images))
	if err := c.sender.SendImage(ctx, chatID, "collage.png", png, caption); err != nil {
		logger.Error().Err(err).Msg("Failed to deliver collage")
		return fmt.Errorf("deliver collage: %w", err)
	}

	return nil
}

func (c *Controller) record(ctx context.Context, o Outcome) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, o); err != nil {
		c.logger.Warn().Err(err).Str("sessionId", o.SessionID).Msg("Failed to record render outcome")
	}
}

func (c *Controller) publish(eventType string, payload interface{}) {
	if c.events == nil {
		return
	}
	c.events.Publish(eventType, payload)
}
