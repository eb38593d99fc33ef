// Package render turns a list of image URLs into a single collage PNG by
// laying them out in a headless browser page and screenshotting the result.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/harun/stitch/internal/metrics"
)

// Page is a single disposable browser page. Release must be called exactly
// once when the caller is done with it, on every path.
type Page interface {
	SetContent(ctx context.Context, html string) error
	WaitStable(ctx context.Context) error
	CaptureFullPage(ctx context.Context) ([]byte, error)
	Release()
}

// PageProvider hands out fresh pages backed by a running browser.
type PageProvider interface {
	AcquirePage(ctx context.Context) (Page, error)
}

// Config configures a Renderer.
type Config struct {
	Provider    PageProvider
	Timeout     time.Duration // per-attempt budget, default 30s
	MaxAttempts int           // default 3
	Backoff     time.Duration // pause between attempts, default 1s
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	Clock       clockwork.Clock
}

// Renderer renders collages with retry on lost browser connections.
type Renderer struct {
	provider    PageProvider
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	clock       clockwork.Clock
}

// New creates a Renderer from the given config.
func New(cfg Config) (*Renderer, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("page provider is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Renderer{
		provider:    cfg.Provider,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "render").Logger(),
		clock:       cfg.Clock,
	}, nil
}

// Render lays out the images in the given direction and captures the page as
// a PNG. A lost browser connection is retried on a fresh page up to
// MaxAttempts; any other failure is terminal.
func (r *Renderer) Render(ctx context.Context, images []string, direction string) ([]byte, error) {
	if len(images) == 0 {
		return nil, &Error{Code: ErrCodeValidation, Message: "no images to render"}
	}
	if direction != DirectionHorizontal && direction != DirectionVertical {
		return nil, &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("unsupported direction %q", direction)}
	}

	doc := BuildDocument(images, direction)

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		png, err := r.renderOnce(ctx, doc)
		if err == nil {
			r.logger.Debug().
				Int("imageCount", len(images)).
				Str("direction", direction).
				Int("attempt", attempt).
				Msg("Collage captured")
			return png, nil
		}

		if !isConnectionClosed(err) {
			return nil, err
		}

		lastErr = err
		if attempt < r.maxAttempts {
			r.metrics.RenderRetriesTotal.Inc()
			r.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("maxAttempts", r.maxAttempts).
				Msg("Browser connection lost, retrying on a fresh page")

			select {
			case <-r.clock.After(r.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, &Error{
		Code:    ErrCodeRetryExhausted,
		Message: fmt.Sprintf("render failed after %d attempts", r.maxAttempts),
		Err:     lastErr,
	}
}

// renderOnce runs a single attempt on a fresh page within the per-attempt
// timeout. The page is always released, including on failure.
func (r *Renderer) renderOnce(ctx context.Context, doc string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page, err := r.provider.AcquirePage(ctx)
	if err != nil {
		return nil, &Error{Code: ErrCodeBrowser, Message: "failed to acquire a browser page", Err: err}
	}
	defer page.Release()

	if err := page.SetContent(ctx, doc); err != nil {
		return nil, &Error{Code: ErrCodeBrowser, Message: "failed to load collage document", Err: err}
	}
	if err := page.WaitStable(ctx); err != nil {
		return nil, &Error{Code: ErrCodeTimeout, Message: "timed out waiting for images to decode", Err: err}
	}

	png, err := page.CaptureFullPage(ctx)
	if err != nil {
		return nil, &Error{Code: ErrCodeBrowser, Message: "failed to capture collage screenshot", Err: err}
	}
	return png, nil
}

// isConnectionClosed reports whether the error is the browser dropping the
// CDP connection, the one failure mode worth a fresh page.
func isConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "use of closed network connection")
}
