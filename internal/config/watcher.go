package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// settingsSchema guards hot reloads: a hand-edited config file must match it
// before any live setting is applied
const settingsSchema = `{
  "type": "object",
  "properties": {
    "collage": {
      "type": "object",
      "properties": {
        "completion_keyword": {"type": "string", "minLength": 1},
        "debounce_ms": {"type": "integer", "minimum": 1},
        "min_images": {"type": "integer", "minimum": 2}
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

// ApplyFunc receives validated collection settings on each live reload
type ApplyFunc func(CollageConfig)

// Watcher applies collage setting changes from the config file to the
// running service without a restart
type Watcher struct {
	configPath string
	current    CollageConfig
	apply      ApplyFunc
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewWatcher creates a config watcher for the given file
func NewWatcher(configPath string, current CollageConfig, log zerolog.Logger, apply ApplyFunc) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if apply == nil {
		return nil, fmt.Errorf("apply callback is required")
	}

	return &Watcher{
		configPath: configPath,
		current:    current,
		apply:      apply,
		logger:     log.With().Str("component", "config-watcher").Logger(),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file for changes
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: editors often replace the file on save
	configDir := filepath.Dir(w.configPath)
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = watcher

	go w.run()

	w.logger.Info().Str("path", w.configPath).Msg("Watching config for live setting changes")
	return nil
}

func (w *Watcher) run() {
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Collapse editor write bursts into one reload
			debounce.Reset(500 * time.Millisecond)

		case <-debounce.C:
			if err := w.reload(); err != nil {
				w.logger.Warn().Err(err).Msg("Ignoring config change, keeping last good settings")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

// reload re-reads the config file and applies changed collage settings
func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	settings, err := ParseCollageSettings(data)
	if err != nil {
		return err
	}

	if settings == w.current {
		return nil
	}

	w.current = settings
	w.apply(settings)

	w.logger.Info().
		Str("keyword", settings.CompletionKeyword).
		Int("debounce_ms", settings.DebounceMS).
		Int("min_images", settings.MinImages).
		Msg("Applied live collage settings")

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

// ParseCollageSettings validates a raw config document against the settings
// schema and extracts the collage section, filling unset fields from
// defaults
func ParseCollageSettings(data []byte) (CollageConfig, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(settingsSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return CollageConfig{}, fmt.Errorf("failed to validate config document: %w", err)
	}
	if !result.Valid() {
		return CollageConfig{}, fmt.Errorf("config document rejected by schema: %s", result.Errors()[0].String())
	}

	doc := struct {
		Collage CollageConfig `json:"collage"`
	}{
		Collage: DefaultConfig().Collage,
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return CollageConfig{}, fmt.Errorf("failed to parse config document: %w", err)
	}

	if err := doc.Collage.Validate(); err != nil {
		return CollageConfig{}, err
	}

	return doc.Collage, nil
}
