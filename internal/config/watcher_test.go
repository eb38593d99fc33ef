package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcher(t *testing.T) {
	t.Run("valid arguments", func(t *testing.T) {
		w, err := NewWatcher("/path/to/stitch.json", DefaultConfig().Collage, zerolog.Nop(), func(CollageConfig) {})
		require.NoError(t, err)
		assert.NotNil(t, w)
	})

	t.Run("missing config path", func(t *testing.T) {
		_, err := NewWatcher("", DefaultConfig().Collage, zerolog.Nop(), func(CollageConfig) {})
		assert.Error(t, err)
	})

	t.Run("missing apply callback", func(t *testing.T) {
		_, err := NewWatcher("/path/to/stitch.json", DefaultConfig().Collage, zerolog.Nop(), nil)
		assert.Error(t, err)
	})
}

func TestParseCollageSettings(t *testing.T) {
	t.Run("full collage section", func(t *testing.T) {
		doc := `{
			"collage": {
				"completion_keyword": "finished",
				"debounce_ms": 5000,
				"min_images": 3
			}
		}`

		settings, err := ParseCollageSettings([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "finished", settings.CompletionKeyword)
		assert.Equal(t, 5000, settings.DebounceMS)
		assert.Equal(t, 3, settings.MinImages)
	})

	t.Run("missing fields fall back to defaults", func(t *testing.T) {
		doc := `{
			"collage": {
				"debounce_ms": 5000
			}
		}`

		settings, err := ParseCollageSettings([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "done", settings.CompletionKeyword)
		assert.Equal(t, 5000, settings.DebounceMS)
		assert.Equal(t, 2, settings.MinImages)
	})

	t.Run("missing collage section keeps defaults", func(t *testing.T) {
		settings, err := ParseCollageSettings([]byte(`{"telegram": {"dm_policy": "open"}}`))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Collage, settings)
	})

	t.Run("rejects min_images below two", func(t *testing.T) {
		doc := `{"collage": {"min_images": 1}}`

		_, err := ParseCollageSettings([]byte(doc))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "schema")
	})

	t.Run("rejects empty keyword", func(t *testing.T) {
		doc := `{"collage": {"completion_keyword": ""}}`

		_, err := ParseCollageSettings([]byte(doc))
		assert.Error(t, err)
	})

	t.Run("rejects wrong field type", func(t *testing.T) {
		doc := `{"collage": {"debounce_ms": "fast"}}`

		_, err := ParseCollageSettings([]byte(doc))
		assert.Error(t, err)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := ParseCollageSettings([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestWatcherAppliesFileChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stitch.json")

	initial := `{"collage": {"completion_keyword": "done"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(initial), 0644))

	applied := make(chan CollageConfig, 1)
	w, err := NewWatcher(configPath, DefaultConfig().Collage, zerolog.Nop(), func(c CollageConfig) {
		applied <- c
	})
	require.NoError(t, err)

	require.NoError(t, w.Start())
	defer w.Stop()

	updated := `{"collage": {"completion_keyword": "finished"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0644))

	select {
	case settings := <-applied:
		assert.Equal(t, "finished", settings.CompletionKeyword)
	case <-time.After(5 * time.Second):
		t.Fatal("expected settings change to be applied")
	}
}

func TestWatcherIgnoresInvalidChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stitch.json")

	initial := `{"collage": {"completion_keyword": "done"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(initial), 0644))

	applied := make(chan CollageConfig, 1)
	w, err := NewWatcher(configPath, DefaultConfig().Collage, zerolog.Nop(), func(c CollageConfig) {
		applied <- c
	})
	require.NoError(t, err)

	require.NoError(t, w.Start())
	defer w.Stop()

	// Schema violation keeps the last good settings
	require.NoError(t, os.WriteFile(configPath, []byte(`{"collage": {"min_images": 1}}`), 0644))

	select {
	case settings := <-applied:
		t.Fatalf("expected no settings change, got %+v", settings)
	case <-time.After(2 * time.Second):
	}
}
