package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/stitch.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/stitch.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "open", cfg.Telegram.DMPolicy)
		assert.Equal(t, "done", cfg.Collage.CompletionKeyword)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stitch.json")

		// Create a test config file
		testConfig := `{
			"telegram": {
				"bot_token": "123456789:test-token",
				"dm_policy": "open"
			},
			"collage": {
				"completion_keyword": "finished",
				"min_images": 3
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "123456789:test-token", cfg.Telegram.BotToken)
		assert.Equal(t, "finished", cfg.Collage.CompletionKeyword)
		assert.Equal(t, 3, cfg.Collage.MinImages)
	})

	t.Run("file values merge over defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stitch.json")

		testConfig := `{
			"collage": {
				"debounce_ms": 5000
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Collage.DebounceMS)
		assert.Equal(t, "done", cfg.Collage.CompletionKeyword)
		assert.Equal(t, 30000, cfg.Render.TimeoutMS)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stitch.json")

		testConfig := `{
			"telegram": {
				"bot_token": "123456789:test-token"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
		assert.NotEmpty(t, cfg.Ledger.Path)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stitch.json")

		cfg := DefaultConfig()
		cfg.Telegram.BotToken = "123456789:test-token"
		cfg.Collage.CompletionKeyword = "finished"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify file was created
		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		// Load and verify
		loader2 := NewLoader(configPath)
		loadedCfg, err := loader2.Load()
		require.NoError(t, err)
		assert.Equal(t, "123456789:test-token", loadedCfg.Telegram.BotToken)
		assert.Equal(t, "finished", loadedCfg.Collage.CompletionKeyword)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "stitch.json")

		cfg := DefaultConfig()
		cfg.Telegram.BotToken = "123456789:test-token"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify directory was created
		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/stitch.json")
		path := loader.GetConfigPath()
		assert.Equal(t, "/custom/path/stitch.json", path)
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".stitch")
	})
}
