package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/internal/daemon"
	"github.com/harun/stitch/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Stitch daemon",
	Long: `Start the Stitch daemon in the foreground.
The daemon polls Telegram for messages, collects photos into per-user
sessions and renders finished collages in a headless browser. Use your
process manager to keep it running in the background.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pidFile := pidFilePath(cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	if cmd.Root().PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.WatchConfig(loader.GetConfigPath()); err != nil {
		log.Warn().Err(err).Msg("Config hot reload unavailable")
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	d.Wait()
	return nil
}

// pidFilePath places the PID file next to the rest of the daemon state.
func pidFilePath(cfg *config.Config) string {
	if cfg != nil && cfg.DataDir != "" {
		return filepath.Join(cfg.DataDir, "stitch.pid")
	}
	return defaultPIDFilePath()
}

func defaultPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/stitch.pid"
	}
	return filepath.Join(home, ".stitch", "stitch.pid")
}

func isRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	// Read PID and check if process exists
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	var pid int
	_, err = fmt.Sscanf(string(data), "%d", &pid)
	if err != nil {
		return false
	}

	// Check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
