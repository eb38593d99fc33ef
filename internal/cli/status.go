package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/pkg/gateway"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the Stitch daemon.
When the ops gateway is enabled the live session and render counters are
fetched from it as well.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pidFile := pidFilePath(cfg)

	if !isRunning(pidFile) {
		cmd.Println("Status: stopped")
		return nil
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}

	cmd.Println("Status: running")
	cmd.Printf("PID: %d\n", pid)

	// PID file modification time doubles as the start time.
	if fileInfo, err := os.Stat(pidFile); err == nil {
		cmd.Printf("Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	if cfg.Gateway.Enabled {
		printGatewayStatus(cmd, cfg)
	}

	return nil
}

// printGatewayStatus pulls the live snapshot from the ops gateway. Failures
// degrade the output rather than failing the command.
func printGatewayStatus(cmd *cobra.Command, cfg *config.Config) {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/status", host, cfg.Gateway.Port)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return
	}
	if cfg.Gateway.SharedSecret != "" {
		req.Header.Set(gateway.SecretHeader, cfg.Gateway.SharedSecret)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		cmd.Printf("Gateway: unreachable (%v)\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cmd.Printf("Gateway: HTTP %d\n", resp.StatusCode)
		return
	}

	var payload struct {
		ActiveSessions int            `json:"active_sessions"`
		BrowserRunning bool           `json:"browser_running"`
		Renders        map[string]int `json:"renders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		cmd.Printf("Gateway: bad response (%v)\n", err)
		return
	}

	cmd.Printf("Active sessions: %d\n", payload.ActiveSessions)
	cmd.Printf("Browser running: %t\n", payload.BrowserRunning)

	if len(payload.Renders) > 0 {
		statuses := make([]string, 0, len(payload.Renders))
		for status := range payload.Renders {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)

		cmd.Println("Renders:")
		for _, status := range statuses {
			cmd.Printf("  %s: %d\n", status, payload.Renders[status])
		}
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
