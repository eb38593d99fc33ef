package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Stitch Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Telegram Configuration
	fmt.Println("Telegram Configuration:")
	fmt.Println()

	// Bot Token
	for {
		fmt.Print("Telegram Bot Token: ")
		token, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if token == "" {
			fmt.Println("Error: Bot token is required")
			continue
		}

		if err := validator.ValidateTelegramToken(token); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Telegram.BotToken = token
		break
	}

	// DM Policy
	fmt.Println()
	fmt.Println("DM Policy options:")
	fmt.Println("  open      - Anyone can DM (default)")
	fmt.Println("  allowlist - Only users in allowlist can DM")
	fmt.Println("  disabled  - No DMs allowed")
	fmt.Print("DM Policy [open]: ")
	policy, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if policy == "" {
		policy = "open"
	}

	if err := validator.ValidateDMPolicy(policy); err != nil {
		fmt.Printf("Warning: %v, using default (open)\n", err)
		policy = "open"
	}

	cfg.Telegram.DMPolicy = policy

	if policy == "allowlist" {
		for {
			fmt.Print("Allowed user IDs (comma-separated): ")
			line, err := w.readLine()
			if err != nil {
				return nil, err
			}

			ids, err := parseUserIDs(line)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			if len(ids) == 0 {
				fmt.Println("Error: allowlist policy requires at least one user ID")
				continue
			}

			cfg.Telegram.Allowlist = ids
			break
		}
	}

	fmt.Println()

	// Collection settings
	fmt.Println("Collage Collection:")
	fmt.Print("Completion keyword [done]: ")
	keyword, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if keyword != "" {
		if err := validator.ValidateCompletionKeyword(keyword); err != nil {
			fmt.Printf("Warning: %v, using default (done)\n", err)
		} else {
			cfg.Collage.CompletionKeyword = keyword
		}
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseUserIDs(line string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
