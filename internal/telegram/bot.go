// Package telegram is the chat transport: it authenticates the bot, polls
// for updates, gates them through the DM policy and hands them to the
// command and message handlers. Delivery back to the chat goes through
// SendText and SendImage.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harun/stitch/internal/config"
	"github.com/harun/stitch/internal/logger"
	"github.com/harun/stitch/internal/metrics"
	"github.com/harun/stitch/internal/tracing"
)

// Bot represents a Telegram bot instance
type Bot struct {
	api     *tgbotapi.BotAPI
	config  *config.TelegramConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// Handlers, wired before Start
	messageHandler MessageHandler
	commandHandler CommandHandler

	mu      sync.Mutex
	running bool
	updates tgbotapi.UpdatesChannel
}

// MessageHandler handles incoming non-command messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, update tgbotapi.Update) error
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(ctx context.Context, update tgbotapi.Update) error
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, m *metrics.Metrics, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics is required")
	}

	var api *tgbotapi.BotAPI
	var err error
	if cfg.APIEndpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.BotToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := &Bot{
		api:     api,
		config:  cfg,
		metrics: m,
		logger:  log.GetZerolog().With().Str("component", "telegram").Logger(),
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Str("dmPolicy", cfg.DMPolicy).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// Start starts the bot and begins processing updates
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.updates = b.api.GetUpdatesChan(u)
	b.running = true

	go b.processUpdates(b.updates)

	b.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return fmt.Errorf("bot is not running")
	}

	b.running = false
	b.api.StopReceivingUpdates()

	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// processUpdates drains the updates channel until StopReceivingUpdates
// closes it.
func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if err := b.handleUpdate(update); err != nil {
			b.logger.Error().
				Err(err).
				Int("update_id", update.UpdateID).
				Msg("Failed to handle update")
		}
	}
}

// handleUpdate routes an update to the appropriate handler
func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}

	// Collection sessions are a direct-message flow.
	if msg.Chat == nil || !msg.Chat.IsPrivate() {
		b.logger.Debug().
			Int64("user_id", msg.From.ID).
			Msg("Ignoring non-private chat message")
		return nil
	}

	if denied, reply := b.denied(msg.From.ID); denied {
		b.logger.Debug().
			Int64("user_id", msg.From.ID).
			Str("dm_policy", b.config.DMPolicy).
			Msg("Message denied by DM policy")
		if reply != "" {
			return b.SendText(context.Background(), msg.Chat.ID, reply)
		}
		return nil
	}

	b.metrics.TelegramMessagesReceivedTotal.Inc()
	ctx := tracing.NewUpdateContext(context.Background(), msg.From.ID)

	if msg.IsCommand() && b.commandHandler != nil {
		return b.commandHandler.HandleCommand(ctx, update)
	}

	if b.messageHandler != nil {
		return b.messageHandler.HandleMessage(ctx, update)
	}

	return nil
}

// denied applies the DM policy to a sender.
func (b *Bot) denied(userID int64) (bool, string) {
	switch b.config.DMPolicy {
	case "disabled":
		return true, "Image collection is currently disabled."
	case "allowlist":
		for _, id := range b.config.Allowlist {
			if id == userID {
				return false, ""
			}
		}
		return true, "You are not on the allowlist for this bot."
	default: // open
		return false, ""
	}
}

// SendText sends a text message
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)

	if _, err := b.api.Send(msg); err != nil {
		b.metrics.TelegramErrorsTotal.Inc()
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.metrics.TelegramMessagesSentTotal.Inc()
	b.logger.Debug().
		Int64("chat_id", chatID).
		Msg("Message sent")

	return nil
}

// SendTextWithReply sends a text message as a reply
func (b *Bot) SendTextWithReply(ctx context.Context, chatID int64, text string, replyToMessageID int) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMessageID

	if _, err := b.api.Send(msg); err != nil {
		b.metrics.TelegramErrorsTotal.Inc()
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.metrics.TelegramMessagesSentTotal.Inc()
	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("reply_to", replyToMessageID).
		Msg("Reply sent")

	return nil
}

// SendImage sends a rendered image from memory with a caption
func (b *Bot) SendImage(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  filename,
		Bytes: data,
	})
	photo.Caption = caption

	if _, err := b.api.Send(photo); err != nil {
		b.metrics.TelegramErrorsTotal.Inc()
		return fmt.Errorf("failed to send image: %w", err)
	}

	b.metrics.TelegramMessagesSentTotal.Inc()
	b.logger.Info().
		Int64("chat_id", chatID).
		Str("filename", filename).
		Int("bytes", len(data)).
		Msg("Image sent")

	return nil
}

// GetBotInfo returns bot information
func (b *Bot) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":  b.api.Self.UserName,
		"id":        b.api.Self.ID,
		"firstName": b.api.Self.FirstName,
		"running":   b.IsRunning(),
	}
}

// SetMessageHandler sets the message handler
func (b *Bot) SetMessageHandler(handler MessageHandler) {
	b.messageHandler = handler
}

// SetCommandHandler sets the command handler
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}
