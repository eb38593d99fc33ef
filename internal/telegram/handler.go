package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Handler reduces non-command updates to a MessageContext and forwards
// them to the registered callback.
type Handler struct {
	bot    *Bot
	logger zerolog.Logger

	onMessage func(ctx context.Context, msg MessageContext) error
}

// MessageContext contains message metadata
type MessageContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time

	// ImageFileIDs are the Telegram file IDs of any collage-worthy images
	// attached to the message.
	ImageFileIDs []string
}

// NewHandler creates a new message handler
func NewHandler(bot *Bot) *Handler {
	return &Handler{
		bot:    bot,
		logger: bot.logger.With().Str("module", "handler").Logger(),
	}
}

// HandleMessage processes incoming messages
func (h *Handler) HandleMessage(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}

	msg := update.Message

	msgCtx := MessageContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		// Photos carry their text in the caption, and a caption can hold
		// the completion keyword just as well as a plain message.
		Text:         ParseCaption(msg),
		Timestamp:    time.Unix(int64(msg.Date), 0),
		ImageFileIDs: imageFileIDs(msg),
	}

	h.logger.Debug().
		Int64("chat_id", msgCtx.ChatID).
		Int64("user_id", msgCtx.UserID).
		Str("username", msgCtx.Username).
		Int("images", len(msgCtx.ImageFileIDs)).
		Msg("Message received")

	if h.onMessage != nil {
		return h.onMessage(ctx, msgCtx)
	}

	return nil
}

// SetOnMessage sets the message callback
func (h *Handler) SetOnMessage(callback func(ctx context.Context, msg MessageContext) error) {
	h.onMessage = callback
}

// SendResponse sends a response to a message
func (h *Handler) SendResponse(ctx context.Context, msg MessageContext, text string) error {
	return h.bot.SendTextWithReply(ctx, msg.ChatID, text, msg.MessageID)
}

// ParseCaption extracts the caption from a message, falling back to its text
func ParseCaption(msg *tgbotapi.Message) string {
	if msg.Caption != "" {
		return msg.Caption
	}
	return msg.Text
}
