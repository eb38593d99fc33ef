package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// MaxMediaSize is the largest file the Telegram bot API will serve
// through GetFile.
const MaxMediaSize = 20 * 1024 * 1024 // 20MB

// Media resolves Telegram file IDs into downloadable URLs the renderer
// can embed.
type Media struct {
	bot    *Bot
	logger zerolog.Logger
}

// NewMedia creates a new media resolver
func NewMedia(bot *Bot) *Media {
	return &Media{
		bot:    bot,
		logger: bot.logger.With().Str("module", "media").Logger(),
	}
}

// ResolveURL turns a file ID into a fetchable URL
func (m *Media) ResolveURL(fileID string) (string, error) {
	file, err := m.bot.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		m.bot.metrics.TelegramErrorsTotal.Inc()
		return "", fmt.Errorf("failed to get file info: %w", err)
	}

	if file.FileSize > MaxMediaSize {
		return "", fmt.Errorf("file size %d exceeds maximum %d", file.FileSize, MaxMediaSize)
	}

	url := file.Link(m.bot.api.Token)

	m.logger.Debug().
		Str("file_id", fileID).
		Int("size", file.FileSize).
		Msg("Resolved media file")

	return url, nil
}

// imageFileIDs extracts the collage-worthy image file IDs from a message.
// Photos arrive in ascending resolution, the last entry is the original.
func imageFileIDs(msg *tgbotapi.Message) []string {
	if len(msg.Photo) > 0 {
		return []string{msg.Photo[len(msg.Photo)-1].FileID}
	}
	if msg.Document != nil && isImageDocument(msg.Document) {
		return []string{msg.Document.FileID}
	}
	return nil
}

// isImageDocument reports whether a document attachment is an image sent
// as a file, which keeps its full resolution.
func isImageDocument(doc *tgbotapi.Document) bool {
	return strings.HasPrefix(doc.MimeType, "image/")
}
