package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harun/stitch/internal/telegram"
	"github.com/harun/stitch/pkg/collage"
)

// collageIngress wires the Telegram transport to the collection controller.
// It registers the chat commands, resolves incoming photos into fetchable
// URLs and feeds every message into the controller's state machine.
type collageIngress struct {
	bot      *telegram.Bot
	commands *telegram.Commands
	handler  *telegram.Handler
	media    *telegram.Media
	ctrl     *collage.Controller
	dedupe   *messageDedupeCache
	logger   zerolog.Logger
}

func newCollageIngress(bot *telegram.Bot, ctrl *collage.Controller, log zerolog.Logger) *collageIngress {
	return &collageIngress{
		bot:      bot,
		commands: telegram.NewCommands(bot),
		handler:  telegram.NewHandler(bot),
		media:    telegram.NewMedia(bot),
		ctrl:     ctrl,
		dedupe:   newMessageDedupeCache(0),
		logger:   log.With().Str("component", "ingress").Logger(),
	}
}

// Start registers the command set and the message callback on the bot. It
// must run before the bot begins polling.
func (c *collageIngress) Start() error {
	c.commands.Register("start", c.handleStart)
	c.commands.Register("help", c.handleHelp)
	c.commands.Register("collage", c.handleCollage)
	c.commands.Register("cancel", c.handleCancel)
	c.commands.Register("status", c.handleStatus)

	c.handler.SetOnMessage(c.ingest)
	c.bot.SetCommandHandler(c.commands)
	c.bot.SetMessageHandler(c.handler)

	c.dedupe.Start()

	if err := c.commands.SetCommands([]tgbotapi.BotCommand{
		{Command: "collage", Description: "Start collecting images for a collage"},
		{Command: "status", Description: "Show the current collection"},
		{Command: "cancel", Description: "Discard the current collection"},
		{Command: "help", Description: "How to use this bot"},
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish the bot command list")
	}

	c.logger.Info().Msg("Collage ingress started")
	return nil
}

// Stop detaches the ingress from the bot so late updates are dropped.
func (c *collageIngress) Stop() {
	c.bot.SetMessageHandler(nil)
	c.bot.SetCommandHandler(nil)
	c.dedupe.Stop()
	c.logger.Info().Msg("Collage ingress stopped")
}

// ingest maps a chat message onto the controller. Telegram can re-deliver
// updates after a reconnect, so messages are deduplicated by chat and
// message id before they reach the session state machine.
func (c *collageIngress) ingest(ctx context.Context, msg telegram.MessageContext) error {
	key := "telegram:" + strconv.FormatInt(msg.ChatID, 10) + ":" + strconv.Itoa(msg.MessageID)
	if c.dedupe.IsDuplicate(key) {
		c.logger.Debug().Str("key", key).Msg("Skipping duplicate message")
		return nil
	}
	c.dedupe.Mark(key)

	images := make([]string, 0, len(msg.ImageFileIDs))
	for _, fileID := range msg.ImageFileIDs {
		url, err := c.media.ResolveURL(fileID)
		if err != nil {
			c.logger.Warn().Err(err).Int64("userId", msg.UserID).Msg("Failed to resolve an incoming image")
			continue
		}
		images = append(images, url)
	}
	if len(msg.ImageFileIDs) > 0 && len(images) == 0 {
		return c.handler.SendResponse(ctx, msg, "I couldn't read that image. Please send it again.")
	}

	return c.ctrl.OnMessage(ctx, collage.Message{
		UserID: msg.UserID,
		ChatID: msg.ChatID,
		Text:   msg.Text,
		Images: images,
	})
}

func (c *collageIngress) handleCollage(ctx context.Context, cmd telegram.CommandContext) error {
	direction := ""
	if len(cmd.Args) > 0 {
		direction = cmd.Args[0]
	}

	err := c.ctrl.Start(ctx, cmd.UserID, cmd.ChatID, direction)
	if errors.Is(err, collage.ErrInvalidDirection) {
		return c.commands.SendResponse(ctx, cmd, fmt.Sprintf(
			"I don't know the layout %q. Use /collage horizontal or /collage vertical.", direction))
	}
	return err
}

func (c *collageIngress) handleCancel(ctx context.Context, cmd telegram.CommandContext) error {
	err := c.ctrl.Cancel(ctx, cmd.UserID)
	switch {
	case errors.Is(err, collage.ErrNoSession):
		return c.commands.SendResponse(ctx, cmd, "You don't have an active collection. Start one with /collage.")
	case errors.Is(err, collage.ErrSessionProcessing):
		return c.commands.SendResponse(ctx, cmd, "Too late, your collage is already being rendered.")
	case err != nil:
		return err
	}
	return c.commands.SendResponse(ctx, cmd, "Collection cancelled and images discarded.")
}

func (c *collageIngress) handleStatus(ctx context.Context, cmd telegram.CommandContext) error {
	snap, ok := c.ctrl.SessionInfo(cmd.UserID)
	if !ok {
		return c.commands.SendResponse(ctx, cmd, "No active collection. Start one with /collage.")
	}
	if snap.Processing {
		return c.commands.SendResponse(ctx, cmd, "Your collage is being rendered right now.")
	}

	settings := c.ctrl.Settings()
	return c.commands.SendResponse(ctx, cmd, fmt.Sprintf(
		"Collecting a %s collage: %d image(s) so far. Say %q or pause for %d seconds to finish.",
		snap.Direction, snap.ImageCount, settings.CompletionKeyword, int(settings.Debounce.Seconds())))
}

func (c *collageIngress) handleHelp(ctx context.Context, cmd telegram.CommandContext) error {
	return c.commands.SendResponse(ctx, cmd, c.usageText())
}

func (c *collageIngress) handleStart(ctx context.Context, cmd telegram.CommandContext) error {
	return c.commands.SendResponse(ctx, cmd, "Hi! I stitch your photos into a single collage.\n\n"+c.usageText())
}

func (c *collageIngress) usageText() string {
	settings := c.ctrl.Settings()
	return fmt.Sprintf(`/collage horizontal - collect photos for a side-by-side collage
/collage vertical - collect photos for a stacked collage
/status - show the current collection
/cancel - discard the current collection

Send me photos one at a time or as an album, then say %q or pause for %d seconds and I'll build the collage.`,
		settings.CompletionKeyword, int(settings.Debounce.Seconds()))
}
