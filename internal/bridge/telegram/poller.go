package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/model"
)

// Run long-polls for updates and feeds chat messages to handler until ctx
// is cancelled or Stop is called.
func (b *Bridge) Run(ctx context.Context, handler bridge.InboundHandler) {
	defer close(b.doneCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "wormhole.bridge.telegram",
		Platform:  logger.Ptr(Platform),
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)

	slog.InfoContext(ctx, "telegram poller started")

	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			slog.InfoContext(ctx, "telegram poller stopped", "reason", "context cancelled")
			return
		case <-b.stopCh:
			b.bot.StopReceivingUpdates()
			slog.InfoContext(ctx, "telegram poller stopped", "reason", "stop signal")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg, ok := toInbound(update)
			if !ok {
				continue
			}
			if _, err := handler.OnInboundMessage(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "telegram message handling failed",
					"channel", msg.Channel.String(),
					"error", err)
			}
		}
	}
}

// Stop ends Run and waits for it to return.
func (b *Bridge) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	<-b.doneCh
}

func toInbound(update tgbotapi.Update) (model.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return model.InboundMessage{}, false
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if content == "" {
		return model.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := model.InboundMessage{
		PlatformUserID:  strconv.FormatInt(m.From.ID, 10),
		DisplayName:     displayName(m.From),
		Channel:         model.Endpoint{Platform: Platform, ChannelID: chatID},
		SpaceID:         chatID,
		Content:         content,
		SourcePermalink: Permalink(m.Chat.ID, m.MessageID),
	}
	if m.ReplyToMessage != nil {
		msg.ReplyRef = Permalink(m.Chat.ID, m.ReplyToMessage.MessageID)
	}
	return msg, true
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
