// Package telegram bridges Telegram chats through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/model"
)

const Platform = "telegram"

// botAPI is the part of *tgbotapi.BotAPI the bridge uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bridge struct {
	bot      botAPI
	stopCh   chan struct{}
	doneCh   chan struct{}
	ackEmoji string
}

var (
	_ bridge.Deliverer = (*Bridge)(nil)
	_ bridge.Reactor   = (*Bridge)(nil)
)

func New(token string) (*Bridge, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	slog.Info("telegram bridge authorised", "bot_username", bot.Self.UserName)
	return newBridge(bot), nil
}

func newBridge(bot botAPI) *Bridge {
	return &Bridge{
		bot:      bot,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		ackEmoji: "👍",
	}
}

func (b *Bridge) Platform() string {
	return Platform
}

// Permalink identifies one Telegram message across the relay.
func Permalink(chatID int64, messageID int) string {
	return fmt.Sprintf("%s:%d/%d", Platform, chatID, messageID)
}

// ParsePermalink is the inverse of Permalink.
func ParsePermalink(link string) (int64, int, error) {
	rest, ok := strings.CutPrefix(link, Platform+":")
	if !ok {
		return 0, 0, fmt.Errorf("not a telegram permalink: %q", link)
	}
	chat, msg, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("malformed telegram permalink: %q", link)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chat id in %q: %w", link, err)
	}
	messageID, err := strconv.Atoi(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id in %q: %w", link, err)
	}
	return chatID, messageID, nil
}

// Deliver sends d as the bot. Telegram has no per-message sender override,
// so impersonated deliveries are refused for the caller to fall back.
func (b *Bridge) Deliver(ctx context.Context, d bridge.Delivery) (string, error) {
	if d.Impersonate {
		return "", bridge.ErrImpersonationForbidden
	}

	chatID, err := strconv.ParseInt(d.Endpoint.ChannelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", d.Endpoint.ChannelID, err)
	}

	msg := tgbotapi.NewMessage(chatID, d.Body())
	msg.DisableWebPagePreview = len(d.Embeds) == 0
	if d.ThreadTarget != "" {
		if _, replyTo, err := ParsePermalink(d.ThreadTarget); err == nil {
			msg.ReplyToMessageID = replyTo
			msg.AllowSendingWithoutReply = true
		}
	}

	sent, err := b.bot.Send(msg)
	if err != nil {
		return "", classify(err)
	}
	return Permalink(chatID, sent.MessageID), nil
}

func (b *Bridge) React(ctx context.Context, endpoint model.Endpoint, permalink, _ string) error {
	chatID, messageID, err := ParsePermalink(permalink)
	if err != nil {
		return err
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	params["reaction"] = fmt.Sprintf(`[{"type":"emoji","emoji":%q}]`, b.ackEmoji)

	if _, err := b.bot.MakeRequest("setMessageReaction", params); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps Bot API failures onto the delivery error taxonomy.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 403:
			return fmt.Errorf("%w: %s", bridge.ErrPermissionDenied, apiErr.Message)
		case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"):
			return fmt.Errorf("%w: %s", bridge.ErrPermissionDenied, apiErr.Message)
		}
	}
	return err
}
