package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// BotClient implements Client over the Bot API SDK. The SDK has no context
// plumbing, so each call checks ctx before going out; an in-flight call is
// allowed to complete.
type BotClient struct {
	bot *tgbotapi.BotAPI
}

// NewBotClient authenticates the token against the platform.
func NewBotClient(token string) (*BotClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &BotClient{bot: bot}, nil
}

func (c *BotClient) GetMe(ctx context.Context) (*UserInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	me, err := c.bot.GetMe()
	if err != nil {
		return nil, wrapErr("getMe", err)
	}
	return &UserInfo{
		ID:       me.ID,
		Username: me.UserName,
		FullName: strings.TrimSpace(me.FirstName + " " + me.LastName),
	}, nil
}

func (c *BotClient) GetChat(ctx context.Context, chatID int64) (*ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, wrapErr("getChat", err)
	}
	return &ChatInfo{
		ID:       chat.ID,
		Type:     chat.Type,
		Title:    chat.Title,
		Username: chat.UserName,
	}, nil
}

func (c *BotClient) GetChatMember(ctx context.Context, chatID, userID int64) (MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return "", wrapErr("getChatMember", err)
	}
	return MemberStatus(member.Status), nil
}

func (c *BotClient) Forward(ctx context.Context, chatID int64, source Source) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.ForwardConfig{
		BaseChat:  tgbotapi.BaseChat{ChatID: chatID},
		MessageID: int(source.MessageID),
	}
	if source.ChannelID != nil {
		cfg.FromChatID = *source.ChannelID
	} else {
		cfg.FromChannelUsername = "@" + strings.TrimPrefix(source.ChannelUsername, "@")
	}
	msg, err := c.bot.Send(cfg)
	if err != nil {
		return 0, wrapErr("forward", err)
	}
	return int64(msg.MessageID), nil
}

func (c *BotClient) Delete(ctx context.Context, chatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.DeleteMessageConfig{
		ChatID:    chatID,
		MessageID: int(messageID),
	})
	return wrapErr("deleteMessage", err)
}

func (c *BotClient) Pin(ctx context.Context, chatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.PinChatMessageConfig{
		ChatID:    chatID,
		MessageID: int(messageID),
	})
	return wrapErr("pinChatMessage", err)
}

func (c *BotClient) SendText(ctx context.Context, chatID int64, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := c.bot.Send(msg)
	return wrapErr("sendMessage", err)
}

// wrapErr normalizes SDK failures into *APIError. Anything that is not an
// API-level rejection is treated as a network failure.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		name := errNameGeneric
		switch {
		case tgErr.RetryAfter > 0 || tgErr.Code == 429:
			name = errNameRetryAfter
		case tgErr.Code >= 500:
			name = errNameServer
		case tgErr.Code == 403:
			name = errNameForbidden
		case tgErr.Code == 401:
			name = errNameUnauthorized
		case tgErr.Code == 400:
			name = errNameBadRequest
		}
		return &APIError{
			Op:         op,
			Name:       name,
			Code:       tgErr.Code,
			RetryAfter: tgErr.RetryAfter,
			Message:    tgErr.Message,
		}
	}
	return &APIError{Op: op, Name: errNameNetwork, Message: err.Error()}
}
