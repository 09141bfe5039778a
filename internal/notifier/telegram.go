package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"dashcap/internal/task/engine"
)

// TelegramConfig addresses one chat, optionally a forum topic in it.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// TelegramSender posts messages and photos with the Bot API. It never polls
// for updates.
type TelegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
	opt  *tele.SendOptions
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: sendTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opt:  &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
	}, nil
}

func (t *TelegramSender) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, t.opt)
	return sendErr(err)
}

func (t *TelegramSender) SendPhoto(ctx context.Context, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: truncate(caption, 1000)}
	_, err := t.bot.Send(t.chat, photo, t.opt)
	return sendErr(err)
}

// sendErr carries Telegram's flood wait into the retry loop.
func sendErr(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return engine.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	return err
}

var _ Sender = (*TelegramSender)(nil)
