package alert

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TypeTelegram identifies the Telegram alert channel.
const TypeTelegram = "telegram"

// Telegram delivers alerts to a chat (optionally a forum topic) via the Bot
// API. Send-only: no poller is started.
type Telegram struct {
	token    string
	chatID   int64
	threadID int

	botMu sync.Mutex
	bot   *tele.Bot
}

// NewTelegram builds a Telegram channel. The bot connection is established
// lazily on first send so a flaky Bot API doesn't block startup.
func NewTelegram(token string, chatID int64, threadID int) *Telegram {
	return &Telegram{token: token, chatID: chatID, threadID: threadID}
}

func (t *Telegram) Type() string { return TypeTelegram }

func (t *Telegram) Validate() error {
	if strings.TrimSpace(t.token) == "" {
		return errors.New("telegram token is empty")
	}
	if t.chatID == 0 {
		return errors.New("telegram chat id is empty")
	}
	return nil
}

func (t *Telegram) client() (*tele.Bot, error) {
	t.botMu.Lock()
	defer t.botMu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  t.token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	t.bot = b
	return b, nil
}

func (t *Telegram) Send(ctx context.Context, m Message) error {
	b, err := t.client()
	if err != nil {
		return err
	}

	text := m.Text
	if m.Title != "" {
		text = "*" + m.Title + "*\n" + text
	}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	}

	// telebot has no context plumbing; run the send in a goroutine and obey
	// ctx ourselves.
	done := make(chan error, 1)
	go func() {
		_, sendErr := b.Send(tele.ChatID(t.chatID), text, opts)
		done <- sendErr
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
