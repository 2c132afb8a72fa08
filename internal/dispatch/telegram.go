package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "aksiyonbot/pkg/logx"
)

// Telegram delivers announcements via the Bot API. Posts are throttled
// with a shared limiter so a batch never trips Telegram's flood control.
type Telegram struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger

	// lastMessageID tracks the most recent successful post, used by the
	// best-effort upload confirmation probe.
	lastMessageID atomic.Int64
}

func NewTelegram(token string, ratePerSec int, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		log:     log,
	}, nil
}

func (t *Telegram) Post(ctx context.Context, channelID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	msg, err := t.bot.Send(&tele.Chat{ID: channelID}, text)
	if err != nil {
		return fmt.Errorf("telegram post: %w", err)
	}
	t.lastMessageID.Store(int64(msg.ID))
	return nil
}

func (t *Telegram) PostWithImage(ctx context.Context, channelID int64, text string, image []byte, filename string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	photo := &tele.Photo{
		File:    tele.FromReader(bytes.NewReader(image)),
		Caption: text,
	}
	start := time.Now()
	msg, err := t.bot.Send(&tele.Chat{ID: channelID}, photo)
	if err != nil {
		return fmt.Errorf("telegram upload: %w", err)
	}
	t.lastMessageID.Store(int64(msg.ID))
	t.log.Debug("photo posted",
		logx.Int64("channel", channelID),
		logx.String("filename", filename),
		logx.Int("bytes", len(image)),
		logx.Duration("took", time.Since(start)))
	return nil
}

// ConfirmUpload reports whether the last post is known to have reached
// the channel. The Bot API acknowledges synchronously with a message ID,
// so a recorded ID is a confirmation.
func (t *Telegram) ConfirmUpload(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return t.lastMessageID.Load() != 0, nil
}
