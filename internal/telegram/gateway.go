// Package telegram wraps telebot: one Gateway per bot token for outbound
// sends, plus the command handlers served by the appointment bot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// telegramTextLimit is a safe per-message chunk size (the hard API limit
// is 4096 UTF-16 code units).
const telegramTextLimit = 4000

// Gateway is the outbound messaging side of one bot. Sends are
// rate-limited process-wide per bot so notification bursts (e.g. a big
// unread backlog after the first fetch) do not trip Telegram's limits.
type Gateway struct {
	name    string
	bot     *tele.Bot
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewGateway(name, token string, pollTimeout time.Duration, ratePerSec int, log zerolog.Logger) (*Gateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Gateway{
		name:    name,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log.With().Str("comp", "telegram").Str("bot", name).Logger(),
	}, nil
}

// Bot exposes the underlying telebot instance for handler registration.
func (g *Gateway) Bot() *tele.Bot { return g.bot }

// StartPolling runs the long-poll loop until ctx is cancelled. Only the
// bot that answers commands needs this.
func (g *Gateway) StartPolling(ctx context.Context) {
	go func() {
		<-ctx.Done()
		g.bot.Stop()
	}()
	g.log.Info().Msg("polling started")
	g.bot.Start() // blocks until Stop
	g.log.Info().Msg("polling stopped")
}

// SendHTML delivers one HTML-formatted message to a chat, splitting it
// into chunks if needed. The error of the first failing chunk is
// returned; callers decide the retry policy.
func (g *Gateway) SendHTML(ctx context.Context, chatID int64, text string) error {
	chat := &tele.Chat{ID: chatID}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}

	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := g.bot.Send(chat, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

// splitText splits long messages into chunks, preferring newline
// boundaries so HTML tags (which never span lines in our formatters)
// stay balanced.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
