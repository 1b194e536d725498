// Package notifier contains the two timer-driven loops that turn cached
// items into Telegram messages exactly once per item.
//
// Each notifier runs as a single goroutine whose tick does its sends
// inline, so scan-and-mark for one kind is naturally serialized: a slow
// send delays the next tick instead of overlapping with it.
package notifier

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sender is the outbound messaging gateway consumed by the notifiers.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

const (
	sendRetries    = 3
	retryBaseDelay = time.Second
)

// fanOut delivers text to every chat, retrying each chat a few times
// with doubling delay. It returns the last error if any chat could not
// be reached; callers leave the item unmarked so the next tick retries.
func fanOut(ctx context.Context, s Sender, chats []int64, text string, retries int, baseDelay time.Duration, log zerolog.Logger) error {
	var lastErr error
	for _, chatID := range chats {
		if err := sendWithBackoff(ctx, s, chatID, text, retries, baseDelay, log); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func sendWithBackoff(ctx context.Context, s Sender, chatID int64, text string, retries int, baseDelay time.Duration, log zerolog.Logger) error {
	delay := baseDelay
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.SendHTML(ctx, chatID, text)
		if lastErr == nil {
			return nil
		}
		if attempt < retries {
			log.Debug().Err(lastErr).Int64("chat_id", chatID).Int("attempt", attempt).Dur("delay", delay).
				Msg("send failed, backing off")
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}
	log.Warn().Err(lastErr).Int64("chat_id", chatID).Int("attempts", retries).Msg("send failed")
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
