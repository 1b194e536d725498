// Package agenda posts the daily appointment digest on weekday mornings.
//
// A per-minute cron trigger (weekdays only, in the configured location)
// drives the guard logic: the digest fires on the first minute at or
// past the configured time of day, at most once per calendar day, and
// never before the cache holds a successful fetch. Delivery retries on
// a fixed cadence until every chat confirmed or the attempts run out;
// a failed day is not retried the next day.
package agenda

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ewsbot/internal/cache"
	"ewsbot/internal/config"
	"ewsbot/internal/journal"
	"ewsbot/internal/metrics"
)

const (
	maxAttempts = 10
	retryEvery  = time.Minute
)

// Sender is the outbound half of a telegram gateway.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// Scheduler owns the digest trigger and its delivery loop.
type Scheduler struct {
	cache   *cache.Store
	sender  Sender
	chats   []int64
	loc     *time.Location
	at      config.ClockTime
	digest  func() string
	metrics *metrics.Metrics
	journal journal.Journal
	log     zerolog.Logger

	now         func() time.Time
	maxAttempts int
	retryEvery  time.Duration

	mu       sync.Mutex
	lastSent string // local calendar date of the last trigger, "2006-01-02"
}

func New(store *cache.Store, sender Sender, chats []int64, loc *time.Location, at config.ClockTime, digest func() string, m *metrics.Metrics, j journal.Journal, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cache:       store,
		sender:      sender,
		chats:       chats,
		loc:         loc,
		at:          at,
		digest:      digest,
		metrics:     m,
		journal:     j,
		log:         log.With().Str("comp", "agenda").Logger(),
		now:         time.Now,
		maxAttempts: maxAttempts,
		retryEvery:  retryEvery,
	}
}

// Run blocks until ctx is cancelled. The cron entry fires every minute
// on weekdays; tick decides whether today's digest is actually due.
func (s *Scheduler) Run(ctx context.Context) {
	cr := cron.New(cron.WithLocation(s.loc))
	if _, err := cr.AddFunc("* * * * 1-5", func() { s.tick(ctx) }); err != nil {
		s.log.Error().Err(err).Msg("cron setup failed")
		return
	}
	cr.Start()
	<-ctx.Done()
	<-cr.Stop().Done()
}

// tick fires the digest when the local time has reached the configured
// hour, the cache is ready, and nothing was sent today yet. The day is
// claimed before delivery starts so overlapping triggers cannot fire a
// second digest while a slow retry loop is still running.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.cache.Ready() {
		return
	}
	now := s.now().In(s.loc)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return
	}
	if !s.at.Reached(now) {
		return
	}
	date := now.Format("2006-01-02")

	s.mu.Lock()
	if s.lastSent == date {
		s.mu.Unlock()
		return
	}
	s.lastSent = date
	s.mu.Unlock()

	s.deliver(ctx, date)
}

// deliver sends the digest to every chat, retrying failed chats on a
// fixed cadence. Chats that already confirmed are not sent to again.
func (s *Scheduler) deliver(ctx context.Context, date string) {
	text := s.digest()
	pending := make(map[int64]struct{}, len(s.chats))
	for _, id := range s.chats {
		pending[id] = struct{}{}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		for chatID := range pending {
			if ctx.Err() != nil {
				return
			}
			if err := s.sender.SendHTML(ctx, chatID, text); err != nil {
				s.log.Warn().Err(err).Int64("chat_id", chatID).Int("attempt", attempt).Msg("digest send failed")
				continue
			}
			delete(pending, chatID)
			journal.Record(ctx, s.journal, s.log, journal.Entry{
				At: s.now(), Kind: "agenda", ChatID: chatID, Subject: date, Attempts: attempt, OK: true,
			})
		}
		if len(pending) == 0 {
			if s.metrics != nil {
				s.metrics.AgendaRuns.Inc()
			}
			s.log.Info().Str("date", date).Int("attempts", attempt).Msg("agenda digest delivered")
			return
		}
		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryEvery):
			}
		}
	}
	s.log.Error().Str("date", date).Int("undelivered", len(pending)).Msg("agenda digest gave up")
}
