package notifier

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ewsbot/internal/cache"
	"ewsbot/internal/format"
	"ewsbot/internal/journal"
	"ewsbot/internal/metrics"
	"ewsbot/internal/model"
)

// AppointmentNotifier scans for appointments due for a pre-meeting alert.
type AppointmentNotifier struct {
	cache    *cache.Store
	sender   Sender
	chats    []int64
	lead     time.Duration
	interval time.Duration
	loc      *time.Location
	log      zerolog.Logger
	metrics  *metrics.Metrics
	journal  journal.Journal

	now        func() time.Time
	retries    int
	retryDelay time.Duration
}

func NewAppointmentNotifier(store *cache.Store, sender Sender, chats []int64, lead, interval time.Duration, loc *time.Location, m *metrics.Metrics, j journal.Journal, log zerolog.Logger) *AppointmentNotifier {
	return &AppointmentNotifier{
		cache:      store,
		sender:     sender,
		chats:      chats,
		lead:       lead,
		interval:   interval,
		loc:        loc,
		metrics:    m,
		journal:    j,
		log:        log.With().Str("comp", "notifier.appointment").Logger(),
		now:        time.Now,
		retries:    sendRetries,
		retryDelay: retryBaseDelay,
	}
}

func (n *AppointmentNotifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Tick(ctx)
		}
	}
}

// Tick sends one alert per due appointment and marks it notified only
// after the fan-out confirmed delivery. Failed items stay unmarked and
// come back on the next tick.
func (n *AppointmentNotifier) Tick(ctx context.Context) {
	if !n.cache.Ready() {
		n.log.Debug().Msg("cache not ready, skipping tick")
		return
	}

	now := n.now()
	due := n.cache.DueAppointments(now, n.lead)
	if len(due) == 0 {
		return
	}
	n.log.Info().Int("due", len(due)).Msg("sending appointment alerts")

	for _, a := range due {
		msg := format.Appointment(a, n.loc, now)
		if err := fanOut(ctx, n.sender, n.chats, msg, n.retries, n.retryDelay, n.log); err != nil {
			n.metrics.SendFailures.WithLabelValues("appointment").Inc()
			n.log.Warn().Err(err).Str("id", a.ID).Msg("appointment alert not confirmed, will retry next tick")
			continue
		}
		n.cache.MarkNotified(model.KindAppointment, a.ID)
		n.metrics.NotificationsSent.WithLabelValues("appointment").Inc()
		for _, chatID := range n.chats {
			journal.Record(ctx, n.journal, n.log, journal.Entry{
				At: now, Kind: "appointment", ItemID: a.ID, ChatID: chatID, Subject: a.Subject, OK: true,
			})
		}
	}
}
