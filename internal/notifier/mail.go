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

// MailNotifier announces unread mail, with keyword-triggered mentions.
type MailNotifier struct {
	cache    *cache.Store
	sender   Sender
	chats    []int64
	interval time.Duration
	loc      *time.Location
	keywords []string
	mention  string
	log      zerolog.Logger
	metrics  *metrics.Metrics
	journal  journal.Journal

	now        func() time.Time
	retries    int
	retryDelay time.Duration
}

func NewMailNotifier(store *cache.Store, sender Sender, chats []int64, interval time.Duration, loc *time.Location, keywords []string, mention string, m *metrics.Metrics, j journal.Journal, log zerolog.Logger) *MailNotifier {
	return &MailNotifier{
		cache:      store,
		sender:     sender,
		chats:      chats,
		interval:   interval,
		loc:        loc,
		keywords:   keywords,
		mention:    mention,
		metrics:    m,
		journal:    j,
		log:        log.With().Str("comp", "notifier.mail").Logger(),
		now:        time.Now,
		retries:    sendRetries,
		retryDelay: retryBaseDelay,
	}
}

func (n *MailNotifier) Run(ctx context.Context) {
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

func (n *MailNotifier) Tick(ctx context.Context) {
	if !n.cache.Ready() {
		n.log.Debug().Msg("cache not ready, skipping tick")
		return
	}

	pending := n.cache.UnnotifiedMail()
	if len(pending) == 0 {
		return
	}
	n.log.Info().Int("pending", len(pending)).Msg("sending mail alerts")

	for _, m := range pending {
		msg := format.Mail(m, n.loc, n.keywords, n.mention)
		if err := fanOut(ctx, n.sender, n.chats, msg, n.retries, n.retryDelay, n.log); err != nil {
			n.metrics.SendFailures.WithLabelValues("mail").Inc()
			n.log.Warn().Err(err).Str("id", m.ID).Msg("mail alert not confirmed, will retry next tick")
			continue
		}
		n.cache.MarkNotified(model.KindMail, m.ID)
		n.metrics.NotificationsSent.WithLabelValues("mail").Inc()
		for _, chatID := range n.chats {
			journal.Record(ctx, n.journal, n.log, journal.Entry{
				At: n.now(), Kind: "mail", ItemID: m.ID, ChatID: chatID, Subject: m.Subject, OK: true,
			})
		}
	}
}
