// Package refresh runs the periodic provider fetch that feeds the cache
// store. It is the only writer of full snapshots.
package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ewsbot/internal/cache"
	"ewsbot/internal/metrics"
	"ewsbot/internal/provider"
)

// Driver fetches on a fixed interval. State machine:
//
//	Idle -> Fetching -> Idle      (success or transient error)
//	Idle -> Fetching -> Halted    (authorization failure, permanent)
//
// A transient error keeps the previous snapshot and retries next tick.
// An auth error stops the driver for good: stale credentials would only
// produce notifications from frozen data, so failing stop is deliberate.
type Driver struct {
	fetcher  provider.Fetcher
	cache    *cache.Store
	interval time.Duration
	loc      *time.Location
	log      zerolog.Logger
	metrics  *metrics.Metrics

	now func() time.Time
}

func NewDriver(f provider.Fetcher, store *cache.Store, interval time.Duration, loc *time.Location, m *metrics.Metrics, log zerolog.Logger) *Driver {
	return &Driver{
		fetcher:  f,
		cache:    store,
		interval: interval,
		loc:      loc,
		metrics:  m,
		log:      log.With().Str("comp", "refresh").Logger(),
		now:      time.Now,
	}
}

// Run fetches immediately, then on every interval tick until ctx is done
// or the driver halts on an authorization failure.
func (d *Driver) Run(ctx context.Context) {
	if halted := d.Tick(ctx); halted {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if halted := d.Tick(ctx); halted {
				return
			}
		}
	}
}

// Tick performs one fetch cycle and reports whether the driver must halt.
func (d *Driver) Tick(ctx context.Context) (halted bool) {
	now := d.now()
	start, end := provider.DayWindow(now, d.loc)

	d.log.Debug().Time("window_start", start).Time("window_end", end).Msg("refresh started")

	snap, err := d.fetcher.Fetch(ctx, start, end)
	switch {
	case errors.Is(err, provider.ErrAuth):
		d.metrics.FetchTotal.WithLabelValues("auth").Inc()
		d.log.Error().Err(err).Msg("provider authorization failed, refresh halted permanently; fix credentials and restart")
		return true
	case errors.Is(err, context.Canceled):
		return false
	case err != nil:
		d.metrics.FetchTotal.WithLabelValues("transient").Inc()
		d.log.Warn().Err(err).Msg("refresh failed, keeping previous snapshot")
		return false
	}

	// Stats before the swap: how much of the mail is genuinely new.
	newMail := d.countNewMail(snap)

	d.cache.Replace(snap.Appointments, snap.Mails, now)

	d.metrics.FetchTotal.WithLabelValues("ok").Inc()
	d.metrics.CacheReady.Set(1)
	d.metrics.CacheItems.WithLabelValues("appointment").Set(float64(len(snap.Appointments)))
	d.metrics.CacheItems.WithLabelValues("mail").Set(float64(len(snap.Mails)))

	future, nextIn := upcoming(snap, now)
	evt := d.log.Info().
		Int("appointments", len(snap.Appointments)).
		Int("future_appointments", future).
		Int("unread_mail", len(snap.Mails)).
		Int("new_mail", newMail)
	if nextIn >= 0 {
		evt = evt.Dur("next_appointment_in", nextIn)
	}
	evt.Msg("refresh completed")
	return false
}

func (d *Driver) countNewMail(snap provider.Snapshot) int {
	known := map[string]struct{}{}
	for _, m := range d.cache.Mails() {
		known[m.ID] = struct{}{}
	}
	n := 0
	for _, m := range snap.Mails {
		if _, ok := known[m.ID]; !ok {
			n++
		}
	}
	return n
}

// upcoming returns the number of not-yet-started appointments and the
// time until the nearest one (-1 if none).
func upcoming(snap provider.Snapshot, now time.Time) (int, time.Duration) {
	count := 0
	nextIn := time.Duration(-1)
	for _, a := range snap.Appointments {
		if !a.Start.After(now) {
			continue
		}
		count++
		if d := a.Start.Sub(now); nextIn < 0 || d < nextIn {
			nextIn = d
		}
	}
	return count, nextIn
}
