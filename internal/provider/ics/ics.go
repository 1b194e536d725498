// Package ics serves the calendar half of a snapshot from a published
// iCalendar feed. The feed has no mailbox, so fetches always return an
// empty mail list; the mail notifier simply stays idle.
package ics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"ewsbot/internal/config"
	"ewsbot/internal/format"
	"ewsbot/internal/model"
	"ewsbot/internal/provider"
)

const maxOccurrencesPerEvent = 1000

// Client implements provider.Fetcher over one ICS feed URL.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

func New(cfg config.ICSConfig, log zerolog.Logger) *Client {
	return &Client{
		url:  cfg.URL,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log.With().Str("comp", "ics").Logger(),
	}
}

// Fetch downloads the feed and expands its events into [start, end).
func (c *Client) Fetch(ctx context.Context, start, end time.Time) (provider.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return provider.Snapshot{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Snapshot{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.Snapshot{}, fmt.Errorf("%w: http %d", provider.ErrAuth, resp.StatusCode)
	default:
		return provider.Snapshot{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	cal, err := ical.ParseCalendar(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return provider.Snapshot{}, fmt.Errorf("parse feed: %w", err)
	}

	var appointments []model.Appointment
	for _, ev := range cal.Events() {
		occ, err := c.expand(ev, start, end)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping unparsable event")
			continue
		}
		appointments = append(appointments, occ...)
	}
	return provider.Snapshot{Appointments: appointments}, nil
}

// expand turns one VEVENT into zero or more appointments within the
// window, following the RRULE when the event recurs.
func (c *Client) expand(ev *ical.VEvent, windowStart, windowEnd time.Time) ([]model.Appointment, error) {
	uid := propValue(ev, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, fmt.Errorf("event without UID")
	}
	evStart, err := ev.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}
	evEnd, err := ev.GetEndAt()
	if err != nil {
		evEnd = evStart
	}

	subject := propValue(ev, ical.ComponentPropertySummary)
	location := propValue(ev, ical.ComponentPropertyLocation)
	organizer := propValue(ev, ical.ComponentPropertyOrganizer)
	duration := evEnd.Sub(evStart)

	rawRule := propValue(ev, ical.ComponentPropertyRrule)
	if rawRule == "" {
		if evStart.Before(windowStart) || !evStart.Before(windowEnd) {
			return nil, nil
		}
		return []model.Appointment{c.occurrence(uid, subject, organizer, location, evStart, duration)}, nil
	}

	rule, err := rrule.StrToRRule(rawRule)
	if err != nil {
		return nil, fmt.Errorf("event %s: rrule: %w", uid, err)
	}
	rule.DTStart(evStart)

	var set rrule.Set
	set.RRule(rule)

	starts := set.Between(windowStart.In(evStart.Location()), windowEnd.In(evStart.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]model.Appointment, 0, len(starts))
	for _, at := range starts {
		// Between is end-inclusive; the window is half-open.
		if !at.Before(windowEnd) {
			continue
		}
		out = append(out, c.occurrence(uid, subject, organizer, location, at, duration))
	}
	return out, nil
}

// occurrence builds one appointment. Recurring instances share a UID,
// so the start instant is folded into the ID to keep notification state
// per instance.
func (c *Client) occurrence(uid, subject, organizer, location string, start time.Time, duration time.Duration) model.Appointment {
	if duration < 0 {
		duration = 0
	}
	startUTC := start.UTC()
	return model.Appointment{
		ID:        uid + "/" + startUTC.Format(time.RFC3339),
		Subject:   subject,
		Start:     startUTC,
		End:       startUTC.Add(duration),
		Organizer: organizer,
		Location:  location,
		JoinURL:   format.ExtractURL(location),
	}
}

func propValue(ev *ical.VEvent, name ical.ComponentProperty) string {
	if p := ev.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}
