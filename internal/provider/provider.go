// Package provider defines the fetch collaborator consumed by the
// refresh driver, plus the error taxonomy the driver acts on.
package provider

import (
	"context"
	"errors"
	"time"

	"ewsbot/internal/model"
)

// ErrAuth marks a fatal authorization failure. The refresh driver halts
// permanently when a fetch error wraps it; everything else is treated as
// transient and retried on the next tick.
var ErrAuth = errors.New("provider: authorization failed")

// Snapshot is one complete fetch result: today's appointments and the
// current unread mail, both time-normalized to UTC.
type Snapshot struct {
	Appointments []model.Appointment
	Mails        []model.MailItem
}

// Fetcher retrieves the snapshot for the given day window (UTC instants).
type Fetcher interface {
	Fetch(ctx context.Context, start, end time.Time) (Snapshot, error)
}

// DayWindow returns the current local calendar day as a pair of UTC
// instants: local midnight and local midnight plus 24 hours.
func DayWindow(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.UTC(), midnight.Add(24 * time.Hour).UTC()
}
