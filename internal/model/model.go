// Package model holds the item types shared by the provider, cache and
// notification layers. All instants are stored in UTC.
package model

import "time"

// Kind discriminates the two notification channels.
type Kind string

const (
	KindAppointment Kind = "appointment"
	KindMail        Kind = "mail"
)

// Appointment is a single calendar entry for the current day.
type Appointment struct {
	ID        string
	Subject   string
	Start     time.Time // UTC
	End       time.Time // UTC
	Organizer string
	Location  string
	JoinURL   string

	// Notified flips false->true at most once per ID and only after a
	// confirmed delivery. It is owned by the cache store.
	Notified bool
}

// Duration returns the appointment length, never negative.
func (a Appointment) Duration() time.Duration {
	d := a.End.Sub(a.Start)
	if d < 0 {
		return 0
	}
	return d
}

// MailItem is a single unread inbox message.
type MailItem struct {
	ID       string
	Subject  string
	Sender   string
	Received time.Time // UTC
	Preview  string

	Notified bool
}
