// Package cache implements the in-memory snapshot store shared by the
// refresh driver, the notifiers and the command handlers.
//
// The store is the single point of truth for the "notified" flags: all
// mutation goes through Replace and MarkNotified under one mutex, so an
// item is never handed out as due/unnotified twice once it has been
// marked. Readers always observe a fully formed snapshot.
package cache

import (
	"sort"
	"sync"
	"time"

	"ewsbot/internal/model"
)

// Store holds the latest known snapshot of today's appointments and
// unread mail. The zero snapshot is empty and not ready; nothing may be
// notified before the first successful Replace.
type Store struct {
	mu sync.RWMutex

	ready     bool
	fetchedAt time.Time

	appointments map[string]*model.Appointment
	mails        map[string]*model.MailItem
}

func New() *Store {
	return &Store{
		appointments: map[string]*model.Appointment{},
		mails:        map[string]*model.MailItem{},
	}
}

// Replace swaps in a new snapshot wholesale. Notified flags are carried
// forward for IDs present in both the old and the new snapshot; IDs that
// disappear take their flag state with them, and new IDs start unnotified.
func (s *Store) Replace(appointments []model.Appointment, mails []model.MailItem, fetchedAt time.Time) {
	newAppointments := make(map[string]*model.Appointment, len(appointments))
	for i := range appointments {
		a := appointments[i]
		newAppointments[a.ID] = &a
	}
	newMails := make(map[string]*model.MailItem, len(mails))
	for i := range mails {
		m := mails[i]
		newMails[m.ID] = &m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range newAppointments {
		if prev, ok := s.appointments[id]; ok {
			a.Notified = prev.Notified
		}
	}
	for id, m := range newMails {
		if prev, ok := s.mails[id]; ok {
			m.Notified = prev.Notified
		}
	}

	s.appointments = newAppointments
	s.mails = newMails
	s.fetchedAt = fetchedAt
	s.ready = true
}

// Ready reports whether at least one successful refresh has happened.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// FetchedAt returns the instant of the last successful refresh.
func (s *Store) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// DueAppointments returns unnotified appointments whose start is within
// lead of now. Appointments that already started stay eligible until they
// are explicitly marked, so a process started mid-meeting still notifies
// once. Results are copies sorted by start time.
func (s *Store) DueAppointments(now time.Time, lead time.Duration) []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []model.Appointment
	cutoff := now.Add(lead)
	for _, a := range s.appointments {
		if a.Notified {
			continue
		}
		if a.Start.After(cutoff) {
			continue
		}
		due = append(due, *a)
	}
	sortAppointments(due)
	return due
}

// UnnotifiedMail returns unnotified mail items, newest first, as copies.
func (s *Store) UnnotifiedMail() []model.MailItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MailItem
	for _, m := range s.mails {
		if m.Notified {
			continue
		}
		out = append(out, *m)
	}
	sortMail(out)
	return out
}

// MarkNotified flips the notified flag for the given item. It is
// idempotent: marking an already-notified or unknown ID is a no-op.
func (s *Store) MarkNotified(kind model.Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case model.KindAppointment:
		if a, ok := s.appointments[id]; ok {
			a.Notified = true
		}
	case model.KindMail:
		if m, ok := s.mails[id]; ok {
			m.Notified = true
		}
	}
}

// Appointments returns a copy of all cached appointments sorted by start.
func (s *Store) Appointments() []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, *a)
	}
	sortAppointments(out)
	return out
}

// Mails returns a copy of all cached mail items, newest first.
func (s *Store) Mails() []model.MailItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MailItem, 0, len(s.mails))
	for _, m := range s.mails {
		out = append(out, *m)
	}
	sortMail(out)
	return out
}

// Counts returns the number of cached appointments and mail items.
func (s *Store) Counts() (appointments, mails int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.appointments), len(s.mails)
}

func sortAppointments(items []model.Appointment) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Start.Equal(items[j].Start) {
			return items[i].ID < items[j].ID
		}
		return items[i].Start.Before(items[j].Start)
	})
}

func sortMail(items []model.MailItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Received.Equal(items[j].Received) {
			return items[i].ID < items[j].ID
		}
		return items[i].Received.After(items[j].Received)
	})
}
