package agenda

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ewsbot/internal/cache"
	"ewsbot/internal/config"
	"ewsbot/internal/metrics"
	"ewsbot/internal/model"
)

type flakySender struct {
	mu       sync.Mutex
	failures int // first N sends error
	calls    int
	sent     []int64
}

func (s *flakySender) SendHTML(_ context.Context, chatID int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("telegram unavailable")
	}
	s.sent = append(s.sent, chatID)
	return nil
}

func (s *flakySender) stats() (calls int, sent []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]int64(nil), s.sent...)
}

func readyStore(t *testing.T) *cache.Store {
	t.Helper()
	store := cache.New()
	store.Replace([]model.Appointment{}, nil, time.Now())
	return store
}

func newScheduler(t *testing.T, store *cache.Store, s Sender, chats []int64, at string) *Scheduler {
	t.Helper()
	ct, err := config.ParseClockTime(at)
	if err != nil {
		t.Fatalf("parse clock time: %v", err)
	}
	sch := New(store, s, chats, time.UTC, ct, func() string { return "digest" }, metrics.New(), nil, zerolog.Nop())
	sch.retryEvery = time.Millisecond
	return sch
}

func TestFiresOncePerDay(t *testing.T) {
	t.Parallel()
	s := &flakySender{}
	sch := newScheduler(t, readyStore(t), s, []int64{1}, "08:00")

	// Tuesday 2026-08-25, minutes 08:00 through 08:03.
	base := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		sch.now = func() time.Time { return now }
		sch.tick(context.Background())
	}

	if calls, _ := s.stats(); calls != 1 {
		t.Fatalf("digest must fire once per day, got %d sends", calls)
	}
}

func TestSkipsBeforeConfiguredTime(t *testing.T) {
	t.Parallel()
	s := &flakySender{}
	sch := newScheduler(t, readyStore(t), s, []int64{1}, "08:00")

	sch.now = func() time.Time { return time.Date(2026, 8, 25, 7, 59, 0, 0, time.UTC) }
	sch.tick(context.Background())

	if calls, _ := s.stats(); calls != 0 {
		t.Fatalf("digest must not fire before the configured time, got %d sends", calls)
	}
}

func TestSkipsWeekends(t *testing.T) {
	t.Parallel()
	s := &flakySender{}
	sch := newScheduler(t, readyStore(t), s, []int64{1}, "08:00")

	// Saturday and Sunday, both past the configured time.
	for day := 29; day <= 30; day++ {
		now := time.Date(2026, 8, day, 9, 0, 0, 0, time.UTC)
		sch.now = func() time.Time { return now }
		sch.tick(context.Background())
	}

	if calls, _ := s.stats(); calls != 0 {
		t.Fatalf("digest must not fire on weekends, got %d sends", calls)
	}
}

func TestSkipsUntilCacheReady(t *testing.T) {
	t.Parallel()
	s := &flakySender{}
	store := cache.New()
	sch := newScheduler(t, store, s, []int64{1}, "08:00")
	sch.now = func() time.Time { return time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC) }

	sch.tick(context.Background())
	if calls, _ := s.stats(); calls != 0 {
		t.Fatalf("digest must wait for the first fetch, got %d sends", calls)
	}

	store.Replace(nil, nil, time.Now())
	sch.tick(context.Background())
	if calls, _ := s.stats(); calls != 1 {
		t.Fatalf("digest must fire once the cache is ready, got %d sends", calls)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := &flakySender{failures: 3}
	sch := newScheduler(t, readyStore(t), s, []int64{1}, "08:00")
	sch.now = func() time.Time { return time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC) }

	sch.tick(context.Background())

	calls, sent := s.stats()
	if calls != 4 {
		t.Fatalf("expected 3 failures then success, got %d calls", calls)
	}
	if len(sent) != 1 {
		t.Fatalf("expected exactly one delivered digest, got %d", len(sent))
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	s := &flakySender{failures: 1 << 20}
	sch := newScheduler(t, readyStore(t), s, []int64{1}, "08:00")
	sch.now = func() time.Time { return time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC) }

	sch.tick(context.Background())

	if calls, _ := s.stats(); calls != sch.maxAttempts {
		t.Fatalf("expected exactly %d attempts, got %d", sch.maxAttempts, calls)
	}

	// The day stays claimed: no second delivery run after a failed one.
	sch.tick(context.Background())
	if calls, _ := s.stats(); calls != sch.maxAttempts {
		t.Fatalf("failed day must not re-fire, got %d calls", calls)
	}
}

func TestDeliveredChatsNotResent(t *testing.T) {
	t.Parallel()
	s := &partialSender{failChat: 2, failures: 2}
	sch := newScheduler(t, readyStore(t), s, []int64{1, 2}, "08:00")
	sch.now = func() time.Time { return time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC) }

	sch.tick(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perChat[1] != 1 {
		t.Fatalf("confirmed chat must receive the digest exactly once, got %d", s.perChat[1])
	}
	if s.perChat[2] != 3 {
		t.Fatalf("failing chat should be retried until success, got %d attempts", s.perChat[2])
	}
}

type partialSender struct {
	mu       sync.Mutex
	failChat int64
	failures int
	perChat  map[int64]int
}

func (s *partialSender) SendHTML(_ context.Context, chatID int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perChat == nil {
		s.perChat = make(map[int64]int)
	}
	s.perChat[chatID]++
	if chatID == s.failChat && s.perChat[chatID] <= s.failures {
		return errors.New("telegram unavailable")
	}
	return nil
}
