package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ewsbot/internal/cache"
	"ewsbot/internal/metrics"
	"ewsbot/internal/model"
)

// recordingSender captures every outbound message; fail makes all sends error.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMsg
	fail bool
}

type sentMsg struct {
	chatID int64
	text   string
}

func (s *recordingSender) SendHTML(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("delivery refused")
	}
	s.sent = append(s.sent, sentMsg{chatID: chatID, text: text})
	return nil
}

func (s *recordingSender) messages() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMsg(nil), s.sent...)
}

func (s *recordingSender) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func newApptNotifier(store *cache.Store, s Sender, chats []int64) *AppointmentNotifier {
	n := NewAppointmentNotifier(store, s, chats, 600*time.Second, time.Second, time.UTC, metrics.New(), nil, zerolog.Nop())
	n.retries = 1
	n.retryDelay = time.Millisecond
	return n
}

func newMailNotifier(store *cache.Store, s Sender, chats []int64, keywords []string, mention string) *MailNotifier {
	n := NewMailNotifier(store, s, chats, time.Second, time.UTC, keywords, mention, metrics.New(), nil, zerolog.Nop())
	n.retries = 1
	n.retryDelay = time.Millisecond
	return n
}

func TestNoSendsBeforeReady(t *testing.T) {
	t.Parallel()
	store := cache.New()
	s := &recordingSender{}

	newApptNotifier(store, s, []int64{1}).Tick(context.Background())
	newMailNotifier(store, s, []int64{1}, nil, "").Tick(context.Background())

	if got := s.messages(); len(got) != 0 {
		t.Fatalf("notifiers must stay silent before the first refresh, sent %v", got)
	}
}

func TestAppointmentSentExactlyOnce(t *testing.T) {
	t.Parallel()
	store := cache.New()
	s := &recordingSender{}
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	store.Replace([]model.Appointment{
		{ID: "A1", Subject: "standup", Start: start, End: start.Add(time.Hour)},
	}, nil, time.Now())

	n := newApptNotifier(store, s, []int64{1, 2})
	n.now = func() time.Time { return start.Add(-5 * time.Minute) }

	n.Tick(context.Background())
	n.Tick(context.Background())
	n.Tick(context.Background())

	got := s.messages()
	if len(got) != 2 {
		t.Fatalf("expected exactly one fan-out (2 chats), got %d messages", len(got))
	}
	if got[0].chatID == got[1].chatID {
		t.Fatalf("both chats must receive the alert, got %v", got)
	}
}

func TestAppointmentNotDueYet(t *testing.T) {
	t.Parallel()
	store := cache.New()
	s := &recordingSender{}
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	store.Replace([]model.Appointment{
		{ID: "A1", Subject: "later", Start: start, End: start.Add(time.Hour)},
	}, nil, time.Now())

	n := newApptNotifier(store, s, []int64{1})
	n.now = func() time.Time { return start.Add(-601 * time.Second) }
	n.Tick(context.Background())

	if got := s.messages(); len(got) != 0 {
		t.Fatalf("appointment outside lead window must not be sent, got %v", got)
	}
}

func TestDeliveryFailureRetriedNextTick(t *testing.T) {
	t.Parallel()
	store := cache.New()
	s := &recordingSender{}
	store.Replace(nil, []model.MailItem{
		{ID: "M1", Subject: "hello", Received: time.Now().UTC()},
	}, time.Now())

	n := newMailNotifier(store, s, []int64{1}, nil, "")

	s.setFail(true)
	n.Tick(context.Background())
	if got := store.UnnotifiedMail(); len(got) != 1 {
		t.Fatal("failed delivery must leave the item unnotified")
	}

	s.setFail(false)
	n.Tick(context.Background())
	if got := s.messages(); len(got) != 1 {
		t.Fatalf("recovered delivery must send exactly once, got %d", len(got))
	}
	if got := store.UnnotifiedMail(); len(got) != 0 {
		t.Fatal("confirmed delivery must mark the item")
	}

	// And nothing further on later ticks.
	n.Tick(context.Background())
	if got := s.messages(); len(got) != 1 {
		t.Fatalf("item must never be sent twice, got %d sends", len(got))
	}
}

func TestMailKeywordMentionDelivered(t *testing.T) {
	t.Parallel()
	store := cache.New()
	s := &recordingSender{}
	store.Replace(nil, []model.MailItem{
		{ID: "M1", Subject: "Server URGENT outage", Sender: "noc@example.com", Received: time.Now().UTC()},
	}, time.Now())

	n := newMailNotifier(store, s, []int64{7}, []string{"urgent"}, "@oncall")
	n.Tick(context.Background())

	got := s.messages()
	if len(got) != 1 {
		t.Fatalf("expected one message, got %d", len(got))
	}
	if !strings.Contains(got[0].text, "@oncall") {
		t.Fatalf("delivered message must contain the mention, got %q", got[0].text)
	}
}

func TestCancelledContextDoesNotMark(t *testing.T) {
	t.Parallel()
	store := cache.New()
	s := &recordingSender{}
	store.Replace(nil, []model.MailItem{
		{ID: "M1", Subject: "hello", Received: time.Now().UTC()},
	}, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := newMailNotifier(store, s, []int64{1}, nil, "")
	n.Tick(ctx)

	if got := store.UnnotifiedMail(); len(got) != 1 {
		t.Fatal("unconfirmed send must not flip the notified flag")
	}
}
