// Package ews talks SOAP to an Exchange Web Services endpoint. Two
// FindItem calls per fetch: a CalendarView over the day window and an
// unread-only view of the inbox.
package ews

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog"

	"ewsbot/internal/config"
	"ewsbot/internal/format"
	"ewsbot/internal/model"
	"ewsbot/internal/provider"
)

const (
	soapPath    = "/EWS/Exchange.asmx"
	maxCalendar = 200
	maxMail     = 100
)

// Client implements provider.Fetcher against one mailbox.
type Client struct {
	endpoint string
	email    string
	username string
	password string
	http     *http.Client
	log      zerolog.Logger
}

func New(cfg config.EWSConfig, log zerolog.Logger) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.SSLVerification()},
	}
	var rt http.RoundTripper = transport
	if cfg.Auth != "basic" {
		rt = ntlmssp.Negotiator{RoundTripper: transport}
	}

	endpoint := strings.TrimRight(cfg.Server, "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	if !strings.HasSuffix(strings.ToLower(endpoint), strings.ToLower(soapPath)) {
		endpoint += soapPath
	}

	username := cfg.Username
	if username == "" {
		username = cfg.Email
	}

	return &Client{
		endpoint: endpoint,
		email:    cfg.Email,
		username: username,
		password: cfg.Password,
		http:     &http.Client{Transport: rt, Timeout: 45 * time.Second},
		log:      log.With().Str("comp", "ews").Logger(),
	}
}

// Fetch retrieves the calendar view for [start, end) and the unread
// inbox in one pass. Any auth failure surfaces as provider.ErrAuth.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) (provider.Snapshot, error) {
	appointments, err := c.fetchCalendar(ctx, start, end)
	if err != nil {
		return provider.Snapshot{}, fmt.Errorf("calendar: %w", err)
	}
	mails, err := c.fetchUnread(ctx)
	if err != nil {
		return provider.Snapshot{}, fmt.Errorf("inbox: %w", err)
	}
	return provider.Snapshot{Appointments: appointments, Mails: mails}, nil
}

func (c *Client) fetchCalendar(ctx context.Context, start, end time.Time) ([]model.Appointment, error) {
	body := fmt.Sprintf(calendarViewTmpl,
		maxCalendar,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		xmlEscape(c.email),
	)
	items, err := c.findItems(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make([]model.Appointment, 0, len(items.CalendarItems))
	for _, it := range items.CalendarItems {
		startAt, err := parseTime(it.Start)
		if err != nil {
			c.log.Warn().Str("item_id", it.ItemID.ID).Str("start", it.Start).Msg("skipping item with unparsable start")
			continue
		}
		endAt, err := parseTime(it.End)
		if err != nil {
			endAt = startAt
		}
		out = append(out, model.Appointment{
			ID:        it.ItemID.ID,
			Subject:   it.Subject,
			Start:     startAt,
			End:       endAt,
			Organizer: it.Organizer.Mailbox.Display(),
			Location:  it.Location,
			JoinURL:   format.ExtractURL(it.Location),
		})
	}
	return out, nil
}

func (c *Client) fetchUnread(ctx context.Context) ([]model.MailItem, error) {
	body := fmt.Sprintf(unreadInboxTmpl, maxMail, xmlEscape(c.email))
	items, err := c.findItems(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make([]model.MailItem, 0, len(items.Messages))
	for _, it := range items.Messages {
		received, err := parseTime(it.DateTimeReceived)
		if err != nil {
			c.log.Warn().Str("item_id", it.ItemID.ID).Str("received", it.DateTimeReceived).Msg("skipping item with unparsable timestamp")
			continue
		}
		out = append(out, model.MailItem{
			ID:       it.ItemID.ID,
			Subject:  it.Subject,
			Sender:   it.From.Mailbox.Display(),
			Received: received,
			Preview:  format.BuildPreview(it.Preview),
		})
	}
	return out, nil
}

// findItems posts one FindItem request and returns the items of the
// first response message.
func (c *Client) findItems(ctx context.Context, body string) (*foundItems, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", provider.ErrAuth, resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if f := env.Body.Fault; f != nil {
		if isAuthCode(f.Code) || isAuthCode(f.String) {
			return nil, fmt.Errorf("%w: soap fault %s", provider.ErrAuth, f.Code)
		}
		return nil, fmt.Errorf("soap fault %s: %s", f.Code, f.String)
	}

	msgs := env.Body.FindItemResponse.ResponseMessages.Messages
	if len(msgs) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	msg := msgs[0]
	if msg.Class != "Success" {
		if isAuthCode(msg.ResponseCode) {
			return nil, fmt.Errorf("%w: %s", provider.ErrAuth, msg.ResponseCode)
		}
		return nil, fmt.Errorf("%s: %s", msg.ResponseCode, msg.MessageText)
	}
	return &msg.RootFolder.Items, nil
}

// isAuthCode reports whether an EWS response code or fault text names a
// credential or mailbox-access failure rather than a transient error.
func isAuthCode(code string) bool {
	switch {
	case strings.Contains(code, "ErrorAccessDenied"),
		strings.Contains(code, "ErrorMailboxLogonFailed"),
		strings.Contains(code, "ErrorNonExistentMailbox"),
		strings.Contains(code, "ErrorImpersonateUserDenied"),
		strings.Contains(code, "Unauthorized"):
		return true
	}
	return false
}

// parseTime accepts the timestamp shapes EWS emits: RFC3339 with zone,
// and zone-less values which are taken as UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
