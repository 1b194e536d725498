package ews

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ewsbot/internal/config"
	"ewsbot/internal/provider"
)

const calendarResponse = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <m:FindItemResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages"
                        xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
      <m:ResponseMessages>
        <m:FindItemResponseMessage ResponseClass="Success">
          <m:ResponseCode>NoError</m:ResponseCode>
          <m:RootFolder TotalItemsInView="1">
            <t:Items>
              <t:CalendarItem>
                <t:ItemId Id="CAL-1" ChangeKey="x"/>
                <t:Subject>Weekly sync</t:Subject>
                <t:Start>2026-08-26T08:30:00Z</t:Start>
                <t:End>2026-08-26T09:00:00Z</t:End>
                <t:Location>Zoom https://zoom.example.com/j/123</t:Location>
                <t:Organizer><t:Mailbox><t:Name>Alice</t:Name><t:EmailAddress>alice@example.com</t:EmailAddress></t:Mailbox></t:Organizer>
              </t:CalendarItem>
            </t:Items>
          </m:RootFolder>
        </m:FindItemResponseMessage>
      </m:ResponseMessages>
    </m:FindItemResponse>
  </s:Body>
</s:Envelope>`

const inboxResponse = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <m:FindItemResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages"
                        xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
      <m:ResponseMessages>
        <m:FindItemResponseMessage ResponseClass="Success">
          <m:ResponseCode>NoError</m:ResponseCode>
          <m:RootFolder TotalItemsInView="1">
            <t:Items>
              <t:Message>
                <t:ItemId Id="MAIL-1" ChangeKey="y"/>
                <t:Subject>Quarterly report</t:Subject>
                <t:DateTimeReceived>2026-08-26T07:15:00Z</t:DateTimeReceived>
                <t:Preview>Please find attached the numbers for Q3.</t:Preview>
                <t:From><t:Mailbox><t:Name>Bob</t:Name><t:EmailAddress>bob@example.com</t:EmailAddress></t:Mailbox></t:From>
              </t:Message>
            </t:Items>
          </m:RootFolder>
        </m:FindItemResponseMessage>
      </m:ResponseMessages>
    </m:FindItemResponse>
  </s:Body>
</s:Envelope>`

const accessDeniedResponse = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <m:FindItemResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
      <m:ResponseMessages>
        <m:FindItemResponseMessage ResponseClass="Error">
          <m:ResponseCode>ErrorAccessDenied</m:ResponseCode>
          <m:MessageText>Access is denied.</m:MessageText>
        </m:FindItemResponseMessage>
      </m:ResponseMessages>
    </m:FindItemResponse>
  </s:Body>
</s:Envelope>`

// fixtureServer answers calendar requests with calendarResponse and
// everything else with inboxResponse.
func fixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		if strings.Contains(string(body), "CalendarView") {
			io.WriteString(w, calendarResponse)
			return
		}
		io.WriteString(w, inboxResponse)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srvURL string) *Client {
	return New(config.EWSConfig{
		Server:   srvURL,
		Email:    "me@example.com",
		Username: "me",
		Password: "secret",
		Auth:     "basic",
	}, zerolog.Nop())
}

func dayWindow() (time.Time, time.Time) {
	start := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func TestFetchParsesSnapshot(t *testing.T) {
	srv := fixtureServer(t)
	c := testClient(srv.URL)

	start, end := dayWindow()
	snap, err := c.Fetch(t.Context(), start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(snap.Appointments) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(snap.Appointments))
	}
	a := snap.Appointments[0]
	if a.ID != "CAL-1" || a.Subject != "Weekly sync" {
		t.Fatalf("unexpected appointment: %+v", a)
	}
	if want := time.Date(2026, 8, 26, 8, 30, 0, 0, time.UTC); !a.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", a.Start, want)
	}
	if a.Organizer != "Alice" {
		t.Fatalf("organizer = %q", a.Organizer)
	}
	if a.JoinURL != "https://zoom.example.com/j/123" {
		t.Fatalf("join url = %q", a.JoinURL)
	}

	if len(snap.Mails) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(snap.Mails))
	}
	m := snap.Mails[0]
	if m.ID != "MAIL-1" || m.Sender != "Bob" {
		t.Fatalf("unexpected mail: %+v", m)
	}
	if !strings.Contains(m.Preview, "numbers for Q3") {
		t.Fatalf("preview = %q", m.Preview)
	}
}

func TestFetchRequestsCarryCredentialsAndWindow(t *testing.T) {
	var sawAuth bool
	var calendarBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			sawAuth = true
		}
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "CalendarView") {
			calendarBody = string(body)
			io.WriteString(w, calendarResponse)
			return
		}
		io.WriteString(w, inboxResponse)
	}))
	defer srv.Close()

	start, end := dayWindow()
	if _, err := testClient(srv.URL).Fetch(t.Context(), start, end); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !sawAuth {
		t.Fatal("request must carry basic credentials")
	}
	if !strings.Contains(calendarBody, `StartDate="2026-08-26T00:00:00Z"`) {
		t.Fatalf("calendar view window missing from request:\n%s", calendarBody)
	}
}

func TestHTTPUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	start, end := dayWindow()
	_, err := testClient(srv.URL).Fetch(t.Context(), start, end)
	if !errors.Is(err, provider.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestAccessDeniedCodeIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		io.WriteString(w, accessDeniedResponse)
	}))
	defer srv.Close()

	start, end := dayWindow()
	_, err := testClient(srv.URL).Fetch(t.Context(), start, end)
	if !errors.Is(err, provider.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	start, end := dayWindow()
	_, err := testClient(srv.URL).Fetch(t.Context(), start, end)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, provider.ErrAuth) {
		t.Fatalf("5xx must not classify as auth failure: %v", err)
	}
}

func TestParseTimeNaiveIsUTC(t *testing.T) {
	got, err := parseTime("2026-08-26T08:30:00")
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if want := time.Date(2026, 8, 26, 8, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
