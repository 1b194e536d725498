// Package format renders the outbound Telegram messages and the /today
// and /check command output. Everything here is pure: inputs in, HTML
// string out.
package format

import (
	"fmt"
	"strings"
	"time"

	"ewsbot/internal/model"
)

// workdayStartHour anchors the free-slot line before the first meeting
// of the day in the /today listing.
const workdayStartHour = 9

const (
	noSubject = "(no subject)"
	dateFmt   = "02.01.2006"
	timeFmt   = "15:04"
)

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Minutes())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func subjectOr(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return noSubject
	}
	return s
}

// Appointment renders the pre-meeting alert.
func Appointment(a model.Appointment, loc *time.Location, now time.Time) string {
	minutesTo := int(a.Start.Sub(now).Minutes())
	if minutesTo < 0 {
		minutesTo = 0
	}

	lines := []H{
		B(fmt.Sprintf("🔔 In %d min: %s", minutesTo, subjectOr(a.Subject))),
		Esc("Organizer: ") + B(orDash(a.Organizer)),
		Esc("Starts: " + a.Start.In(loc).Format(dateFmt+" "+timeFmt)),
		Esc("Duration: " + formatDuration(a.Duration())),
	}
	if a.JoinURL != "" {
		lines = append(lines, Esc("Link: ")+Link(a.JoinURL, a.JoinURL))
	} else if place := strings.TrimSpace(a.Location); place != "" {
		lines = append(lines, Esc("Location: "+place))
	}
	return Lines(lines...).String()
}

// Mail renders the unread-mail alert. If subject, sender or preview
// contains one of the keywords, the message gets an attention prefix and
// mention is appended.
func Mail(m model.MailItem, loc *time.Location, keywords []string, mention string) string {
	haystack := m.Subject + "\n" + m.Sender + "\n" + m.Preview
	needsMention := ContainsKeyword(haystack, keywords)

	lines := []H{
		B(subjectOr(m.Subject)),
		Esc("From: " + orDash(m.Sender)),
		Esc("Received: " + m.Received.In(loc).Format("2006-01-02 "+timeFmt)),
	}
	if p := strings.TrimSpace(m.Preview); p != "" {
		lines = append(lines, Quote(p))
	}

	msg := Lines(lines...).String()
	if needsMention {
		msg = "‼️" + msg
		if mention = strings.TrimSpace(mention); mention != "" {
			msg += "\n" + Esc(mention).String()
		}
	}
	return msg
}

// TodayList renders the /today command output: the day's meetings sorted
// by start, with free-slot lines between consecutive meetings and before
// the first one relative to the start of the workday.
func TodayList(appointments []model.Appointment, loc *time.Location, now time.Time) string {
	if len(appointments) == 0 {
		return Esc("No meetings today").String()
	}

	lines := []H{B("Today " + now.In(loc).Format(dateFmt))}

	first := appointments[0].Start.In(loc)
	workdayStart := time.Date(first.Year(), first.Month(), first.Day(), workdayStartHour, 0, 0, 0, loc)
	if workdayStart.Before(first) {
		lines = append(lines, gapLine(workdayStart, first))
	}

	for i, a := range appointments {
		start := a.Start.In(loc)
		lines = append(lines, Esc(fmt.Sprintf("‣ %s, %s, %s",
			subjectOr(a.Subject), start.Format(timeFmt), formatDuration(a.Duration()))))

		if i < len(appointments)-1 {
			next := appointments[i+1]
			if a.End.Before(next.Start) {
				lines = append(lines, gapLine(a.End.In(loc), next.Start.In(loc)))
			}
		}
	}
	return Lines(lines...).String()
}

func gapLine(from, to time.Time) H {
	return B("Free") + Esc(fmt.Sprintf(": from %s, %s", from.Format(timeFmt), formatDuration(to.Sub(from))))
}

// CheckList renders the /check command output: the cached unread mail.
func CheckList(mails []model.MailItem, loc *time.Location) string {
	if len(mails) == 0 {
		return Esc("No unread mail").String()
	}

	lines := []H{B(fmt.Sprintf("Unread mail: %d", len(mails)))}
	for _, m := range mails {
		lines = append(lines, Esc(fmt.Sprintf("• %s — %s (%s)",
			orDash(m.Sender), subjectOr(m.Subject), m.Received.In(loc).Format(timeFmt))))
	}
	return Lines(lines...).String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
