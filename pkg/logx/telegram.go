package logx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const telegramLogLimit = 3500

// telegramWriter is a zerolog sink that forwards rendered log lines to
// the admin chat. Lines below minLevel or beyond the rate limit are
// silently skipped; this sink must never slow down logging.
type telegramWriter struct {
	svc      *Service
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.minLevel {
		return len(p), nil
	}
	if !w.limiter.Allow() {
		return len(p), nil
	}
	if msg := formatJSONLine(p); msg != "" {
		w.svc.enqueue(msg)
	}
	return len(p), nil
}

// formatJSONLine turns one zerolog JSON line into a compact plain-text
// message: "[LEVEL] message" followed by "- key=value" lines.
func formatJSONLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), telegramLogLimit)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)
	for k, v := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(v), 600))
	}
	return truncate(b.String(), telegramLogLimit)
}

func truncate(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
