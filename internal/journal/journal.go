// Package journal records confirmed notification deliveries and agenda
// runs for operational inspection. The journal is write-only from the
// application's point of view: it is never read back to rebuild dedup
// state (the cache is rebuilt from the next successful fetch instead).
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the journal backend.
//
// Driver values:
//   - "" or "none": disabled
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one delivered (or abandoned) notification. Keep it compact
// and schema-stable.
type Entry struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"` // appointment|mail|agenda
	ItemID   string    `json:"item_id,omitempty"`
	ChatID   int64     `json:"chat_id"`
	Subject  string    `json:"subject,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
}

// Journal is the minimal persistence API used by the notifiers.
type Journal interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Open initializes the configured journal.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log zerolog.Logger) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + cfg.Driver)
	}
}

// Record appends best-effort: journal failures are logged, never
// propagated into the delivery path.
func Record(ctx context.Context, j Journal, log zerolog.Logger, e Entry) {
	if j == nil {
		return
	}
	if err := j.Append(ctx, e); err != nil {
		log.Warn().Err(err).Str("kind", e.Kind).Msg("journal append failed")
	}
}
