// Package logx builds the process-wide zerolog logger: console writer,
// optional append-only log file, and an optional rate-limited Telegram
// sink for surfacing warnings to the admin chat.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig forwards log lines at or above MinLevel to the admin
// chat. Disabled by default: the fatal refresh-halt is intentionally
// visible in logs only unless an operator opts in.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// SendFunc delivers one formatted log line to the admin chat.
type SendFunc func(ctx context.Context, text string) error

// Service owns the log sinks that need closing or late wiring.
type Service struct {
	file *os.File

	mu      sync.Mutex
	send    SendFunc
	queue   chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New assembles the root logger from cfg. The Telegram sink stays dormant
// until SetTelegramSender is called (the bot is constructed after logging).
func New(cfg Config) (*Service, zerolog.Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	svc := &Service{queue: make(chan string, 64)}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./ewsbot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			svc.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		rps := cfg.Telegram.RatePerSec
		if rps < 1 {
			rps = 1
		}
		writers = append(writers, &telegramWriter{
			svc:      svc,
			minLevel: ParseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel),
			limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		})
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}

	root := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	return svc, root
}

// SetTelegramSender wires the admin-chat delivery function and starts the
// forwarding worker. Safe to call once after the gateways exist.
func (s *Service) SetTelegramSender(send SendFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = send
	if s.started || send == nil {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.queue:
				_ = send(ctx, msg)
			}
		}
	}()
}

func (s *Service) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func (s *Service) enqueue(msg string) {
	// Never block core logging.
	select {
	case s.queue <- msg:
	default:
	}
}

func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
