// Package config loads and validates the immutable process configuration.
//
// The file is YAML with strict field checking. Secrets may be referenced
// as ${ENV_VAR} inside the file or set directly through the environment
// (a local .env file is honored for development). The configuration is
// loaded exactly once at startup and never re-read.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Timezone string `yaml:"timezone" validate:"required"`

	Provider ProviderConfig `yaml:"provider"`
	Telegram TelegramConfig `yaml:"telegram"`

	Intervals IntervalsConfig `yaml:"intervals"`

	Keywords    []string  `yaml:"keywords"`
	MentionText string    `yaml:"mention_text"`
	AgendaTime  ClockTime `yaml:"agenda_time"`

	Logging LoggingConfig `yaml:"logging"`
	Journal JournalConfig `yaml:"journal"`
	Debug   DebugConfig   `yaml:"debug"`

	loc *time.Location
}

type ProviderConfig struct {
	// Kind selects the fetch backend: "ews" (default) or "ics".
	Kind string    `yaml:"kind"`
	EWS  EWSConfig `yaml:"ews"`
	ICS  ICSConfig `yaml:"ics"`
}

type EWSConfig struct {
	Server   string `yaml:"server"`
	Email    string `yaml:"email"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Auth is "ntlm" (default) or "basic".
	Auth      string `yaml:"auth"`
	VerifySSL *bool  `yaml:"verify_ssl"`
}

func (c EWSConfig) SSLVerification() bool {
	return c.VerifySSL == nil || *c.VerifySSL
}

type ICSConfig struct {
	URL string `yaml:"url"`
}

type TelegramConfig struct {
	AppointmentToken string    `yaml:"appointment_token"`
	MailToken        string    `yaml:"mail_token"`
	AllowedChatIDs   []int64   `yaml:"allowed_chat_ids" validate:"required,min=1"`
	AdminChatID      int64     `yaml:"admin_chat_id"`
	PollTimeout      Duration  `yaml:"poll_timeout"`
	RatePerSec       int       `yaml:"rate_per_sec"`
}

type IntervalsConfig struct {
	Update             Duration `yaml:"update"`
	AppointmentRefresh Duration `yaml:"appointment_refresh"`
	AppointmentNotify  Duration `yaml:"appointment_notify"`
	MailRefresh        Duration `yaml:"mail_refresh"`
}

type LoggingConfig struct {
	Level    string          `yaml:"level"`
	Console  *bool           `yaml:"console"`
	File     LoggingFile     `yaml:"file"`
	Telegram LoggingTelegram `yaml:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `yaml:"enabled"`
	MinLevel   string `yaml:"min_level"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

type JournalConfig struct {
	// Driver: "" or "none" disables the journal; "file" appends JSONL;
	// "sqlite" needs the sqlite build tag.
	Driver      string   `yaml:"driver"`
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type DebugConfig struct {
	// Addr enables the debug HTTP server (pprof + metrics) when set,
	// e.g. "127.0.0.1:6060". Prefer loopback.
	Addr string `yaml:"addr"`
}

// Load reads, normalizes and validates the config file at path.
func Load(path string) (*Config, error) {
	// Development convenience, mirrors the original deployment: secrets
	// may live in a .env next to the binary. Missing file is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRefRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} references with environment values.
// Bare $NAME is left alone so passwords containing '$' survive unmangled.
func expandEnv(data []byte) []byte {
	return envRefRE.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(ref[2 : len(ref)-1])
		return []byte(os.Getenv(name))
	})
}

func (c *Config) normalize() {
	if c.Provider.Kind == "" {
		c.Provider.Kind = "ews"
	}
	c.Provider.Kind = strings.ToLower(strings.TrimSpace(c.Provider.Kind))
	if c.Provider.EWS.Auth == "" {
		c.Provider.EWS.Auth = "ntlm"
	}
	c.Provider.EWS.Auth = strings.ToLower(strings.TrimSpace(c.Provider.EWS.Auth))

	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = Duration(10 * time.Second)
	}
	if c.Telegram.RatePerSec <= 0 {
		c.Telegram.RatePerSec = 20
	}

	if c.Intervals.Update <= 0 {
		c.Intervals.Update = Duration(300 * time.Second)
	}
	if c.Intervals.AppointmentRefresh <= 0 {
		c.Intervals.AppointmentRefresh = Duration(60 * time.Second)
	}
	if c.Intervals.AppointmentNotify <= 0 {
		c.Intervals.AppointmentNotify = Duration(600 * time.Second)
	}
	if c.Intervals.MailRefresh <= 0 {
		c.Intervals.MailRefresh = Duration(120 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.MinLevel == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}

	cleaned := c.Keywords[:0]
	for _, kw := range c.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			cleaned = append(cleaned, kw)
		}
	}
	c.Keywords = cleaned
	c.MentionText = strings.TrimSpace(c.MentionText)
}

// applyEnvOverrides lets secrets come straight from the environment even
// when the YAML carries placeholders or nothing at all.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("APPOINTMENT_BOT_TOKEN"); v != "" {
		c.Telegram.AppointmentToken = v
	}
	if v := os.Getenv("MAIL_BOT_TOKEN"); v != "" {
		c.Telegram.MailToken = v
	}
	if v := os.Getenv("EWS_PASSWORD"); v != "" {
		c.Provider.EWS.Password = v
	}
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.loc = loc

	if strings.TrimSpace(c.Telegram.AppointmentToken) == "" {
		return errors.New("telegram.appointment_token is required")
	}
	if strings.TrimSpace(c.Telegram.MailToken) == "" {
		return errors.New("telegram.mail_token is required")
	}

	switch c.Provider.Kind {
	case "ews":
		e := c.Provider.EWS
		for name, v := range map[string]string{
			"provider.ews.server":   e.Server,
			"provider.ews.email":    e.Email,
			"provider.ews.username": e.Username,
			"provider.ews.password": e.Password,
		} {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%s is required", name)
			}
		}
		if e.Auth != "ntlm" && e.Auth != "basic" {
			return fmt.Errorf("provider.ews.auth must be ntlm or basic, got %q", e.Auth)
		}
	case "ics":
		if strings.TrimSpace(c.Provider.ICS.URL) == "" {
			return errors.New("provider.ics.url is required")
		}
	default:
		return fmt.Errorf("provider.kind must be ews or ics, got %q", c.Provider.Kind)
	}

	if c.Logging.Telegram.Enabled && c.Telegram.AdminChatID == 0 {
		return errors.New("telegram.admin_chat_id is required when logging.telegram.enabled")
	}
	return nil
}

// Location returns the configured IANA timezone.
func (c *Config) Location() *time.Location { return c.loc }

// AllowedSet returns the chat allow-list as a set.
func (c *Config) AllowedSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.Telegram.AllowedChatIDs))
	for _, id := range c.Telegram.AllowedChatIDs {
		set[id] = struct{}{}
	}
	return set
}
