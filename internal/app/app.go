// Package app assembles the process: configuration, logging, cache,
// provider, the two notifier bots, the agenda scheduler and the
// optional debug server, all run under one supervisor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"ewsbot/internal/agenda"
	"ewsbot/internal/cache"
	"ewsbot/internal/config"
	"ewsbot/internal/debugsrv"
	"ewsbot/internal/format"
	"ewsbot/internal/journal"
	"ewsbot/internal/metrics"
	"ewsbot/internal/notifier"
	"ewsbot/internal/provider"
	"ewsbot/internal/provider/ews"
	"ewsbot/internal/provider/ics"
	"ewsbot/internal/refresh"
	"ewsbot/internal/supervisor"
	"ewsbot/internal/telegram"
	"ewsbot/pkg/logx"
)

type App struct {
	cfg  *config.Config
	log  zerolog.Logger
	logs *logx.Service

	store   *cache.Store
	metrics *metrics.Metrics
	journal journal.Journal

	apptBot *telegram.Gateway
	mailBot *telegram.Gateway

	driver    *refresh.Driver
	apptNotif *notifier.AppointmentNotifier
	mailNotif *notifier.MailNotifier
	agenda    *agenda.Scheduler
	debug     *debugsrv.Server

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})

	a := &App{
		cfg:     cfg,
		log:     log.With().Str("comp", "app").Logger(),
		logs:    logSvc,
		store:   cache.New(),
		metrics: metrics.New(),
	}

	a.journal, err = journal.Open(journal.Config{
		Driver:      cfg.Journal.Driver,
		Path:        cfg.Journal.Path,
		BusyTimeout: cfg.Journal.BusyTimeout.Std(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	a.apptBot, err = telegram.NewGateway("appointments", cfg.Telegram.AppointmentToken,
		cfg.Telegram.PollTimeout.Std(), cfg.Telegram.RatePerSec, log)
	if err != nil {
		return nil, fmt.Errorf("appointment bot: %w", err)
	}
	a.mailBot, err = telegram.NewGateway("mail", cfg.Telegram.MailToken,
		cfg.Telegram.PollTimeout.Std(), cfg.Telegram.RatePerSec, log)
	if err != nil {
		return nil, fmt.Errorf("mail bot: %w", err)
	}

	// Admin-chat log sink goes through the appointment bot. Log lines
	// are plain text, so escape before the HTML send path.
	if cfg.Logging.Telegram.Enabled {
		adminChat := cfg.Telegram.AdminChatID
		bot := a.apptBot
		logSvc.SetTelegramSender(func(ctx context.Context, text string) error {
			return bot.SendHTML(ctx, adminChat, format.Esc(text).String())
		})
	}

	var fetcher provider.Fetcher
	switch cfg.Provider.Kind {
	case "ics":
		fetcher = ics.New(cfg.Provider.ICS, log)
	default:
		fetcher = ews.New(cfg.Provider.EWS, log)
	}

	loc := cfg.Location()
	chats := cfg.Telegram.AllowedChatIDs

	a.driver = refresh.NewDriver(fetcher, a.store, cfg.Intervals.Update.Std(), loc, a.metrics, log)
	a.apptNotif = notifier.NewAppointmentNotifier(a.store, a.apptBot, chats,
		cfg.Intervals.AppointmentNotify.Std(), cfg.Intervals.AppointmentRefresh.Std(),
		loc, a.metrics, a.journal, log)
	a.mailNotif = notifier.NewMailNotifier(a.store, a.mailBot, chats,
		cfg.Intervals.MailRefresh.Std(), loc,
		cfg.Keywords, cfg.MentionText, a.metrics, a.journal, log)

	commands := telegram.NewCommands(a.store, loc, cfg.AllowedSet(), log)
	commands.Register(a.apptBot.Bot())

	if cfg.AgendaTime.Set() {
		digest := func() string {
			return commands.TodayText() + "\n\n" + commands.CheckText()
		}
		a.agenda = agenda.New(a.store, a.apptBot, chats, loc, cfg.AgendaTime,
			digest, a.metrics, a.journal, log)
	}

	a.debug, err = debugsrv.New(cfg.Debug.Addr, a.metrics, a.store, log)
	if err != nil {
		return nil, fmt.Errorf("debug server: %w", err)
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log)

	a.sup.Go("refresh", a.driver.Run)
	a.sup.Go("notify.appointments", a.apptNotif.Run)
	a.sup.Go("notify.mail", a.mailNotif.Run)
	if a.agenda != nil {
		a.sup.Go("agenda", a.agenda.Run)
	} else {
		a.log.Info().Msg("agenda_time not configured, daily digest disabled")
	}
	a.sup.Go("telegram.poll", a.apptBot.StartPolling)

	if a.debug != nil {
		a.debug.Start()
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn().Err(err).Msg("sd_notify failed")
	} else if sent {
		a.log.Debug().Msg("systemd notified: ready")
	}

	a.log.Info().
		Str("provider", a.cfg.Provider.Kind).
		Str("timezone", a.cfg.Timezone).
		Int("allowed_chats", len(a.cfg.Telegram.AllowedChatIDs)).
		Bool("agenda", a.agenda != nil).
		Msg("started")
	return nil
}

func (a *App) Stop(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info().Msg("stopping")

	if a.sup != nil {
		a.sup.Cancel()
	}
	if a.debug != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		a.debug.Stop(stopCtx)
		cancel()
	}
	if a.sup != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.sup.Wait(waitCtx); err != nil {
			a.log.Warn().Err(err).Msg("shutdown wait expired")
		}
		cancel()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("journal close")
		}
	}

	a.log.Info().Msg("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
