package telegram

import (
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"ewsbot/internal/cache"
	"ewsbot/internal/format"
)

// Commands serves the read-only query surface against the cache store.
type Commands struct {
	cache   *cache.Store
	loc     *time.Location
	allowed map[int64]struct{}
	log     zerolog.Logger
}

func NewCommands(store *cache.Store, loc *time.Location, allowed map[int64]struct{}, log zerolog.Logger) *Commands {
	return &Commands{
		cache:   store,
		loc:     loc,
		allowed: allowed,
		log:     log.With().Str("comp", "commands").Logger(),
	}
}

// Register wires /today and /check onto the bot, gated by the allow-list.
func (c *Commands) Register(bot *tele.Bot) {
	bot.Use(c.allowlist)
	bot.Handle("/today", c.handleToday)
	bot.Handle("/check", c.handleCheck)
}

// allowlist drops updates from chats outside the configured set.
// Strangers get no reply at all.
func (c *Commands) allowlist(next tele.HandlerFunc) tele.HandlerFunc {
	return func(tc tele.Context) error {
		chat := tc.Chat()
		if chat == nil {
			return nil
		}
		if _, ok := c.allowed[chat.ID]; !ok {
			c.log.Debug().Int64("chat_id", chat.ID).Msg("ignoring chat outside allow-list")
			return nil
		}
		return next(tc)
	}
}

func (c *Commands) handleToday(tc tele.Context) error {
	return tc.Send(c.TodayText(), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
}

func (c *Commands) handleCheck(tc tele.Context) error {
	return tc.Send(c.CheckText(), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
}

// TodayText renders the current /today output. Also used verbatim by
// the agenda digest.
func (c *Commands) TodayText() string {
	return format.TodayList(c.cache.Appointments(), c.loc, time.Now())
}

// CheckText renders the current /check output.
func (c *Commands) CheckText() string {
	return format.CheckList(c.cache.Mails(), c.loc)
}
