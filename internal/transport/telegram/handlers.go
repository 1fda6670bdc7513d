package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"eventbot/internal/event"
	logx "eventbot/pkg/logx"
)

const helpText = `<b>Commands</b>
/event - show the current event
/register &lt;size&gt; &lt;team name&gt; - sign a team up
/unregister - remove your team
/resize &lt;size&gt; - change your team's size
/team - show your team
/waitlist - show the waitlist

<b>Organizer commands</b>
/event_create &lt;DD.MM.YYYY&gt; &lt;HH:MM&gt; &lt;slots&gt; &lt;team_size&gt; &lt;name&gt;
/event_delete - delete the event and all registrations
/event_open, /event_close - toggle registration
/setlog - announce in this chat`

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.cmdHelp)
	b.bot.Handle("/help", b.cmdHelp)

	b.bot.Handle("/event", b.cmdEvent)
	b.bot.Handle("/register", b.cmdRegister)
	b.bot.Handle("/unregister", b.cmdUnregister)
	b.bot.Handle("/resize", b.cmdResize)
	b.bot.Handle("/team", b.cmdTeam)
	b.bot.Handle("/waitlist", b.cmdWaitlist)

	b.bot.Handle("/event_create", b.adminOnly(b.cmdEventCreate))
	b.bot.Handle("/event_delete", b.adminOnly(b.cmdEventDelete))
	b.bot.Handle("/event_open", b.adminOnly(b.cmdEventOpen))
	b.bot.Handle("/event_close", b.adminOnly(b.cmdEventClose))
	b.bot.Handle("/setlog", b.adminOnly(b.cmdSetLog))
}

func (b *Bot) adminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if !b.actor(c).Admin {
			return b.reply(c, "This command is for organizers.")
		}
		return h(c)
	}
}

func (b *Bot) cmdHelp(c tele.Context) error {
	return b.reply(c, helpText)
}

func (b *Bot) cmdEvent(c tele.Context) error {
	ev, ok := b.ev.Current()
	if !ok {
		return b.reply(c, "No active event.")
	}
	return b.reply(c, formatEvent(&ev))
}

func (b *Bot) cmdEventCreate(c tele.Context) error {
	args := c.Args()
	if len(args) < 5 {
		return b.reply(c, "Usage: /event_create <DD.MM.YYYY> <HH:MM> <slots> <team_size> <name>")
	}
	date, timeOfDay := args[0], args[1]
	slots, ok1 := parseInt(args[2])
	teamSize, ok2 := parseInt(args[3])
	name := strings.Join(args[4:], " ")
	if !ok1 || !ok2 {
		return b.reply(c, "Slots and team size must be numbers.")
	}

	err := b.ev.Create(context.Background(), b.actor(c), name, date, timeOfDay, "", slots, teamSize)
	if err != nil {
		return b.replyErr(c, err)
	}
	b.log.Info("event created", logx.String("event", name), logx.Int("slots", slots))
	return b.reply(c, fmt.Sprintf("Event <b>%s</b> created: %s %s, %d slots, teams up to %d.",
		escape(name), date, timeOfDay, slots, teamSize))
}

func (b *Bot) cmdEventDelete(c tele.Context) error {
	if err := b.ev.Delete(context.Background(), b.actor(c)); err != nil {
		return b.replyErr(c, err)
	}
	return b.reply(c, "Event deleted. All registrations cleared.")
}

func (b *Bot) cmdEventOpen(c tele.Context) error {
	if err := b.ev.SetOpen(context.Background(), b.actor(c), true); err != nil {
		return b.replyErr(c, err)
	}
	return b.reply(c, "Registration is open.")
}

func (b *Bot) cmdEventClose(c tele.Context) error {
	if err := b.ev.SetOpen(context.Background(), b.actor(c), false); err != nil {
		return b.replyErr(c, err)
	}
	return b.reply(c, "Registration is closed.")
}

func (b *Bot) cmdRegister(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return b.reply(c, "Usage: /register <size> <team name>")
	}
	size, ok := parseInt(args[0])
	if !ok {
		return b.reply(c, "Team size must be a number.")
	}
	team := strings.Join(args[1:], " ")

	placement, err := b.ev.Register(context.Background(), b.actor(c), team, size)
	if err != nil {
		return b.replyErr(c, err)
	}
	b.log.Debug("register handled",
		logx.String("team", team), logx.Int("size", size),
		logx.String("placement", placement.String()))
	if placement == event.PlacedWaitlist {
		return b.reply(c, fmt.Sprintf("Team <b>%s</b> (%d) is on the waitlist: not enough free slots right now.",
			escape(team), size))
	}
	return b.reply(c, fmt.Sprintf("Team <b>%s</b> (%d) is registered.", escape(team), size))
}

func (b *Bot) cmdUnregister(c tele.Context) error {
	team := strings.Join(c.Args(), " ")
	if err := b.ev.Unregister(context.Background(), b.actor(c), team); err != nil {
		return b.replyErr(c, err)
	}
	return b.reply(c, "Team removed. Freed slots go to the waitlist.")
}

func (b *Bot) cmdResize(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return b.reply(c, "Usage: /resize <size> [team]")
	}
	size, ok := parseInt(args[0])
	if !ok {
		return b.reply(c, "Team size must be a number.")
	}
	team := strings.Join(args[1:], " ")

	if err := b.ev.Resize(context.Background(), b.actor(c), team, size); err != nil {
		return b.replyErr(c, err)
	}
	return b.reply(c, fmt.Sprintf("Team size is now %d.", size))
}

func (b *Bot) cmdTeam(c tele.Context) error {
	name, ok := b.ev.AssignedTeam(b.actor(c).ID)
	if !ok {
		return b.reply(c, "You have no team. Use /register <size> <team name>.")
	}
	ev, evOK := b.ev.Current()
	if !evOK {
		return b.reply(c, "No active event.")
	}
	return b.reply(c, formatTeam(&ev, name))
}

func (b *Bot) cmdWaitlist(c tele.Context) error {
	ev, ok := b.ev.Current()
	if !ok {
		return b.reply(c, "No active event.")
	}
	return b.reply(c, formatWaitlist(&ev))
}

func (b *Bot) cmdSetLog(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	if err := b.ev.SetLogChannel(chat.ID); err != nil {
		return b.replyErr(c, err)
	}
	return b.reply(c, "Announcements go to this chat now.")
}

// replyErr maps domain errors to user-facing text; anything unexpected is
// logged and answered generically.
func (b *Bot) replyErr(c tele.Context, err error) error {
	switch {
	case errors.Is(err, event.ErrNoEvent):
		return b.reply(c, "No active event.")
	case errors.Is(err, event.ErrEventExists):
		return b.reply(c, "An event already exists. /event_delete it first.")
	case errors.Is(err, event.ErrEventClosed):
		return b.reply(c, "Registration is closed.")
	case errors.Is(err, event.ErrTeamExists):
		return b.reply(c, "That team name is already taken.")
	case errors.Is(err, event.ErrTeamNotFound):
		return b.reply(c, "No such team.")
	case errors.Is(err, event.ErrAlreadyAssigned):
		return b.reply(c, "You already belong to a team. /unregister first.")
	case errors.Is(err, event.ErrNotAssigned):
		return b.reply(c, "You have no team to manage.")
	case errors.Is(err, event.ErrBadTeamSize):
		return b.reply(c, "That team size is not allowed: "+escape(err.Error()))
	case errors.Is(err, event.ErrEventFull):
		return b.reply(c, "Not enough free slots: "+escape(err.Error()))
	default:
		b.log.Error("command failed", logx.Err(err))
		return b.reply(c, "Something went wrong; the state was not changed.")
	}
}
