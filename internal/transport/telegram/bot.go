// Package telegram is the bot's only transport: long-polled commands in,
// rate-limited replies out. It holds no state of its own; every command is a
// thin wrapper around the event service.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"eventbot/internal/event"
	logx "eventbot/pkg/logx"
)

type Config struct {
	Token        string
	AdminUserIDs []int64
	PollTimeout  time.Duration
	RatePerSec   int
}

type Bot struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	ev  *event.Service

	admins  map[int64]bool
	limiter *rate.Limiter

	runMu    sync.Mutex
	running  bool
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(cfg Config, ev *event.Service, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	admins := make(map[int64]bool, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		admins[id] = true
	}

	bot := &Bot{
		cfg:     cfg,
		log:     log,
		bot:     b,
		ev:      ev,
		admins:  admins,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	bot.registerHandlers()
	return bot, nil
}

// Start begins long polling and returns immediately. Polling stops when ctx
// is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopped = make(chan struct{})

	go func() {
		defer close(b.stopped)
		b.bot.Start()
	}()
	go func() {
		<-ctx.Done()
		b.stopPolling()
	}()

	b.log.Info("telegram polling started",
		logx.Int("admins", len(b.admins)),
		logx.Duration("poll_timeout", b.cfg.PollTimeout))
}

// stopPolling stops telebot exactly once. A second tele.Bot.Stop after the
// poll loop has exited blocks forever on its confirmation channel, so both
// the ctx watcher and Stop funnel through here. telebot Stop is expected to
// be fast; run it async just in case, callers bound the wait themselves.
func (b *Bot) stopPolling() {
	b.stopOnce.Do(func() {
		go b.bot.Stop()
	})
}

// Stop waits for the poll loop to drain.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	running := b.running
	stopped := b.stopped
	b.running = false
	b.runMu.Unlock()

	if !running {
		return
	}
	b.stopPolling()
	select {
	case <-stopped:
	case <-ctx.Done():
	}
}

func (b *Bot) actor(c tele.Context) event.Actor {
	sender := c.Sender()
	if sender == nil {
		return event.Actor{}
	}
	return event.Actor{
		ID:    sender.ID,
		Name:  sender.Username,
		Admin: b.admins[sender.ID],
	}
}

// reply sends through the shared limiter so a burst of commands cannot trip
// Telegram's flood control.
func (b *Bot) reply(c tele.Context, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.Send(text, tele.ModeHTML)
}

// TeamPromoted announces a waitlist promotion in the configured log chat.
func (b *Bot) TeamPromoted(t event.Team) {
	b.announce(formatPromotion(t))
}

// EventExpired announces that a past event was cleared.
func (b *Bot) EventExpired(name string) {
	b.announce(formatExpiry(name))
}

// announce sends to the log chat set via /setlog. Promotions fire inside
// command handling, so the send runs async and must not block the handler;
// it still goes through the shared limiter.
func (b *Bot) announce(text string) {
	chatID := b.ev.LogChannel()
	if chatID == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := b.bot.Send(&tele.Chat{ID: chatID}, text, tele.ModeHTML); err != nil {
			b.log.Warn("announcement failed",
				logx.Int64("chat", chatID), logx.Err(err))
		}
	}()
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}
