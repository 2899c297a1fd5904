package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-channel-access/internal/application"
	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/worker"
)

var allowedUpdates = []string{"message", "callback_query", "chat_member", "chat_join_request"}

// UpdateSource is the long-poll side of the Bot API.
type UpdateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// CallbackAnswerer acknowledges callback queries.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Stopper is told when polling hits a terminal failure.
type Stopper interface {
	Stop(err error)
}

// Poller long-polls updates, turns them into application events and runs each
// on the worker pool keyed by conversation, so one user's events stay ordered.
type Poller struct {
	source     UpdateSource
	router     application.Dispatcher
	transport  adapter.MessagingTransport
	answerer   CallbackAnswerer
	pool       *worker.Pool
	stopper    Stopper
	timeout    int
	retryDelay time.Duration
	log        *zerolog.Logger
}

func NewPoller(
	source UpdateSource,
	router application.Dispatcher,
	transport adapter.MessagingTransport,
	answerer CallbackAnswerer,
	pool *worker.Pool,
	stopper Stopper,
	pollTimeout int,
	retryDelay time.Duration,
	logger *zerolog.Logger,
) *Poller {
	l := logger.With().Str("component", "Poller").Logger()
	return &Poller{
		source:     source,
		router:     router,
		transport:  transport,
		answerer:   answerer,
		pool:       pool,
		stopper:    stopper,
		timeout:    pollTimeout,
		retryDelay: retryDelay,
		log:        &l,
	}
}

// Run polls until ctx is done or the platform reports a terminal failure.
// A conflict (another instance polling the same bot) or a rejected token
// stops the transport and ends Run with that error.
func (p *Poller) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.timeout
	cfg.AllowedUpdates = allowedUpdates

	p.log.Info().Int("timeout", p.timeout).Msg("polling started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.source.GetUpdates(cfg)
		if err != nil {
			terr := classify("getUpdates", err)
			switch domain.KindOf(terr) {
			case domain.FailureConflict, domain.FailureFatal:
				if p.stopper != nil {
					p.stopper.Stop(terr)
				}
				return terr
			}
			p.log.Warn().Err(terr).Dur("wait", p.retryDelay).Msg("getUpdates failed; retrying")
			if !sleepCtx(ctx, p.retryDelay) {
				return nil
			}
			continue
		}
		for _, up := range updates {
			if up.UpdateID >= cfg.Offset {
				cfg.Offset = up.UpdateID + 1
			}
			p.handle(ctx, up)
		}
	}
}

func (p *Poller) handle(ctx context.Context, up tgbotapi.Update) {
	if up.CallbackQuery != nil && p.answerer != nil {
		id := up.CallbackQuery.ID
		defer func() {
			if err := p.answerer.AnswerCallback(ctx, id); err != nil {
				p.log.Debug().Err(err).Msg("answer callback failed")
			}
		}()
	}
	for _, ev := range ToEvents(up) {
		ev := ev
		key := ev.UserID
		if ev.ChatID != 0 {
			key = ev.ChatID
		}
		if err := p.pool.Submit(key, func(ctx context.Context) error {
			return p.process(ctx, ev)
		}); err != nil {
			p.log.Error().Err(err).Str("event", string(ev.Kind)).Int64("tg_id", ev.UserID).Msg("event dropped")
		}
	}
}

// process dispatches ev and delivers the replies it produced.
func (p *Poller) process(ctx context.Context, ev application.Event) error {
	res, err := p.router.Dispatch(ctx, ev)
	for _, rep := range res.Replies {
		var opts *adapter.SendOptions
		if len(rep.Buttons) > 0 {
			opts = &adapter.SendOptions{Buttons: rep.Buttons}
		}
		if serr := p.transport.SendMessage(ctx, rep.ChatID, rep.Text, opts); serr != nil {
			p.log.Warn().Err(serr).Int64("chat_id", rep.ChatID).Msg("reply not delivered")
		}
	}
	return err
}

// ToEvents converts one update into zero or more application events.
// Text and commands are only accepted from private chats.
func ToEvents(up tgbotapi.Update) []application.Event {
	switch {
	case up.CallbackQuery != nil:
		q := up.CallbackQuery
		if q.From == nil {
			return nil
		}
		chatID := q.From.ID
		if q.Message != nil && q.Message.Chat != nil {
			chatID = q.Message.Chat.ID
		}
		return []application.Event{{
			Kind:         application.EventCallback,
			ChatID:       chatID,
			UserID:       q.From.ID,
			Username:     q.From.UserName,
			CallbackData: q.Data,
		}}

	case up.ChatJoinRequest != nil:
		r := up.ChatJoinRequest
		return []application.Event{{
			Kind:      application.EventJoinRequest,
			UserID:    r.From.ID,
			Username:  r.From.UserName,
			ChannelID: r.Chat.ID,
		}}

	case up.ChatMember != nil:
		m := up.ChatMember
		u := m.NewChatMember.User
		if u == nil || u.IsBot {
			return nil
		}
		joined := model.MemberStatus(m.NewChatMember.Status).IsPresent() &&
			!model.MemberStatus(m.OldChatMember.Status).IsPresent()
		if !joined {
			return nil
		}
		return []application.Event{{
			Kind:      application.EventMemberJoined,
			UserID:    u.ID,
			Username:  u.UserName,
			ChannelID: m.Chat.ID,
		}}

	case up.Message != nil:
		return messageEvents(up.Message)
	}
	return nil
}

func messageEvents(msg *tgbotapi.Message) []application.Event {
	if msg.Chat == nil {
		return nil
	}
	if len(msg.NewChatMembers) > 0 {
		out := make([]application.Event, 0, len(msg.NewChatMembers))
		for _, u := range msg.NewChatMembers {
			if u.IsBot {
				continue
			}
			out = append(out, application.Event{
				Kind:      application.EventMemberJoined,
				UserID:    u.ID,
				Username:  u.UserName,
				ChannelID: msg.Chat.ID,
			})
		}
		return out
	}
	if msg.From == nil || !msg.Chat.IsPrivate() {
		return nil
	}
	ev := application.Event{ChatID: msg.Chat.ID, UserID: msg.From.ID, Username: msg.From.UserName}
	if msg.IsCommand() {
		ev.Kind = application.EventCommand
		ev.Command = msg.Command()
		return []application.Event{ev}
	}
	if msg.Text == "" {
		return nil
	}
	ev.Kind = application.EventText
	ev.Text = msg.Text
	return []application.Event{ev}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
