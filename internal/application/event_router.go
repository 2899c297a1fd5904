package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/i18n"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/infra/metrics"
	"telegram-channel-access/internal/usecase"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventKind is the kind of an inbound platform event.
type EventKind string

const (
	EventCommand      EventKind = "command"
	EventText         EventKind = "text"
	EventMemberJoined EventKind = "member_joined"
	EventJoinRequest  EventKind = "join_request"
	EventCallback     EventKind = "callback"
)

// Callback payloads carried by inline buttons.
const (
	CallbackHelp  = "help"
	CallbackRetry = "retry"
)

// Event is one inbound update, already stripped of platform types.
type Event struct {
	Kind         EventKind
	ChatID       int64
	UserID       int64
	Username     string
	Command      string // without the leading slash or @bot suffix
	Text         string
	ChannelID    int64
	CallbackData string
}

// Reply is a message the intake loop should send back.
type Reply struct {
	ChatID  int64
	Text    string
	Buttons [][]adapter.InlineButton
}

type Result struct {
	Replies []Reply
}

type HandlerFunc func(ctx context.Context, ev Event) (Result, error)

// EventRouter dispatches inbound events to the code, grant, provisioning and
// status use cases. Handlers return replies instead of sending them so the
// router stays free of transport concerns.
type EventRouter struct {
	codes     usecase.CodeUseCase
	grants    usecase.GrantUseCase
	provision usecase.ProvisionUseCase
	status    usecase.StatusUseCase
	limiter   AttemptLimiter
	tr        *i18n.Translator
	log       *zerolog.Logger

	routes    map[EventKind]HandlerFunc
	commands  map[string]HandlerFunc
	callbacks map[string]HandlerFunc
}

var _ Dispatcher = (*EventRouter)(nil)

// NewEventRouter builds the dispatch table. limiter may be nil.
func NewEventRouter(
	codes usecase.CodeUseCase,
	grants usecase.GrantUseCase,
	provision usecase.ProvisionUseCase,
	status usecase.StatusUseCase,
	limiter AttemptLimiter,
	tr *i18n.Translator,
	logger *zerolog.Logger,
) *EventRouter {
	l := logger.With().Str("component", "EventRouter").Logger()
	r := &EventRouter{
		codes:     codes,
		grants:    grants,
		provision: provision,
		status:    status,
		limiter:   limiter,
		tr:        tr,
		log:       &l,
	}
	r.routes = map[EventKind]HandlerFunc{
		EventCommand:      r.handleCommand,
		EventText:         r.handleText,
		EventMemberJoined: r.handleMemberJoined,
		EventJoinRequest:  r.handleJoinRequest,
		EventCallback:     r.handleCallback,
	}
	r.commands = map[string]HandlerFunc{
		"start":  r.static("start"),
		"help":   r.static("help"),
		"status": r.handleStatus,
	}
	r.callbacks = map[string]HandlerFunc{
		CallbackHelp:  r.static("help"),
		CallbackRetry: r.handleRetry,
	}
	return r
}

// Dispatch routes ev. Handler errors are logged and answered with a generic
// reply when the event came from a chat.
func (r *EventRouter) Dispatch(ctx context.Context, ev Event) (Result, error) {
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	ctx = logging.WithTgID(ctx, ev.UserID)
	ctx = logging.WithEvent(ctx, string(ev.Kind))
	metrics.IncTelegramEvent(string(ev.Kind))

	h, ok := r.routes[ev.Kind]
	if !ok {
		logging.With(ctx, r.log).Debug().Msg("event kind without route ignored")
		return Result{}, nil
	}
	res, err := h(ctx, ev)
	if err != nil {
		logging.With(ctx, r.log).Error().Err(err).Msg("event handling failed")
		if ev.ChatID != 0 {
			res.Replies = append(res.Replies, r.reply(ev.ChatID, "internal_error"))
		}
		return res, err
	}
	return res, nil
}

func (r *EventRouter) handleCommand(ctx context.Context, ev Event) (Result, error) {
	if h, ok := r.commands[strings.ToLower(ev.Command)]; ok {
		return h(ctx, ev)
	}
	return single(r.reply(ev.ChatID, "unknown_command")), nil
}

func (r *EventRouter) handleCallback(ctx context.Context, ev Event) (Result, error) {
	if h, ok := r.callbacks[ev.CallbackData]; ok {
		return h(ctx, ev)
	}
	logging.With(ctx, r.log).Debug().Str("data", ev.CallbackData).Msg("unknown callback ignored")
	return Result{}, nil
}

func (r *EventRouter) static(key string) HandlerFunc {
	return func(ctx context.Context, ev Event) (Result, error) {
		rep := r.reply(ev.ChatID, key)
		if key == "start" {
			rep.Buttons = [][]adapter.InlineButton{{{Text: r.tr.T("button_help"), Data: CallbackHelp}}}
		}
		return single(rep), nil
	}
}

func (r *EventRouter) handleStatus(ctx context.Context, ev Event) (Result, error) {
	st, err := r.status.Status(ctx, ev.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("status: %w", err)
	}
	switch st.Kind {
	case usecase.StatusValidated:
		rep := r.reply(ev.ChatID, "status_validated", st.Plan)
		rep.Buttons = r.retryButtons()
		return single(rep), nil
	case usecase.StatusActive:
		return single(r.reply(ev.ChatID, "status_active", st.Plan, st.DaysRemaining, st.ExpiryDate.Format("2006-01-02"))), nil
	case usecase.StatusExpired:
		return single(r.reply(ev.ChatID, "status_expired", st.Plan, st.ExpiryDate.Format("2006-01-02"))), nil
	default:
		return single(r.reply(ev.ChatID, "status_idle")), nil
	}
}

// handleText treats a 7-digit message as a code submission. Re-sending the
// code behind the user's own pending grant resumes provisioning.
func (r *EventRouter) handleText(ctx context.Context, ev Event) (Result, error) {
	code := strings.TrimSpace(ev.Text)
	if !model.ValidCodeFormat(code) {
		return single(r.reply(ev.ChatID, "invalid_format")), nil
	}
	log := logging.With(ctx, r.log)

	if r.limiter != nil {
		ok, err := r.limiter.AllowCodeAttempt(ctx, ev.UserID)
		if err != nil {
			log.Warn().Err(err).Msg("attempt limiter unavailable; allowing")
		} else if !ok {
			metrics.IncRateLimitTriggered()
			return single(r.reply(ev.ChatID, "too_many_attempts")), nil
		}
	}

	g, err := r.grants.Get(ctx, ev.UserID)
	switch {
	case err == nil && g.Code == code:
		log.Info().Msg("pending grant resubmitted; resuming provisioning")
	case err == nil || errors.Is(err, domain.ErrNoGrant):
		if _, err := r.codes.Redeem(ctx, code, ev.UserID); err != nil {
			if key, ok := validationKey(err); ok {
				return single(r.reply(ev.ChatID, key)), nil
			}
			return Result{}, err
		}
	default:
		return Result{}, err
	}

	return r.runProvision(ctx, ev)
}

func (r *EventRouter) handleRetry(ctx context.Context, ev Event) (Result, error) {
	return r.runProvision(ctx, ev)
}

// runProvision reports failures only; the welcome is sent by the provisioner.
func (r *EventRouter) runProvision(ctx context.Context, ev Event) (Result, error) {
	_, err := r.provision.Provision(ctx, ev.UserID)
	if err == nil {
		return Result{}, nil
	}
	if errors.Is(err, domain.ErrNoGrant) {
		return single(r.reply(ev.ChatID, "no_pending_grant")), nil
	}
	logging.With(ctx, r.log).Warn().Err(err).Msg("provisioning incomplete; grant kept")
	switch domain.KindOf(err) {
	case domain.FailureFatal, domain.FailureConflict, domain.FailureStopped:
		return single(r.reply(ev.ChatID, "provision_unavailable")), nil
	}
	rep := r.reply(ev.ChatID, "provision_retry")
	rep.Buttons = r.retryButtons()
	return single(rep), nil
}

func (r *EventRouter) handleMemberJoined(ctx context.Context, ev Event) (Result, error) {
	out, err := r.provision.HandleMemberJoined(ctx, ev.ChannelID, ev.UserID)
	if errors.Is(err, domain.ErrUnknownChannel) {
		logging.With(ctx, r.log).Debug().Int64("channel_id", ev.ChannelID).Msg("member event for unmanaged chat ignored")
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("member joined: %w", err)
	}
	logging.With(ctx, r.log).Info().Int64("channel_id", ev.ChannelID).Str("outcome", string(out)).Msg("member joined")
	return Result{}, nil
}

func (r *EventRouter) handleJoinRequest(ctx context.Context, ev Event) (Result, error) {
	out, err := r.provision.HandleJoinRequest(ctx, ev.ChannelID, ev.UserID)
	if errors.Is(err, domain.ErrUnknownChannel) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("join request: %w", err)
	}
	logging.With(ctx, r.log).Info().Int64("channel_id", ev.ChannelID).Str("outcome", string(out)).Msg("join request handled")
	return Result{}, nil
}

func (r *EventRouter) reply(chatID int64, key string, args ...interface{}) Reply {
	return Reply{ChatID: chatID, Text: r.tr.T(key, args...)}
}

func (r *EventRouter) retryButtons() [][]adapter.InlineButton {
	return [][]adapter.InlineButton{{{Text: r.tr.T("button_retry"), Data: CallbackRetry}}}
}

func single(rep Reply) Result {
	return Result{Replies: []Reply{rep}}
}

// validationKey maps user-facing code errors to catalogue keys.
func validationKey(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrInvalidCodeFormat):
		return "err_invalid_code_format", true
	case errors.Is(err, domain.ErrCodeNotFound):
		return "err_code_not_found", true
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "err_code_already_used", true
	}
	return "", false
}
