package usecase

import (
	"context"

	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/i18n"

	"github.com/rs/zerolog"
)

// notifier sends translated messages to users and to the operator account.
// Delivery failures are logged, never returned.
type notifier struct {
	transport  adapter.MessagingTransport
	tr         *i18n.Translator
	operatorID int64
	log        *zerolog.Logger
}

func (n *notifier) user(ctx context.Context, userID int64, opts *adapter.SendOptions, key string, args ...interface{}) bool {
	if err := n.transport.SendMessage(ctx, userID, n.tr.T(key, args...), opts); err != nil {
		n.log.Warn().Err(err).Int64("tg_id", userID).Str("message", key).Msg("user notification failed")
		return false
	}
	return true
}

func (n *notifier) operator(ctx context.Context, key string, args ...interface{}) {
	if n.operatorID == 0 {
		return
	}
	if err := n.transport.SendMessage(ctx, n.operatorID, n.tr.T(key, args...), nil); err != nil {
		n.log.Error().Err(err).Str("message", key).Msg("operator notification failed")
	}
}
