package telegram

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
)

var _ adapter.MessagingTransport = (*NoopTransport)(nil)

// NoopTransport implements adapter.MessagingTransport for local/dev runs.
// It logs calls instead of reaching the platform and reports every user as a member.
type NoopTransport struct {
	log *zerolog.Logger
}

func NewNoopTransport(logger *zerolog.Logger) *NoopTransport {
	l := logger.With().Str("component", "NoopTransport").Logger()
	return &NoopTransport{log: &l}
}

// pause simulates slight processing time and respects ctx.
func pause(ctx context.Context) error {
	select {
	case <-time.After(50 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *NoopTransport) SendMessage(ctx context.Context, chatID int64, text string, opts *adapter.SendOptions) error {
	if err := pause(ctx); err != nil {
		return err
	}
	ev := b.log.Info().Int64("chat_id", chatID).Str("text", text)
	if opts != nil && len(opts.Buttons) > 0 {
		ev = ev.Interface("buttons", opts.Buttons)
	}
	ev.Msg("[noop] sendMessage")
	return nil
}

func (b *NoopTransport) ApproveJoin(ctx context.Context, channelID, userID int64) error {
	b.log.Info().Int64("channel_id", channelID).Int64("tg_id", userID).Msg("[noop] approveJoin")
	return pause(ctx)
}

func (b *NoopTransport) Ban(ctx context.Context, channelID, userID int64) error {
	b.log.Info().Int64("channel_id", channelID).Int64("tg_id", userID).Msg("[noop] ban")
	return pause(ctx)
}

func (b *NoopTransport) Unban(ctx context.Context, channelID, userID int64) error {
	b.log.Info().Int64("channel_id", channelID).Int64("tg_id", userID).Msg("[noop] unban")
	return pause(ctx)
}

func (b *NoopTransport) GetMembershipStatus(ctx context.Context, channelID, userID int64) (model.MemberStatus, error) {
	return model.MemberStatusMember, pause(ctx)
}
