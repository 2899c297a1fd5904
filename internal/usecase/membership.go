package usecase

import (
	"context"
	"errors"
	"fmt"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/logging"

	"github.com/rs/zerolog"
)

// memberRemover takes a user out of a channel without leaving them banned.
type memberRemover struct {
	transport adapter.MessagingTransport
	log       *zerolog.Logger
}

// remove bans then unbans a present member. An absent user counts as
// success; a user left banned by an earlier half-finished run is unbanned.
func (m *memberRemover) remove(ctx context.Context, channelID, userID int64) error {
	status, err := m.transport.GetMembershipStatus(ctx, channelID, userID)
	if err != nil {
		// the platform answers "user not found" for users it no longer tracks
		if errors.Is(err, domain.ErrTransportRejected) {
			return nil
		}
		return fmt.Errorf("membership status: %w", err)
	}

	switch status {
	case model.MemberStatusCreator, model.MemberStatusAdministrator:
		m.log.Warn().Int64("tg_id", userID).Int64("channel_id", channelID).Msg("user is a channel admin; not removed")
		return nil
	case model.MemberStatusKicked:
		return m.unban(ctx, channelID, userID)
	}
	if !status.IsPresent() {
		return nil
	}

	if err := m.transport.Ban(ctx, channelID, userID); err != nil {
		logging.Action(m.log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionBan, Outcome: string(domain.KindOf(err))})
		return fmt.Errorf("ban: %w", err)
	}
	logging.Action(m.log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionBan, Outcome: "ok"})
	return m.unban(ctx, channelID, userID)
}

func (m *memberRemover) unban(ctx context.Context, channelID, userID int64) error {
	if err := m.transport.Unban(ctx, channelID, userID); err != nil {
		logging.Action(m.log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionUnban, Outcome: string(domain.KindOf(err))})
		return fmt.Errorf("unban: %w", err)
	}
	logging.Action(m.log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionUnban, Outcome: "ok"})
	return nil
}
