package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/domain/ports/repository"
	"telegram-channel-access/internal/infra/i18n"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ExpiryUseCase = (*expiryUC)(nil)

// SweepReport summarises one sweep run.
type SweepReport struct {
	Scanned    int
	Revoked    int // removed from the channel and deactivated
	Superseded int // deactivated silently because a newer subscription is active
	Failed     int
}

// ExpiryUseCase revokes membership for subscriptions whose expiry has passed.
type ExpiryUseCase interface {
	SweepExpired(ctx context.Context) (SweepReport, error)
}

type expiryUC struct {
	subs      repository.SubscriptionRepository
	transport adapter.MessagingTransport
	channels  ChannelMap
	batchSize int
	remover   *memberRemover
	notify    *notifier
	log       *zerolog.Logger
}

func NewExpiryUseCase(
	subs repository.SubscriptionRepository,
	transport adapter.MessagingTransport,
	channels ChannelMap,
	batchSize int,
	tr *i18n.Translator,
	operatorID int64,
	logger *zerolog.Logger,
) *expiryUC {
	if batchSize <= 0 {
		batchSize = 200
	}
	l := logger.With().Str("component", "ExpirySweeper").Logger()
	return &expiryUC{
		subs:      subs,
		transport: transport,
		channels:  channels,
		batchSize: batchSize,
		remover:   &memberRemover{transport: transport, log: &l},
		notify:    &notifier{transport: transport, tr: tr, operatorID: operatorID, log: &l},
		log:       &l,
	}
}

// SweepExpired processes each expired subscription on its own; one failure is
// logged and counted and the rest continues. Pages move past failed rows, so a
// run of failures never hides later expiries. Only the caller that wins the
// deactivate sends notices, so a repeated sweep notifies nobody twice.
func (u *expiryUC) SweepExpired(ctx context.Context) (SweepReport, error) {
	defer logging.TraceDuration(u.log, "ExpiryUC.SweepExpired")()

	var report SweepReport
	now := time.Now().UTC()
	var after *repository.ExpiryCursor
	for {
		expired, err := u.subs.ListExpiredActive(ctx, repository.NoTX, now, after, u.batchSize)
		if err != nil {
			return report, fmt.Errorf("list expired subscriptions: %w", err)
		}
		report.Scanned += len(expired)

		for _, sub := range expired {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			outcome, err := u.expireOne(ctx, sub, now)
			if err != nil {
				report.Failed++
				metrics.IncSweepFailure()
				u.log.Error().Err(err).Str("subscription_id", sub.ID).Int64("tg_id", sub.UserID).Msg("sweep: subscription skipped")
				continue
			}
			switch outcome {
			case sweepRevoked:
				report.Revoked++
			case sweepSuperseded:
				report.Superseded++
			}
		}
		if len(expired) < u.batchSize {
			break
		}
		after = repository.CursorAfter(expired[len(expired)-1])
	}
	metrics.IncSubscriptionsExpired(report.Revoked + report.Superseded)
	return report, nil
}

type sweepOutcome int

const (
	sweepNoop sweepOutcome = iota
	sweepRevoked
	sweepSuperseded
)

func (u *expiryUC) expireOne(ctx context.Context, sub *model.Subscription, now time.Time) (sweepOutcome, error) {
	// A renewal may have landed after the listing; never remove a user who
	// holds a newer active subscription for the same channel.
	current, err := u.currentOther(ctx, sub, now)
	if err != nil {
		return sweepNoop, err
	}
	if current != nil && current.Plan == sub.Plan {
		won, err := u.subs.Deactivate(ctx, repository.NoTX, sub.ID)
		if err != nil || !won {
			return sweepNoop, err
		}
		return sweepSuperseded, nil
	}

	channelID, err := u.channels.ChannelFor(sub.Plan)
	if err != nil {
		return sweepNoop, err
	}
	if err := u.remover.remove(ctx, channelID, sub.UserID); err != nil {
		return sweepNoop, err
	}

	won, err := u.subs.Deactivate(ctx, repository.NoTX, sub.ID)
	if err != nil {
		return sweepNoop, err
	}
	if !won {
		return u.restoreRenewed(ctx, sub, channelID, now)
	}

	u.notify.user(ctx, sub.UserID, nil, "expiry_notice", sub.Plan)
	u.notify.operator(ctx, "operator_expired", sub.ID, sub.UserID, sub.Plan)
	u.log.Info().Str("subscription_id", sub.ID).Int64("tg_id", sub.UserID).Msg("subscription expired")
	return sweepRevoked, nil
}

// currentOther returns the user's current subscription when it is not sub.
func (u *expiryUC) currentOther(ctx context.Context, sub *model.Subscription, now time.Time) (*model.Subscription, error) {
	current, err := u.subs.FindActiveByUser(ctx, repository.NoTX, sub.UserID, now)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if current.ID == sub.ID {
		return nil, nil
	}
	return current, nil
}

// restoreRenewed runs after losing the deactivate. When the winner was a
// same-plan renewal that committed while the member was being removed, the
// user is let back in.
func (u *expiryUC) restoreRenewed(ctx context.Context, sub *model.Subscription, channelID int64, now time.Time) (sweepOutcome, error) {
	current, err := u.currentOther(ctx, sub, now)
	if err != nil {
		return sweepNoop, err
	}
	if current == nil || current.Plan != sub.Plan {
		return sweepNoop, nil
	}

	if err := u.transport.ApproveJoin(ctx, channelID, sub.UserID); err != nil {
		logging.Action(u.log, model.MembershipAction{UserID: sub.UserID, ChannelID: channelID, Kind: model.ActionApprove, Outcome: string(domain.KindOf(err))})
		return sweepNoop, fmt.Errorf("restore renewed member: %w", err)
	}
	logging.Action(u.log, model.MembershipAction{UserID: sub.UserID, ChannelID: channelID, Kind: model.ActionApprove, Outcome: "ok"})
	u.log.Warn().Str("subscription_id", sub.ID).Str("renewed_by", current.ID).Int64("tg_id", sub.UserID).Msg("renewal raced the sweep; access restored")
	return sweepSuperseded, nil
}
