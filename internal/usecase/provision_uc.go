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

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ ProvisionUseCase = (*provisionUC)(nil)

// JoinOutcome is how an inbound membership event was resolved.
type JoinOutcome string

const (
	JoinProvisioned JoinOutcome = "provisioned" // grant holder, membership finalized now
	JoinAccepted    JoinOutcome = "accepted"    // already subscribed to this channel
	JoinRejected    JoinOutcome = "rejected"    // no grant, removed again
	JoinPending     JoinOutcome = "pending"     // join request left for a later code
)

// ProvisionUseCase turns a Grant into channel membership and a Subscription.
type ProvisionUseCase interface {
	// Provision requires a Grant. On transport failure the Grant and the
	// reserved code are kept so the user can retry.
	Provision(ctx context.Context, userID int64) (*model.Subscription, error)
	HandleMemberJoined(ctx context.Context, channelID, userID int64) (JoinOutcome, error)
	HandleJoinRequest(ctx context.Context, channelID, userID int64) (JoinOutcome, error)
	// HandleUnauthorizedJoin bans then unbans userID and sends a rejection notice.
	HandleUnauthorizedJoin(ctx context.Context, channelID, userID int64) error
}

type provisionUC struct {
	codes     repository.AccessCodeRepository
	subs      repository.SubscriptionRepository
	grants    repository.GrantRepository
	tm        repository.TransactionManager
	transport adapter.MessagingTransport
	channels  ChannelMap
	remover   *memberRemover
	notify    *notifier
	log       *zerolog.Logger
}

func NewProvisionUseCase(
	codes repository.AccessCodeRepository,
	subs repository.SubscriptionRepository,
	grants repository.GrantRepository,
	tm repository.TransactionManager,
	transport adapter.MessagingTransport,
	channels ChannelMap,
	tr *i18n.Translator,
	operatorID int64,
	logger *zerolog.Logger,
) *provisionUC {
	l := logger.With().Str("component", "Provisioner").Logger()
	return &provisionUC{
		codes:     codes,
		subs:      subs,
		grants:    grants,
		tm:        tm,
		transport: transport,
		channels:  channels,
		remover:   &memberRemover{transport: transport, log: &l},
		notify:    &notifier{transport: transport, tr: tr, operatorID: operatorID, log: &l},
		log:       &l,
	}
}

func (u *provisionUC) Provision(ctx context.Context, userID int64) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "ProvisionUC.Provision")()
	log := logging.With(ctx, u.log)

	g, err := u.grants.Get(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoGrant
	}
	if err != nil {
		return nil, err
	}
	channelID, err := u.channels.ChannelFor(g.Plan)
	if err != nil {
		return nil, err
	}

	if err := u.transport.ApproveJoin(ctx, channelID, userID); err != nil {
		kind := domain.KindOf(err)
		metrics.IncProvisioning(string(kind))
		logging.Action(log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionApprove, Outcome: string(kind)})
		log.Error().Err(err).Str("code", g.Code).Msg("provisioning failed; grant kept")
		u.notify.operator(ctx, "operator_provision_failed", userID, g.Code, g.Plan, err.Error())
		return nil, fmt.Errorf("approve join: %w", err)
	}
	logging.Action(log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionApprove, Outcome: "ok"})

	if err := u.revokeReplaced(ctx, userID, g.Plan); err != nil {
		metrics.IncProvisioning(string(domain.KindOf(err)))
		log.Error().Err(err).Str("code", g.Code).Msg("removing the replaced plan's membership failed; grant kept")
		u.notify.operator(ctx, "operator_provision_failed", userID, g.Code, g.Plan, err.Error())
		return nil, fmt.Errorf("revoke replaced subscription: %w", err)
	}

	now := time.Now().UTC()
	sub, err := model.NewSubscription(ulid.Make().String(), g, now)
	if err != nil {
		return nil, err
	}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := u.codes.Finalize(ctx, tx, g.Code); err != nil {
			return err
		}
		// a renewal replaces whatever was active before; other channels were left above
		if _, err := u.subs.DeactivateActiveByUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		_, err := u.grants.Delete(ctx, tx, userID, g.Code)
		return err
	})
	if err != nil {
		metrics.IncProvisioning("error")
		log.Error().Err(err).Str("code", g.Code).Msg("finalizing subscription failed; grant kept")
		return nil, fmt.Errorf("finalize subscription: %w", err)
	}
	metrics.IncProvisioning("approved")

	expiry := sub.ExpiryDate.Format("2006-01-02 15:04 MST")
	u.notify.user(ctx, userID, nil, "provision_welcome", sub.Plan, expiry)
	u.notify.operator(ctx, "operator_provisioned", userID, sub.Plan, sub.Code, expiry)
	log.Info().Str("subscription_id", sub.ID).Str("plan", string(sub.Plan)).Time("expiry", sub.ExpiryDate).Msg("subscription provisioned")
	return sub, nil
}

func (u *provisionUC) HandleMemberJoined(ctx context.Context, channelID, userID int64) (JoinOutcome, error) {
	plan, ok := u.channels.PlanFor(channelID)
	if !ok {
		return "", domain.ErrUnknownChannel
	}

	current, err := u.hasCurrentSubscription(ctx, userID, plan)
	if err != nil {
		return "", err
	}
	if current {
		return JoinAccepted, nil
	}

	g, err := u.grants.Get(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if g != nil && g.Plan == plan {
		if _, err := u.Provision(ctx, userID); err != nil {
			return "", err
		}
		return JoinProvisioned, nil
	}

	if err := u.HandleUnauthorizedJoin(ctx, channelID, userID); err != nil {
		return "", err
	}
	return JoinRejected, nil
}

func (u *provisionUC) HandleJoinRequest(ctx context.Context, channelID, userID int64) (JoinOutcome, error) {
	plan, ok := u.channels.PlanFor(channelID)
	if !ok {
		return "", domain.ErrUnknownChannel
	}

	g, err := u.grants.Get(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if g != nil && g.Plan == plan {
		if _, err := u.Provision(ctx, userID); err != nil {
			return "", err
		}
		return JoinProvisioned, nil
	}

	current, err := u.hasCurrentSubscription(ctx, userID, plan)
	if err != nil {
		return "", err
	}
	if current {
		if err := u.transport.ApproveJoin(ctx, channelID, userID); err != nil {
			return "", err
		}
		logging.Action(u.log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionApprove, Outcome: "ok"})
		return JoinAccepted, nil
	}

	u.log.Info().Int64("tg_id", userID).Int64("channel_id", channelID).Msg("join request without grant left pending")
	return JoinPending, nil
}

func (u *provisionUC) HandleUnauthorizedJoin(ctx context.Context, channelID, userID int64) error {
	log := logging.With(ctx, u.log)

	if err := u.transport.Ban(ctx, channelID, userID); err != nil {
		logging.Action(log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionBan, Outcome: string(domain.KindOf(err))})
		return fmt.Errorf("ban: %w", err)
	}
	logging.Action(log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionBan, Outcome: "ok"})

	if err := u.transport.Unban(ctx, channelID, userID); err != nil {
		logging.Action(log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionUnban, Outcome: string(domain.KindOf(err))})
		return fmt.Errorf("unban: %w", err)
	}
	logging.Action(log, model.MembershipAction{UserID: userID, ChannelID: channelID, Kind: model.ActionUnban, Outcome: "ok"})

	u.notify.user(ctx, userID, nil, "unauthorized_join")
	return nil
}

// revokeReplaced removes the user from the channels of active subscriptions
// on another plan. Once deactivated those rows are out of the sweeper's reach,
// so this has to succeed before the new subscription is committed.
func (u *provisionUC) revokeReplaced(ctx context.Context, userID int64, plan model.Plan) error {
	active, err := u.subs.ListActiveByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return err
	}
	for _, prior := range active {
		if prior.Plan == plan {
			continue
		}
		channelID, err := u.channels.ChannelFor(prior.Plan)
		if err != nil {
			return err
		}
		if err := u.remover.remove(ctx, channelID, userID); err != nil {
			return err
		}
		u.log.Info().Str("subscription_id", prior.ID).Str("plan", string(prior.Plan)).Int64("tg_id", userID).Msg("replaced subscription's channel left")
	}
	return nil
}

// hasCurrentSubscription returns lookup errors instead of reading them as "not subscribed".
func (u *provisionUC) hasCurrentSubscription(ctx context.Context, userID int64, plan model.Plan) (bool, error) {
	sub, err := u.subs.FindActiveByUser(ctx, repository.NoTX, userID, time.Now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Plan == plan, nil
}
