package usecase

import (
	"context"
	"time"

	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/domain/ports/repository"
	"telegram-channel-access/internal/infra/i18n"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ReminderUseCase = (*reminderUC)(nil)

const reminderKind = "expiry_reminder"

type ReminderUseCase interface {
	// SendExpiryReminders notifies each user whose subscription expires within
	// withinDays, once per subscription, and returns how many were sent.
	SendExpiryReminders(ctx context.Context) (int, error)
}

type reminderUC struct {
	subs       repository.SubscriptionRepository
	notifLog   repository.NotificationLogRepository
	withinDays int
	notify     *notifier
	log        *zerolog.Logger
}

func NewReminderUseCase(
	subs repository.SubscriptionRepository,
	notifLog repository.NotificationLogRepository,
	transport adapter.MessagingTransport,
	tr *i18n.Translator,
	withinDays int,
	logger *zerolog.Logger,
) *reminderUC {
	if withinDays <= 0 {
		withinDays = 1
	}
	l := logger.With().Str("component", "Reminder").Logger()
	return &reminderUC{
		subs:       subs,
		notifLog:   notifLog,
		withinDays: withinDays,
		notify:     &notifier{transport: transport, tr: tr, log: &l},
		log:        &l,
	}
}

func (u *reminderUC) SendExpiryReminders(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "ReminderUC.SendExpiryReminders")()

	now := time.Now().UTC()
	items, err := u.subs.FindExpiring(ctx, repository.NoTX, now, u.withinDays)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range items {
		// claim first so concurrent runs cannot both send
		claimed, err := u.notifLog.Claim(ctx, repository.NoTX, sub.ID, sub.UserID, reminderKind, u.withinDays)
		if err != nil {
			u.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to record reminder")
			continue
		}
		if !claimed {
			continue
		}
		if u.notify.user(ctx, sub.UserID, nil, "expiry_reminder", sub.Plan, sub.DaysRemaining(now), sub.ExpiryDate.Format("2006-01-02")) {
			sent++
			metrics.IncReminderSent()
		}
	}
	return sent, nil
}
