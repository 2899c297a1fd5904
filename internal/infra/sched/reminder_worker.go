package sched

import (
	"context"
	"time"

	"telegram-channel-access/internal/usecase"

	"github.com/rs/zerolog"
)

// ReminderWorker sends expiry reminders once on start and then on every tick.
type ReminderWorker struct {
	interval   time.Duration
	reminderUC usecase.ReminderUseCase
	log        *zerolog.Logger
}

func NewReminderWorker(interval time.Duration, reminderUC usecase.ReminderUseCase, logger *zerolog.Logger) *ReminderWorker {
	compLog := logger.With().Str("component", "ReminderWorker").Logger()
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReminderWorker{
		interval:   interval,
		reminderUC: reminderUC,
		log:        &compLog,
	}
}

func (w *ReminderWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting reminder worker")
	w.runCheck(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reminder worker")
			return ctx.Err()
		case <-ticker.C:
			w.runCheck(ctx)
		}
	}
}

func (w *ReminderWorker) runCheck(ctx context.Context) {
	sent, err := w.reminderUC.SendExpiryReminders(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("reminder check failed")
	}
	if sent > 0 {
		w.log.Info().Int("count", sent).Msg("expiry reminders sent")
	}
}
