package sched

import (
	"context"
	"errors"
	"time"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/usecase"

	"github.com/rs/zerolog"
)

// sweepLockKey guards the sweep across replicas.
const sweepLockKey = "lock:expiry-sweep"

// Locker is the distributed lock the sweep takes per run. Nil disables locking.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// ExpiryWorker runs the expiry sweep shortly after start and then on every tick.
type ExpiryWorker struct {
	interval     time.Duration
	startupDelay time.Duration
	lockTTL      time.Duration
	expiryUC     usecase.ExpiryUseCase
	locker       Locker
	log          *zerolog.Logger
}

func NewExpiryWorker(interval, startupDelay, lockTTL time.Duration, expiryUC usecase.ExpiryUseCase, locker Locker, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &ExpiryWorker{
		interval:     interval,
		startupDelay: startupDelay,
		lockTTL:      lockTTL,
		expiryUC:     expiryUC,
		locker:       locker,
		log:          &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("startup_delay", w.startupDelay).Msg("Starting expiry worker")

	if w.startupDelay > 0 {
		t := time.NewTimer(w.startupDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep, skipping it when another replica holds the lock.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			w.log.Debug().Msg("sweep lock held elsewhere; skipping run")
			return
		}
		if err != nil {
			// deactivation stays conditional, so an unlocked sweep is still safe
			w.log.Warn().Err(err).Msg("sweep lock unavailable; sweeping without it")
		} else {
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("sweep unlock failed")
				}
			}()
		}
	}

	report, err := w.expiryUC.SweepExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry sweep error")
	}
	if report.Scanned > 0 {
		w.log.Info().
			Int("scanned", report.Scanned).
			Int("revoked", report.Revoked).
			Int("superseded", report.Superseded).
			Int("failed", report.Failed).
			Msg("expiry sweep finished")
	}
}
