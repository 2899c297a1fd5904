package usecase

import (
	"context"
	"errors"
	"time"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/repository"
)

// Compile-time check
var _ StatusUseCase = (*statusUC)(nil)

// StatusKind is the user's position in Idle -> CodeValidated -> Provisioned -> Expired.
type StatusKind string

const (
	StatusIdle      StatusKind = "idle"
	StatusValidated StatusKind = "validated"
	StatusActive    StatusKind = "active"
	StatusExpired   StatusKind = "expired"
)

type StatusReport struct {
	Kind          StatusKind
	Plan          model.Plan
	DaysRemaining int
	ExpiryDate    time.Time
}

type StatusUseCase interface {
	Status(ctx context.Context, userID int64) (*StatusReport, error)
}

type statusUC struct {
	grants repository.GrantRepository
	subs   repository.SubscriptionRepository
}

func NewStatusUseCase(grants repository.GrantRepository, subs repository.SubscriptionRepository) *statusUC {
	return &statusUC{grants: grants, subs: subs}
}

// Status checks a pending grant first, then an active subscription, then history.
func (u *statusUC) Status(ctx context.Context, userID int64) (*StatusReport, error) {
	g, err := u.grants.Get(ctx, repository.NoTX, userID)
	if err == nil {
		return &StatusReport{Kind: StatusValidated, Plan: g.Plan}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	active, err := u.subs.FindActiveByUser(ctx, repository.NoTX, userID, now)
	if err == nil {
		return &StatusReport{
			Kind:          StatusActive,
			Plan:          active.Plan,
			DaysRemaining: active.DaysRemaining(now),
			ExpiryDate:    active.ExpiryDate,
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	latest, err := u.subs.FindLatestByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &StatusReport{Kind: StatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &StatusReport{Kind: StatusExpired, Plan: latest.Plan, ExpiryDate: latest.ExpiryDate}, nil
}
