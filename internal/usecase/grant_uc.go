package usecase

import (
	"context"
	"errors"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/repository"
)

// Compile-time check
var _ GrantUseCase = (*grantUC)(nil)

// GrantUseCase is the accessor over persisted pending grants.
type GrantUseCase interface {
	// Get returns domain.ErrNoGrant when the user holds none.
	Get(ctx context.Context, userID int64) (*model.Grant, error)
	Clear(ctx context.Context, userID int64) error
	PendingCount(ctx context.Context) (int, error)
}

type grantUC struct {
	grants repository.GrantRepository
}

func NewGrantUseCase(grants repository.GrantRepository) *grantUC {
	return &grantUC{grants: grants}
}

func (u *grantUC) Get(ctx context.Context, userID int64) (*model.Grant, error) {
	g, err := u.grants.Get(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoGrant
	}
	return g, err
}

func (u *grantUC) Clear(ctx context.Context, userID int64) error {
	g, err := u.Get(ctx, userID)
	if errors.Is(err, domain.ErrNoGrant) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = u.grants.Delete(ctx, repository.NoTX, userID, g.Code)
	return err
}

func (u *grantUC) PendingCount(ctx context.Context) (int, error) {
	return u.grants.Count(ctx, repository.NoTX)
}
