package repository

import (
	"context"

	"telegram-channel-access/internal/domain/model"
)

// GrantRepository persists the per-user pending grant.
type GrantRepository interface {
	// Put creates or replaces the user's grant.
	Put(ctx context.Context, tx Tx, g *model.Grant) error
	// Get returns domain.ErrNotFound when the user holds no grant.
	Get(ctx context.Context, tx Tx, userID int64) (*model.Grant, error)
	// Delete removes the grant only if it still refers to code, so a newer
	// redemption is never cleared by a stale provisioning run.
	Delete(ctx context.Context, tx Tx, userID int64, code string) (bool, error)
	Count(ctx context.Context, tx Tx) (int, error)
}
