package repository

import (
	"context"
	"time"

	"telegram-channel-access/internal/domain/model"
)

// SubscriptionRepository is the Ledger port for subscriptions. History is kept;
// deactivation flips is_active.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	// FindActiveByUser returns the user's active subscription whose expiry is after now.
	FindActiveByUser(ctx context.Context, tx Tx, userID int64, now time.Time) (*model.Subscription, error)
	// FindLatestByUser returns the most recent subscription regardless of state.
	FindLatestByUser(ctx context.Context, tx Tx, userID int64) (*model.Subscription, error)
	// ListActiveByUser returns every active subscription of the user, expired or not.
	ListActiveByUser(ctx context.Context, tx Tx, userID int64) ([]*model.Subscription, error)
	// ListExpiredActive returns active subscriptions with expiry_date <= now,
	// ordered by (expiry_date, id) and starting after the cursor when one is given.
	ListExpiredActive(ctx context.Context, tx Tx, now time.Time, after *ExpiryCursor, limit int) ([]*model.Subscription, error)
	// Deactivate flips one subscription to inactive. Returns false if it already was.
	Deactivate(ctx context.Context, tx Tx, id string) (bool, error)
	// DeactivateActiveByUser deactivates every active subscription of the user.
	DeactivateActiveByUser(ctx context.Context, tx Tx, userID int64) (int, error)
	// FindExpiring returns active subscriptions expiring within the next withinDays days.
	FindExpiring(ctx context.Context, tx Tx, now time.Time, withinDays int) ([]*model.Subscription, error)
}

// ExpiryCursor is the (expiry_date, id) position of the last row a scan returned.
type ExpiryCursor struct {
	ExpiryDate time.Time
	ID         string
}

// CursorAfter positions a scan past sub.
func CursorAfter(sub *model.Subscription) *ExpiryCursor {
	return &ExpiryCursor{ExpiryDate: sub.ExpiryDate, ID: sub.ID}
}
