package repository

import "context"

// NotificationLogRepository records one-shot user notifications per subscription.
type NotificationLogRepository interface {
	// Claim records the notification before it is sent. It returns false when
	// another run already claimed the same (subscription, kind, threshold).
	Claim(ctx context.Context, tx Tx, subscriptionID string, userID int64, kind string, thresholdDays int) (bool, error)
	Exists(ctx context.Context, tx Tx, subscriptionID, kind string, thresholdDays int) (bool, error)
}
