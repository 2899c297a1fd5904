package application

import (
	"context"
)

// ---- small interfaces to decouple the router from infra ----

// AttemptLimiter throttles code submissions per user. A nil limiter disables the check.
type AttemptLimiter interface {
	AllowCodeAttempt(ctx context.Context, userID int64) (bool, error)
}

// Dispatcher is what the intake loop needs from the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) (Result, error)
}
