package model

import (
	"math"
	"time"

	"telegram-channel-access/internal/domain"
)

// Grant is the transient "code redeemed, membership not yet confirmed" record.
// One per user; a newer redemption overwrites it.
type Grant struct {
	UserID    int64
	Code      string
	Plan      Plan
	CreatedAt time.Time
}

// Subscription is a time-bounded channel membership. Rows are never deleted;
// expiry flips IsActive to false.
type Subscription struct {
	ID         string
	UserID     int64
	Plan       Plan
	Code       string
	StartDate  time.Time
	ExpiryDate time.Time
	IsActive   bool
}

// NewSubscription builds the active subscription that finalizes a grant.
func NewSubscription(id string, g *Grant, now time.Time) (*Subscription, error) {
	if id == "" || g == nil || g.UserID == 0 || !g.Plan.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:         id,
		UserID:     g.UserID,
		Plan:       g.Plan,
		Code:       g.Code,
		StartDate:  now,
		ExpiryDate: now.Add(g.Plan.Duration()),
		IsActive:   true,
	}, nil
}

func (s *Subscription) Expired(now time.Time) bool {
	return !now.Before(s.ExpiryDate)
}

// Current reports whether the subscription grants access at now.
func (s *Subscription) Current(now time.Time) bool {
	return s != nil && s.IsActive && !s.Expired(now)
}

// DaysRemaining rounds partial days up, so a subscription with an hour left reports 1.
func (s *Subscription) DaysRemaining(now time.Time) int {
	left := s.ExpiryDate.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}
