package model

import (
	"strings"
	"time"

	"telegram-channel-access/internal/domain"
)

// Plan is the subscription tier encoded in an access code's leading digit.
type Plan string

const (
	PlanDaily   Plan = "daily"
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// Plans lists every plan in display order.
var Plans = []Plan{PlanDaily, PlanMonthly, PlanYearly}

// ParsePlan accepts the plan name case-insensitively.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", domain.ErrInvalidArgument
	}
	return p, nil
}

func (p Plan) Valid() bool {
	switch p {
	case PlanDaily, PlanMonthly, PlanYearly:
		return true
	}
	return false
}

// Duration is how long a subscription for this plan stays active.
func (p Plan) Duration() time.Duration {
	switch p {
	case PlanDaily:
		return 24 * time.Hour
	case PlanMonthly:
		return 30 * 24 * time.Hour
	case PlanYearly:
		return 365 * 24 * time.Hour
	}
	return 0
}

// DigitRange returns the inclusive range of leading digits that map to p.
func (p Plan) DigitRange() (lo, hi byte) {
	switch p {
	case PlanDaily:
		return '0', '3'
	case PlanMonthly:
		return '4', '6'
	case PlanYearly:
		return '7', '9'
	}
	return 0, 0
}

// PlanForDigit maps a leading digit to its plan: 0-3 daily, 4-6 monthly, 7-9 yearly.
func PlanForDigit(d byte) (Plan, bool) {
	switch {
	case d >= '0' && d <= '3':
		return PlanDaily, true
	case d >= '4' && d <= '6':
		return PlanMonthly, true
	case d >= '7' && d <= '9':
		return PlanYearly, true
	}
	return "", false
}

// DeterminePlan derives the plan from a well-formed code. The leading digit is
// authoritative; any plan stored next to the code is informational only.
func DeterminePlan(code string) (Plan, error) {
	if !ValidCodeFormat(code) {
		return "", domain.ErrInvalidCodeFormat
	}
	p, _ := PlanForDigit(code[0])
	return p, nil
}
