package model

import (
	"time"

	"telegram-channel-access/internal/domain"
)

// CodeLength is the number of digits in an access code.
const CodeLength = 7

// CodeState moves strictly forward: unused -> reserved -> used.
type CodeState string

const (
	CodeStateUnused   CodeState = "unused"
	CodeStateReserved CodeState = "reserved"
	CodeStateUsed     CodeState = "used"
)

// AccessCode is a one-time credential issued after payment.
type AccessCode struct {
	Code       string
	Plan       Plan // written at issue time; DeterminePlan(Code) wins on redeem
	State      CodeState
	RedeemedBy *int64     // nil until reserved
	IssuedAt   time.Time
	RedeemedAt *time.Time // reservation time
	UsedAt     *time.Time // finalization time
}

// NewAccessCode validates the code/plan pair and returns an unused code.
func NewAccessCode(code string, plan Plan, now time.Time) (*AccessCode, error) {
	derived, err := DeterminePlan(code)
	if err != nil {
		return nil, err
	}
	if derived != plan {
		return nil, domain.ErrInvalidArgument
	}
	return &AccessCode{
		Code:     code,
		Plan:     plan,
		State:    CodeStateUnused,
		IssuedAt: now,
	}, nil
}

// ValidCodeFormat reports whether s is exactly seven ASCII digits.
func ValidCodeFormat(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (c *AccessCode) IsRedeemable() bool { return c != nil && c.State == CodeStateUnused }
