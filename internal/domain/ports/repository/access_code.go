package repository

import (
	"context"

	"telegram-channel-access/internal/domain/model"
)

// AccessCodeRepository is the Ledger port for access codes. Every state change
// is a conditional update so concurrent callers cannot both win.
type AccessCodeRepository interface {
	// Insert stores a new unused code. Returns domain.ErrAlreadyExists on collision.
	Insert(ctx context.Context, tx Tx, code *model.AccessCode) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.AccessCode, error)
	// Reserve moves unused -> reserved for userID. Fails with domain.ErrCodeNotFound
	// or domain.ErrCodeAlreadyUsed.
	Reserve(ctx context.Context, tx Tx, code string, userID int64) (*model.AccessCode, error)
	// Finalize moves reserved -> used. A code that is already used is returned unchanged.
	Finalize(ctx context.Context, tx Tx, code string) (*model.AccessCode, error)
	CountByState(ctx context.Context, tx Tx) (map[model.CodeState]int, error)
}
