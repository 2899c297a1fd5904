package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/repository"
)

// Ensure implementation satisfies the interface.
var _ repository.AccessCodeRepository = (*accessCodeRepo)(nil)

type accessCodeRepo struct {
	pool *pgxpool.Pool
}

func NewAccessCodeRepo(pool *pgxpool.Pool) *accessCodeRepo {
	return &accessCodeRepo{pool: pool}
}

const accessCodeColumns = `code, plan, state, redeemed_by, issued_at, redeemed_at, used_at`

func (r *accessCodeRepo) Insert(ctx context.Context, tx repository.Tx, c *model.AccessCode) error {
	const q = `
INSERT INTO access_codes (code, plan, state, issued_at)
VALUES ($1, $2, $3, $4);`
	_, err := execSQL(ctx, r.pool, tx, q, c.Code, string(c.Plan), string(c.State), c.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return opFailed("insert access code", err)
	}
	return nil
}

func (r *accessCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.AccessCode, error) {
	const q = `SELECT ` + accessCodeColumns + ` FROM access_codes WHERE code = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	return scanAccessCode(row)
}

// Reserve is a single conditional UPDATE; the losing side of a race sees zero
// rows and then learns why from a follow-up read.
func (r *accessCodeRepo) Reserve(ctx context.Context, tx repository.Tx, code string, userID int64) (*model.AccessCode, error) {
	const q = `
UPDATE access_codes
   SET state = 'reserved', redeemed_by = $2, redeemed_at = $3
 WHERE code = $1 AND state = 'unused'
RETURNING ` + accessCodeColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, code, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	ac, err := scanAccessCode(row)
	if err == nil {
		return ac, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if _, err := r.FindByCode(ctx, tx, code); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}
	return nil, domain.ErrCodeAlreadyUsed
}

func (r *accessCodeRepo) Finalize(ctx context.Context, tx repository.Tx, code string) (*model.AccessCode, error) {
	const q = `
UPDATE access_codes
   SET state = 'used', used_at = $2
 WHERE code = $1 AND state = 'reserved'
RETURNING ` + accessCodeColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, code, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	ac, err := scanAccessCode(row)
	if err == nil {
		return ac, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	current, err := r.FindByCode(ctx, tx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}
	if current.State == model.CodeStateUsed {
		return current, nil
	}
	return nil, domain.ErrCodeNotReserved
}

func (r *accessCodeRepo) CountByState(ctx context.Context, tx repository.Tx) (map[model.CodeState]int, error) {
	const q = `SELECT state, COUNT(*) FROM access_codes GROUP BY state;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, opFailed("count access codes", err)
	}
	defer rows.Close()

	out := map[model.CodeState]int{
		model.CodeStateUnused:   0,
		model.CodeStateReserved: 0,
		model.CodeStateUsed:     0,
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.CodeState(state)] = n
	}
	return out, rows.Err()
}

func scanAccessCode(row pgx.Row) (*model.AccessCode, error) {
	var (
		ac    model.AccessCode
		plan  string
		state string
	)
	err := row.Scan(&ac.Code, &plan, &state, &ac.RedeemedBy, &ac.IssuedAt, &ac.RedeemedAt, &ac.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	ac.Plan = model.Plan(plan)
	ac.State = model.CodeState(state)
	return &ac, nil
}
