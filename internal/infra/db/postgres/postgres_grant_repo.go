package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/repository"
)

var _ repository.GrantRepository = (*grantRepo)(nil)

type grantRepo struct {
	pool *pgxpool.Pool
}

func NewGrantRepo(pool *pgxpool.Pool) *grantRepo {
	return &grantRepo{pool: pool}
}

// Put overwrites any previous grant of the user (last writer wins).
func (r *grantRepo) Put(ctx context.Context, tx repository.Tx, g *model.Grant) error {
	const q = `
INSERT INTO grants (user_id, code, plan, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
  code = EXCLUDED.code,
  plan = EXCLUDED.plan,
  created_at = EXCLUDED.created_at;`
	if _, err := execSQL(ctx, r.pool, tx, q, g.UserID, g.Code, string(g.Plan), g.CreatedAt); err != nil {
		return opFailed("put grant", err)
	}
	return nil
}

func (r *grantRepo) Get(ctx context.Context, tx repository.Tx, userID int64) (*model.Grant, error) {
	const q = `SELECT user_id, code, plan, created_at FROM grants WHERE user_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var (
		g    model.Grant
		plan string
	)
	if err := row.Scan(&g.UserID, &g.Code, &plan, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	g.Plan = model.Plan(plan)
	return &g, nil
}

func (r *grantRepo) Delete(ctx context.Context, tx repository.Tx, userID int64, code string) (bool, error) {
	const q = `DELETE FROM grants WHERE user_id = $1 AND code = $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, code)
	if err != nil {
		return false, opFailed("delete grant", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *grantRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM grants;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
