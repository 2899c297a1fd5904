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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan, code, start_date, expiry_date, is_active`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (id, user_id, plan, code, start_date, expiry_date, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  expiry_date = EXCLUDED.expiry_date,
  is_active = EXCLUDED.is_active;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, string(s.Plan), s.Code, s.StartDate, s.ExpiryDate, s.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			// another active row exists for this user
			return domain.ErrAlreadyExists
		}
		return opFailed("save subscription", err)
	}
	return nil
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id = $1 AND is_active AND expiry_date > $2
 ORDER BY expiry_date DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID, now)
}

func (r *subscriptionRepo) FindLatestByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id = $1
 ORDER BY created_at DESC, start_date DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id = $1 AND is_active
 ORDER BY expiry_date ASC;`
	return r.queryMany(ctx, tx, q, userID)
}

// ListExpiredActive pages with a keyset on (expiry_date, id), so rows left
// active by a failed removal do not hide the ones behind them.
func (r *subscriptionRepo) ListExpiredActive(ctx context.Context, tx repository.Tx, now time.Time, after *repository.ExpiryCursor, limit int) ([]*model.Subscription, error) {
	if after == nil {
		const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE is_active AND expiry_date <= $1
 ORDER BY expiry_date ASC, id ASC
 LIMIT $2;`
		return r.queryMany(ctx, tx, q, now, limit)
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE is_active AND expiry_date <= $1
   AND (expiry_date, id) > ($2, $3)
 ORDER BY expiry_date ASC, id ASC
 LIMIT $4;`
	return r.queryMany(ctx, tx, q, now, after.ExpiryDate, after.ID, limit)
}

// Deactivate only flips a row that is still active, so concurrent sweeps
// agree on a single winner.
func (r *subscriptionRepo) Deactivate(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE subscriptions SET is_active = FALSE WHERE id = $1 AND is_active;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, opFailed("deactivate subscription", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) DeactivateActiveByUser(ctx context.Context, tx repository.Tx, userID int64) (int, error) {
	const q = `UPDATE subscriptions SET is_active = FALSE WHERE user_id = $1 AND is_active;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, opFailed("deactivate user subscriptions", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *subscriptionRepo) FindExpiring(ctx context.Context, tx repository.Tx, now time.Time, withinDays int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE is_active
   AND expiry_date > $1
   AND expiry_date <= $1 + ($2::int * INTERVAL '1 day')
 ORDER BY expiry_date ASC;`
	return r.queryMany(ctx, tx, q, now, withinDays)
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanSub(row)
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, opFailed("query subscriptions", err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSub(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var plan string
	if err := row.Scan(&s.ID, &s.UserID, &plan, &s.Code, &s.StartDate, &s.ExpiryDate, &s.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Plan = model.Plan(plan)
	return s, nil
}
