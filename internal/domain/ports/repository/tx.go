package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres). Repositories
// accept NoTX to run against the pool directly.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction, passing the
// handle to every repository call made within it.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		if _, err := codes.Reserve(ctx, tx, code, userID); err != nil {
//			return err
//		}
//		return grants.Put(ctx, tx, grant)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
