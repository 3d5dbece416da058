package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque, infra-defined transaction handle (pgx.Tx for Postgres).
type Tx interface{}

// NoTX runs a repository call outside of any transaction.
var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// handle to repositories through the tx argument.
//
// Payment state changes that must move together with the enrollment set
// (completion + enroll, full refund + un-enroll) go through WithTx, so a crash
// between the two writes cannot leave a paid user without access or a refunded
// user with it.
//
// Repositories MUST accept NoTX (nil) and fall back to the pool.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
