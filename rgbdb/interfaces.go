package rgbdb

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// DefaultStoreTimeout is the default timeout used for any interaction
	// with the storage/database.
	DefaultStoreTimeout = time.Second * 10
)

const (
	// DefaultNumTxRetries is the number of times a transaction is retried
	// when it fails to serialize with concurrent transactions.
	DefaultNumTxRetries = 10

	// retryDelay is the pause between two attempts of a transaction.
	retryDelay = 50 * time.Millisecond
)

// BackendType is the kind of SQL database in use.
type BackendType uint8

const (
	// BackendSqlite is an embedded sqlite database.
	BackendSqlite BackendType = iota

	// BackendPostgres is a postgres server.
	BackendPostgres
)

// TxOptions represents a set of options one can use to control what type of
// database transaction is created.
type TxOptions interface {
	// ReadOnly returns true if the transaction should be read only.
	ReadOnly() bool
}

// txOptions is the default TxOptions implementation.
type txOptions struct {
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
func (t txOptions) ReadOnly() bool {
	return t.readOnly
}

// ReadTxOption returns options for a read only transaction.
func ReadTxOption() TxOptions {
	return txOptions{readOnly: true}
}

// WriteTxOption returns options for a read-write transaction.
func WriteTxOption() TxOptions {
	return txOptions{}
}

// BaseDB is an open database together with its backend type.
type BaseDB struct {
	*sql.DB

	Backend BackendType
}

// BeginTx starts a transaction with the given options.
func (b *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx,
	error) {

	return b.DB.BeginTx(ctx, &sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	})
}

// QueryCreator creates the query object a transaction body operates on.
type QueryCreator[Q any] func(*sql.Tx) Q

// TransactionExecutor runs transaction bodies over query objects of type Q,
// retrying transactions that fail to serialize.
type TransactionExecutor[Q any] struct {
	db *BaseDB

	createQuery QueryCreator[Q]

	numRetries int
}

// NewTransactionExecutor returns an executor over the database.
func NewTransactionExecutor[Q any](db *BaseDB,
	createQuery QueryCreator[Q]) *TransactionExecutor[Q] {

	return &TransactionExecutor[Q]{
		db:          db,
		createQuery: createQuery,
		numRetries:  DefaultNumTxRetries,
	}
}

// ExecTx runs txBody in a single database transaction. The transaction is
// rolled back if txBody fails, and retried if it can't be serialized.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context, opts TxOptions,
	txBody func(Q) error) error {

	for i := 0; i < t.numRetries; i++ {
		err := t.execOnce(ctx, opts, txBody)

		var serErr *ErrSerializationError
		if !errors.As(err, &serErr) {
			return err
		}

		log.Debugf("Retrying transaction after serialization "+
			"failure (attempt %d): %v", i+1, err)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

func (t *TransactionExecutor[Q]) execOnce(ctx context.Context,
	opts TxOptions, txBody func(Q) error) error {

	tx, err := t.db.BeginTx(ctx, opts)
	if err != nil {
		return MapSQLError(err)
	}

	// Rollback is safe to call even if the tx is already closed, so if the
	// tx commits successfully, this is a no-op.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(t.createQuery(tx)); err != nil {
		return MapSQLError(err)
	}

	return MapSQLError(tx.Commit())
}
