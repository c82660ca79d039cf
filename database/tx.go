package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"rewards-backend/apperr"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// TxOptions bounds a transactional unit of work.
type TxOptions struct {
	Timeout    time.Duration // per attempt
	MaxRetries int
	Backoff    func() backoff.BackOff
}

func DefaultTxOptions() TxOptions {
	return TxOptions{Timeout: 5 * time.Second, MaxRetries: 3}
}

func (o TxOptions) backoff() backoff.BackOff {
	if o.Backoff != nil {
		return o.Backoff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// Transact runs fn in a single transaction. Serialization failures, deadlocks
// and attempts that exceed opts.Timeout are retried with exponential backoff;
// once retries run out the caller gets a retryable apperr.ErrInternal. Any
// other error from fn aborts immediately and is returned unchanged when it is
// already typed.
func Transact(ctx context.Context, db *gorm.DB, opts TxOptions, fn func(tx *gorm.DB) error) error {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTxOptions().Timeout
	}

	var transient bool
	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		err := db.WithContext(attemptCtx).Transaction(fn)
		if err == nil {
			return nil
		}
		timedOut := attemptCtx.Err() != nil && ctx.Err() == nil
		if IsRetryable(err) || timedOut {
			transient = true
			return err
		}
		transient = false
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(opts.backoff(), uint64(opts.MaxRetries)), ctx)
	err := backoff.Retry(attempt, b)
	if err == nil {
		return nil
	}
	if transient || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.RetryableInternal(err)
	}
	return apperr.Internal(err)
}

// IsRetryable reports whether err is a transient conflict reported by the store.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// Conn binds db to ctx unless db is already a transaction handle. A
// transaction keeps the context it was opened with, which carries the
// per-attempt deadline set by Transact.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if InTx(db) {
		return db
	}
	return db.WithContext(ctx)
}

// InTx reports whether db runs inside an open transaction.
func InTx(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
