package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var ErrorConflictRetriesExhausted = errors.New("lock contention persisted")

// ConflictRetryPolicy bounds how often a unit of work is replayed after lock contention.
type ConflictRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConflictRetryPolicy reads LEDGER_RETRY_MAX_ATTEMPTS (default 5).
func DefaultConflictRetryPolicy() ConflictRetryPolicy {
	return ConflictRetryPolicy{
		MaxAttempts: config.LedgerRetryMaxAttempts(),
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// RetryOnConflict runs fn and replays it while it fails with a lock-contention error.
// fn must open its own transaction so each attempt starts clean.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	return DefaultConflictRetryPolicy().Do(ctx, fn)
}

func (p ConflictRetryPolicy) Do(ctx context.Context, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsConflictError(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		sleep := p.BaseDelay * time.Duration(1<<min(attempt-1, 10))
		if p.MaxDelay > 0 && sleep > p.MaxDelay {
			sleep = p.MaxDelay
		}
		config.GetLogger().WithFields(logrus.Fields{
			"field":          "ledger.retry",
			"attempt":        attempt,
			"correlation_id": CorrelationIdOrNew(ctx),
		}).Warn("lock conflict; retrying in " + sleep.String() + ": " + err.Error())

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrorConflictRetriesExhausted, p.MaxAttempts, err)
}

// IsConflictError reports whether err is a deadlock, lock wait timeout, serialization
// failure or a lost race on a unique key. All of them succeed when replayed.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213, 1062:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return true
		}
		return false
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		if sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked {
			return true
		}
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	return false
}
