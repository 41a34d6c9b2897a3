package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DateLayout = "2006-01-02"

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return dec, nil
}

// DateOnly truncates t to midnight UTC of its calendar day.
// Entry and transaction dates are calendar dates; storing them normalized keeps
// comparisons stable across drivers.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD into a DateOnly value.
func ParseDate(value string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", value, err)
	}
	return DateOnly(d), nil
}

func SameDate(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}

// ObtainTenantLock takes the redis lock "<lockType>:<tenantId>".
// A nil lock with a nil error means redis is not connected; callers proceed unlocked.
func ObtainTenantLock(ctx context.Context, tenantId string, lockType string, ttl time.Duration, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		logger.WithFields(logrus.Fields{
			"module":    moduleName,
			"funcName":  functionName,
			"tenant_id": tenantId,
			"lock_type": lockType,
		}).Warn("redis lock not ready; proceeding without redis lock")
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, tenantId)
	lock, err := locker.Obtain(ctx, lockKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), 10),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for tenant", tenantId, err)
		return nil, ErrorLockNotObtained
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for tenant", tenantId, err)
		return nil, err
	}
	return lock, nil
}

func ReleaseTenantLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		config.GetLogger().WithFields(logrus.Fields{
			"lock_key": lock.Key(),
		}).Warn("failed to release redis lock: " + err.Error())
	}
}
