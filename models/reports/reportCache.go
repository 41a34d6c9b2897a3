package reports

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func statsCacheTTL() time.Duration {
	// Env: STOCK_STATS_CACHE_TTL_SECONDS (default 60s)
	ttl := 60
	if v := strings.TrimSpace(os.Getenv("STOCK_STATS_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

func reportSlowMs() int64 {
	// Env: REPORT_SLOW_MS (default 500ms)
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return ms
}

func logSlowReport(ctx context.Context, name string, tenantId string, started time.Time) {
	d := time.Since(started)
	if d.Milliseconds() < reportSlowMs() {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	config.GetLogger().WithFields(logrus.Fields{
		"report":         name,
		"ms":             d.Milliseconds(),
		"tenant_id":      tenantId,
		"correlation_id": cid,
	}).Warn("report.slow")
}

// GetStockStatisticsCached serves statistics from redis when present. Cache
// failures fall through to the database.
func GetStockStatisticsCached(ctx context.Context, db *gorm.DB, tenantId string) (*models.StockStatistics, bool, error) {
	key := models.StockStatisticsCacheKey(tenantId)
	var cached models.StockStatistics
	found, err := config.GetRedisObject(ctx, key, &cached)
	if err != nil {
		config.GetLogger().WithError(err).WithField("key", key).Warn("report.cache.read_failed")
	}
	if found {
		return &cached, true, nil
	}

	started := time.Now()
	stats, err := models.GetStockStatistics(db.WithContext(ctx), tenantId)
	if err != nil {
		return nil, false, err
	}
	logSlowReport(ctx, "stock_statistics", tenantId, started)

	if err := config.SetRedisObject(ctx, key, stats, statsCacheTTL()); err != nil {
		config.GetLogger().WithError(err).WithField("key", key).Warn("report.cache.write_failed")
	}
	return stats, false, nil
}

// InvalidateStockStatistics drops cached statistics after a stock write.
func InvalidateStockStatistics(ctx context.Context, tenantId string) {
	if err := config.RemoveRedisKey(ctx, models.StockStatisticsCacheKey(tenantId)); err != nil {
		config.GetLogger().WithError(err).WithField("tenant_id", tenantId).Warn("report.cache.invalidate_failed")
	}
}
