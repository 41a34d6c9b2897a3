package workflow

import (
	"context"
	"sort"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type TenantRebuildResult struct {
	TenantId     string                      `json:"tenant_id"`
	DryRun       bool                        `json:"dry_run"`
	ProductCount int                         `json:"product_count"`
	ChangedCount int                         `json:"changed_count"`
	Products     []models.StockRebuildResult `json:"products"`
}

// merge folds another rebuild pass into r and returns the combined result.
func (r *TenantRebuildResult) merge(other *TenantRebuildResult) *TenantRebuildResult {
	if other == nil {
		return r
	}
	if r == nil {
		return other
	}
	r.ProductCount += other.ProductCount
	r.ChangedCount += other.ChangedCount
	r.Products = append(r.Products, other.Products...)
	return r
}

func loggerOrDefault(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return config.GetLogger()
	}
	return logger
}

// rebuildCandidates is every product with movements or a summary row, so a
// summary whose entries were all deleted is reset too.
func rebuildCandidates(tx *gorm.DB, tenantId string) ([]int, error) {
	moved, err := models.ListMovedProductIds(tx, tenantId)
	if err != nil {
		return nil, err
	}
	summarized, err := models.ListSummarizedProductIds(tx, tenantId)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	ids := make([]int, 0, len(moved)+len(summarized))
	for _, id := range append(moved, summarized...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// RebuildTenantStockSummaries replays each product's movements from zero and
// overwrites its summary. Each product runs in its own transaction so locks are
// held briefly; re-running after an interruption is safe. A nil productIds
// rebuilds every product of the tenant.
func RebuildTenantStockSummaries(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, productIds []int, dryRun bool) (result *TenantRebuildResult, err error) {
	logger = loggerOrDefault(logger)
	ctx, span := startSpan(ctx, "workflow.RebuildTenantStockSummaries", tenantId, attribute.Bool("dry_run", dryRun))
	defer func() { endSpan(span, err) }()

	if productIds == nil {
		productIds, err = rebuildCandidates(db.WithContext(ctx), tenantId)
		if err != nil {
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"tenant_id":     tenantId,
		"product_count": len(productIds),
		"dry_run":       dryRun,
	}).Info("stock.rebuild.start")

	result = &TenantRebuildResult{TenantId: tenantId, DryRun: dryRun, Products: []models.StockRebuildResult{}}
	for _, productId := range productIds {
		var r *models.StockRebuildResult
		err = inTransaction(ctx, db, func(tx *gorm.DB) error {
			var err error
			r, err = models.RebuildStockSummary(tx, tenantId, productId, dryRun)
			return err
		})
		if err != nil {
			config.LogError(logger, "stockMaintenance.go", "RebuildTenantStockSummaries", "Rebuilding product summary",
				map[string]interface{}{"tenant_id": tenantId, "product_id": productId}, err)
			return nil, err
		}
		result.ProductCount++
		if r.Changed {
			result.ChangedCount++
			logger.WithFields(logrus.Fields{
				"tenant_id":    tenantId,
				"product_id":   productId,
				"before_qty":   r.Before.Qty.String(),
				"after_qty":    r.After.Qty.String(),
				"before_avg":   r.Before.AvgPrice.String(),
				"after_avg":    r.After.AvgPrice.String(),
				"before_value": r.Before.TotalValue.String(),
				"after_value":  r.After.TotalValue.String(),
				"applied":      r.Applied,
			}).Info("stock.rebuild.product_changed")
		}
		result.Products = append(result.Products, *r)
	}

	if !dryRun && result.ChangedCount > 0 {
		reports.InvalidateStockStatistics(ctx, tenantId)
	}
	logger.WithFields(logrus.Fields{
		"tenant_id":     tenantId,
		"product_count": result.ProductCount,
		"changed_count": result.ChangedCount,
		"dry_run":       dryRun,
	}).Info("stock.rebuild.done")
	return result, nil
}

// RecomputeTenantBankBalances rewrites the tenant's running balances in one transaction.
func RecomputeTenantBankBalances(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, dryRun bool) (result *models.BankRecomputeResult, err error) {
	logger = loggerOrDefault(logger)
	ctx, span := startSpan(ctx, "workflow.RecomputeTenantBankBalances", tenantId, attribute.Bool("dry_run", dryRun))
	defer func() { endSpan(span, err) }()

	logger.WithFields(logrus.Fields{"tenant_id": tenantId, "dry_run": dryRun}).Info("bank.recompute.start")
	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		var err error
		result, err = models.RecomputeBankBalances(tx, tenantId, dryRun)
		return err
	})
	if err != nil {
		config.LogError(logger, "stockMaintenance.go", "RecomputeTenantBankBalances", "Recomputing bank balances", tenantId, err)
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"tenant_id":         tenantId,
		"transaction_count": result.TransactionCount,
		"updated_count":     result.UpdatedCount,
		"previous_balance":  result.PreviousBalance.String(),
		"final_balance":     result.FinalBalance.String(),
		"dry_run":           dryRun,
	}).Info("bank.recompute.done")
	return result, nil
}

type DuplicateCleanupResult struct {
	Groups     []models.DuplicateGroup     `json:"groups"`
	Resolution *models.DuplicateResolution `json:"resolution"`
	Rebuild    *TenantRebuildResult        `json:"rebuild,omitempty"`
}

// CleanupDuplicateMovements scans and resolves duplicate movements in one
// transaction. With rebuild set, the affected products are rebuilt afterwards.
func CleanupDuplicateMovements(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, dryRun bool, rebuild bool) (result *DuplicateCleanupResult, err error) {
	logger = loggerOrDefault(logger)
	ctx, span := startSpan(ctx, "workflow.CleanupDuplicateMovements", tenantId, attribute.Bool("dry_run", dryRun))
	defer func() { endSpan(span, err) }()

	result = &DuplicateCleanupResult{}
	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		groups, err := models.FindDuplicateMovements(tx, tenantId)
		if err != nil {
			return err
		}
		resolution, err := models.ResolveDuplicates(tx, tenantId, groups, dryRun)
		if err != nil {
			return err
		}
		result.Groups = groups
		result.Resolution = resolution
		return nil
	})
	if err != nil {
		config.LogError(logger, "stockMaintenance.go", "CleanupDuplicateMovements", "Resolving duplicates", tenantId, err)
		return nil, err
	}

	entry := logger.WithFields(logrus.Fields{
		"tenant_id":   tenantId,
		"group_count": len(result.Groups),
		"removed":     result.Resolution.Removed,
		"product_ids": result.Resolution.AffectedProductIds,
		"dry_run":     dryRun,
	})
	if result.Resolution.Warning != "" && !rebuild && !dryRun {
		entry.Warn("stock.duplicates.resolved: " + result.Resolution.Warning)
	} else {
		entry.Info("stock.duplicates.resolved")
	}

	if rebuild && !dryRun && len(result.Resolution.AffectedProductIds) > 0 {
		result.Rebuild, err = RebuildTenantStockSummaries(ctx, db, logger, tenantId, result.Resolution.AffectedProductIds, false)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// FixEntryDates realigns document-linked entries with their document dates.
// Summaries are left as they are; drift from the new replay order is repaired
// by a stock rebuild or a full_check job.
func FixEntryDates(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, dryRun bool) (result *models.DateFixResult, err error) {
	logger = loggerOrDefault(logger)
	ctx, span := startSpan(ctx, "workflow.FixEntryDates", tenantId, attribute.Bool("dry_run", dryRun))
	defer func() { endSpan(span, err) }()

	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		var err error
		result, err = models.FixMismatchedDates(tx, tenantId, dryRun)
		return err
	})
	if err != nil {
		config.LogError(logger, "stockMaintenance.go", "FixEntryDates", "Fixing entry dates", tenantId, err)
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"tenant_id":                tenantId,
		"mismatches":               len(result.Mismatches),
		"sale_entries_updated":     result.SaleEntriesUpdated,
		"purchase_entries_updated": result.PurchaseEntriesUpdated,
		"product_ids":              result.AffectedProductIds,
		"dry_run":                  dryRun,
	}).Info("stock.dates.fixed")
	return result, nil
}
