package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockSummary caches the weighted-average valuation of one (tenant, product).
// It is derived from stock_entries and can always be rebuilt from them.
type StockSummary struct {
	ID               int             `gorm:"primary_key" json:"id"`
	TenantId         string          `gorm:"size:36;not null;uniqueIndex:idx_stock_summaries_tenant_product,priority:1" json:"tenant_id"`
	ProductId        int             `gorm:"not null;uniqueIndex:idx_stock_summaries_tenant_product,priority:2" json:"product_id"`
	TotalQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_qty"`
	AvgPurchasePrice decimal.Decimal `gorm:"type:decimal(20,6);default:0" json:"avg_purchase_price"`
	TotalValue       decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_value"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s StockSummary) Valuation() Valuation {
	return Valuation{Qty: s.TotalQty, AvgPrice: s.AvgPurchasePrice, TotalValue: s.TotalValue}
}

func (s *StockSummary) setValuation(v Valuation) {
	s.TotalQty = v.Qty
	s.AvgPurchasePrice = v.AvgPrice
	s.TotalValue = v.TotalValue
}

// lockStockSummary returns the summary row locked FOR UPDATE, creating it on first movement.
func lockStockSummary(tx *gorm.DB, tenantId string, productId int) (*StockSummary, error) {
	summary := StockSummary{
		TenantId:  tenantId,
		ProductId: productId,
	}
	// FirstOrCreate will try to find a record matching the conditions, and if it doesn't find one, it will create a new record
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND product_id = ?", tenantId, productId).
		FirstOrCreate(&summary)
	if result.Error != nil {
		return nil, result.Error
	}
	return &summary, nil
}

// findStockSummaryForUpdate locks an existing row without creating one.
func findStockSummaryForUpdate(tx *gorm.DB, tenantId string, productId int) (*StockSummary, bool, error) {
	var summary StockSummary
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND product_id = ?", tenantId, productId).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &StockSummary{TenantId: tenantId, ProductId: productId}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (s *StockSummary) applyAndSave(tx *gorm.DB, delta decimal.Decimal, unitPrice *decimal.Decimal) error {
	s.setValuation(s.Valuation().Apply(delta, unitPrice))
	return s.save(tx)
}

func (s *StockSummary) save(tx *gorm.DB) error {
	s.UpdatedAt = time.Now().UTC()
	return tx.Exec("UPDATE stock_summaries SET total_qty = ?, avg_purchase_price = ?, total_value = ?, updated_at = ? WHERE id = ?",
		s.TotalQty, s.AvgPurchasePrice, s.TotalValue, s.UpdatedAt, s.ID).Error
}

// ApplyStockMovement folds one movement into the summary under a row lock.
// AppendStockEntry calls it; it is exported for callers that replay movements
// they already persisted.
func ApplyStockMovement(tx *gorm.DB, tenantId string, productId int, delta decimal.Decimal, unitPrice *decimal.Decimal) (*StockSummary, error) {
	summary, err := lockStockSummary(tx, tenantId, productId)
	if err != nil {
		return nil, err
	}
	if err := summary.applyAndSave(tx, delta, unitPrice); err != nil {
		return nil, err
	}
	return summary, nil
}

type StockRebuildResult struct {
	TenantId   string    `json:"tenant_id"`
	ProductId  int       `json:"product_id"`
	EntryCount int       `json:"entry_count"`
	Before     Valuation `json:"before"`
	After      Valuation `json:"after"`
	Changed    bool      `json:"changed"`
	Applied    bool      `json:"applied"`
}

func valuationsEqual(a, b Valuation) bool {
	return a.Qty.Equal(b.Qty) && a.AvgPrice.Equal(b.AvgPrice) && a.TotalValue.Equal(b.TotalValue)
}

// RebuildStockSummary replays the product's whole movement log from zero in
// (entry_date, created_at, id) order and overwrites the summary with the result.
// With dryRun the summary is only compared, never written.
func RebuildStockSummary(tx *gorm.DB, tenantId string, productId int, dryRun bool) (*StockRebuildResult, error) {
	summary, found, err := findStockSummaryForUpdate(tx, tenantId, productId)
	if err != nil {
		return nil, err
	}

	entries, err := ListStockEntriesChronological(tx, tenantId, productId)
	if err != nil {
		return nil, err
	}
	after := ReplayValuation(entries)

	result := &StockRebuildResult{
		TenantId:   tenantId,
		ProductId:  productId,
		EntryCount: len(entries),
		Before:     summary.Valuation(),
		After:      after,
	}
	result.Changed = !found || !valuationsEqual(result.Before, after)
	if !found && len(entries) == 0 {
		result.Changed = false
	}
	if dryRun || !result.Changed {
		return result, nil
	}

	if !found {
		if summary, err = lockStockSummary(tx, tenantId, productId); err != nil {
			return nil, err
		}
	}
	summary.setValuation(after)
	if err := summary.save(tx); err != nil {
		return nil, err
	}
	result.Applied = true
	return result, nil
}

// ListSummarizedProductIds returns products that have a summary row, moved or not.
func ListSummarizedProductIds(tx *gorm.DB, tenantId string) ([]int, error) {
	var ids []int
	err := tx.Model(&StockSummary{}).Where("tenant_id = ?", tenantId).Order("product_id").Pluck("product_id", &ids).Error
	return ids, err
}

// GetStockSummary returns the cached valuation. A product that never moved
// reads as an all-zero summary.
func GetStockSummary(tx *gorm.DB, tenantId string, productId int) (*StockSummary, error) {
	if _, err := GetProduct(tx, tenantId, productId); err != nil {
		return nil, err
	}
	var summary StockSummary
	err := tx.Where("tenant_id = ? AND product_id = ?", tenantId, productId).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &StockSummary{TenantId: tenantId, ProductId: productId}, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func GetCurrentStock(tx *gorm.DB, tenantId string, productId int) (decimal.Decimal, error) {
	summary, err := GetStockSummary(tx, tenantId, productId)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.TotalQty, nil
}

func GetAverageCost(tx *gorm.DB, tenantId string, productId int) (decimal.Decimal, error) {
	summary, err := GetStockSummary(tx, tenantId, productId)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.AvgPurchasePrice, nil
}

type ProductStockLevel struct {
	ProductId    int             `json:"product_id"`
	Name         string          `json:"name"`
	Sku          string          `json:"sku"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	TotalQty     decimal.Decimal `json:"total_qty"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

func (l ProductStockLevel) IsLow() bool {
	return l.TotalQty.LessThanOrEqual(l.ReorderLevel)
}

// listProductStockLevels joins every active product with its summary; products
// without a summary report zero.
func listProductStockLevels(tx *gorm.DB, tenantId string) ([]ProductStockLevel, error) {
	var rows []ProductStockLevel
	err := tx.Table("products").
		Select("products.id AS product_id, products.name, products.sku, products.reorder_level, "+
			"COALESCE(stock_summaries.total_qty, 0) AS total_qty, COALESCE(stock_summaries.total_value, 0) AS total_value").
		Joins("LEFT JOIN stock_summaries ON stock_summaries.product_id = products.id AND stock_summaries.tenant_id = products.tenant_id").
		Where("products.tenant_id = ? AND products.is_active = ?", tenantId, true).
		Order("products.name, products.id").
		Scan(&rows).Error
	return rows, err
}

// GetLowStockProducts lists active products at or below their reorder level.
func GetLowStockProducts(tx *gorm.DB, tenantId string) ([]ProductStockLevel, error) {
	rows, err := listProductStockLevels(tx, tenantId)
	if err != nil {
		return nil, err
	}
	low := make([]ProductStockLevel, 0)
	for _, r := range rows {
		if r.IsLow() {
			low = append(low, r)
		}
	}
	return low, nil
}

type StockStatistics struct {
	TenantId           string          `json:"tenant_id"`
	ProductCount       int             `json:"product_count"`
	InStockCount       int             `json:"in_stock_count"`
	LowStockCount      int             `json:"low_stock_count"`
	OutOfStockCount    int             `json:"out_of_stock_count"`
	NegativeStockCount int             `json:"negative_stock_count"`
	TotalQty           decimal.Decimal `json:"total_qty"`
	TotalValue         decimal.Decimal `json:"total_value"`
}

func GetStockStatistics(tx *gorm.DB, tenantId string) (*StockStatistics, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	rows, err := listProductStockLevels(tx, tenantId)
	if err != nil {
		return nil, err
	}
	stats := &StockStatistics{
		TenantId:   tenantId,
		TotalQty:   decimal.Zero,
		TotalValue: decimal.Zero,
	}
	for _, r := range rows {
		stats.ProductCount++
		stats.TotalQty = stats.TotalQty.Add(r.TotalQty)
		stats.TotalValue = stats.TotalValue.Add(r.TotalValue)
		switch {
		case r.TotalQty.IsNegative():
			stats.NegativeStockCount++
		case r.TotalQty.IsZero():
			stats.OutOfStockCount++
		default:
			stats.InStockCount++
		}
		if r.IsLow() {
			stats.LowStockCount++
		}
	}
	stats.TotalValue = stats.TotalValue.Round(MoneyPlaces)
	return stats, nil
}

// StockStatisticsCacheKey is the redis key the API caches statistics under.
func StockStatisticsCacheKey(tenantId string) string {
	return "stock_stats:" + tenantId
}
