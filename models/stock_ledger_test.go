package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStockLedgerOpeningPurchaseSaleScenario(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)
	productId := seedProduct(t, db, tenantId, "Rice 5kg")

	_, summary := appendEntry(t, db, models.NewStockEntry{
		TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeOpening,
		Quantity: dec("100"), UnitPurchasePrice: decPtr("50"), EntryDate: day(2025, 1, 1),
	})
	requireDecimal(t, "50", summary.AvgPurchasePrice)
	requireDecimal(t, "5000", summary.TotalValue)

	_, summary = appendEntry(t, db, models.NewStockEntry{
		TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypePurchase,
		Quantity: dec("50"), UnitPurchasePrice: decPtr("60"), EntryDate: day(2025, 1, 2),
	})
	requireDecimal(t, "53.333333", summary.AvgPurchasePrice)
	requireDecimal(t, "8000", summary.TotalValue)

	_, summary = appendEntry(t, db, models.NewStockEntry{
		TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeSale,
		Quantity: dec("-30"), UnitSalePrice: decPtr("75"), EntryDate: day(2025, 1, 3),
	})
	requireDecimal(t, "53.333333", summary.AvgPurchasePrice)

	stock, err := models.GetCurrentStock(db, tenantId, productId)
	require.NoError(t, err)
	requireDecimal(t, "120", stock)

	avg, err := models.GetAverageCost(db, tenantId, productId)
	require.NoError(t, err)
	requireDecimal(t, "53.333333", avg)

	persisted, err := models.GetStockSummary(db, tenantId, productId)
	require.NoError(t, err)
	requireDecimal(t, "6400", persisted.TotalValue)
}

func TestAppendStockEntryRejectsInvalidInputWithoutWriting(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)
	productId := seedProduct(t, db, tenantId, "Soap")
	otherTenant := seedTenant(t, db)
	foreignProduct := seedProduct(t, db, otherTenant, "Foreign")

	cases := []struct {
		name  string
		input models.NewStockEntry
		field string
	}{
		{"positive sale", models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeSale, Quantity: dec("5"), EntryDate: day(2025, 1, 1)}, "Quantity"},
		{"negative purchase", models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypePurchase, Quantity: dec("-5"), UnitPurchasePrice: decPtr("1"), EntryDate: day(2025, 1, 1)}, "Quantity"},
		{"zero adjustment", models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeAdjustment, Quantity: dec("0"), EntryDate: day(2025, 1, 1)}, "Quantity"},
		{"purchase below stored precision", models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypePurchase, Quantity: dec("0.00001"), UnitPurchasePrice: decPtr("10"), EntryDate: day(2025, 1, 1)}, "Quantity"},
		{"sale below stored precision", models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeSale, Quantity: dec("-0.00004"), EntryDate: day(2025, 1, 1)}, "Quantity"},
		{"missing date", models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeOpening, Quantity: dec("5"), UnitPurchasePrice: decPtr("1")}, "EntryDate"},
		{"unknown product", models.NewStockEntry{TenantId: tenantId, ProductId: 99999, EntryType: models.StockEntryTypeAdjustment, Quantity: dec("1"), EntryDate: day(2025, 1, 1)}, "product_id"},
		{"product of another tenant", models.NewStockEntry{TenantId: tenantId, ProductId: foreignProduct, EntryType: models.StockEntryTypeAdjustment, Quantity: dec("1"), EntryDate: day(2025, 1, 1)}, "product_id"},
		{"unknown tenant", models.NewStockEntry{TenantId: "no-such-tenant", ProductId: productId, EntryType: models.StockEntryTypeAdjustment, Quantity: dec("1"), EntryDate: day(2025, 1, 1)}, "tenant_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				_, _, err := models.AppendStockEntry(tx, tc.input)
				return err
			})
			require.Error(t, err)
			require.True(t, models.IsValidationError(err), "want validation error, got %v", err)
			var verrs models.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Contains(t, verrs.Fields(), tc.field)
		})
	}

	var entries, summaries int64
	require.NoError(t, db.Model(&models.StockEntry{}).Count(&entries).Error)
	require.NoError(t, db.Model(&models.StockSummary{}).Count(&summaries).Error)
	assert.Zero(t, entries)
	assert.Zero(t, summaries)
}

func TestStockSummaryOfUnmovedProductIsZero(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)
	productId := seedProduct(t, db, tenantId, "New item")

	stock, err := models.GetCurrentStock(db, tenantId, productId)
	require.NoError(t, err)
	assert.True(t, stock.IsZero())

	_, err = models.GetCurrentStock(db, tenantId, productId+100)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestGetStockHistoryOrderAndPaging(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)
	productId := seedProduct(t, db, tenantId, "Tea")

	first, _ := appendEntry(t, db, models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeOpening, Quantity: dec("10"), UnitPurchasePrice: decPtr("2"), EntryDate: day(2025, 3, 1)})
	appendEntry(t, db, models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeSale, Quantity: dec("-1"), EntryDate: day(2025, 3, 5)})
	last, _ := appendEntry(t, db, models.NewStockEntry{TenantId: tenantId, ProductId: productId, EntryType: models.StockEntryTypeSale, Quantity: dec("-2"), EntryDate: day(2025, 3, 9)})

	recent, err := models.GetStockHistory(db, tenantId, productId, models.Page{Number: 1, Size: 2}, models.HistoryOrderDesc)
	require.NoError(t, err)
	require.Len(t, recent.Entries, 2)
	assert.Equal(t, last.ID, recent.Entries[0].ID)
	assert.True(t, recent.PageInfo.HasNextPage)
	assert.EqualValues(t, 3, recent.PageInfo.Total)

	audit, err := models.GetStockHistory(db, tenantId, productId, models.Page{Number: 1, Size: 10}, models.HistoryOrderAsc)
	require.NoError(t, err)
	require.Len(t, audit.Entries, 3)
	assert.Equal(t, first.ID, audit.Entries[0].ID)
	assert.False(t, audit.PageInfo.HasNextPage)

	_, err = models.GetStockHistory(db, tenantId, productId, models.Page{}, models.HistoryOrder("sideways"))
	assert.True(t, models.IsValidationError(err))
}

func TestRebuildStockSummaryMatchesIncrementalMaintenance(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)
	productId := seedProduct(t, db, tenantId, "Oil")

	inputs := []models.NewStockEntry{
		{EntryType: models.StockEntryTypeOpening, Quantity: dec("40"), UnitPurchasePrice: decPtr("9.75"), EntryDate: day(2025, 2, 1)},
		{EntryType: models.StockEntryTypeSale, Quantity: dec("-12.5"), UnitSalePrice: decPtr("12"), EntryDate: day(2025, 2, 2)},
		{EntryType: models.StockEntryTypePurchase, Quantity: dec("25"), UnitPurchasePrice: decPtr("10.40"), EntryDate: day(2025, 2, 3)},
		{EntryType: models.StockEntryTypeAdjustment, Quantity: dec("-1"), EntryDate: day(2025, 2, 4)},
		{EntryType: models.StockEntryTypePurchase, Quantity: dec("3"), UnitPurchasePrice: decPtr("11.1"), EntryDate: day(2025, 2, 5)},
	}
	var incremental *models.StockSummary
	for _, in := range inputs {
		in.TenantId, in.ProductId = tenantId, productId
		_, incremental = appendEntry(t, db, in)
	}

	// Corrupt the cached row the way a crashed writer would.
	require.NoError(t, db.Exec("UPDATE stock_summaries SET total_qty = 1, avg_purchase_price = 1, total_value = 1 WHERE tenant_id = ? AND product_id = ?", tenantId, productId).Error)

	var dry *models.StockRebuildResult
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		dry, err = models.RebuildStockSummary(tx, tenantId, productId, true)
		return err
	}))
	assert.True(t, dry.Changed)
	assert.False(t, dry.Applied)
	requireDecimal(t, "1", dry.Before.Qty)

	var applied *models.StockRebuildResult
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = models.RebuildStockSummary(tx, tenantId, productId, false)
		return err
	}))
	assert.True(t, applied.Applied)
	assert.Equal(t, len(inputs), applied.EntryCount)

	rebuilt, err := models.GetStockSummary(db, tenantId, productId)
	require.NoError(t, err)
	requireDecimal(t, incremental.TotalQty.String(), rebuilt.TotalQty)
	requireDecimal(t, incremental.AvgPurchasePrice.String(), rebuilt.AvgPurchasePrice)
	requireDecimal(t, incremental.TotalValue.String(), rebuilt.TotalValue)

	// A second rebuild has nothing left to change.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		again, err := models.RebuildStockSummary(tx, tenantId, productId, false)
		if err == nil {
			assert.False(t, again.Changed)
		}
		return err
	}))
}

func TestLowStockAndStatistics(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)
	low := seedProduct(t, db, tenantId, "Candles")
	healthy := seedProduct(t, db, tenantId, "Matches")
	seedProduct(t, db, tenantId, "Never stocked")

	appendEntry(t, db, models.NewStockEntry{TenantId: tenantId, ProductId: low, EntryType: models.StockEntryTypeOpening, Quantity: dec("3"), UnitPurchasePrice: decPtr("2"), EntryDate: day(2025, 1, 1)})
	appendEntry(t, db, models.NewStockEntry{TenantId: tenantId, ProductId: healthy, EntryType: models.StockEntryTypeOpening, Quantity: dec("50"), UnitPurchasePrice: decPtr("1"), EntryDate: day(2025, 1, 1)})

	rows, err := models.GetLowStockProducts(db, tenantId)
	require.NoError(t, err)
	ids := []int{}
	for _, r := range rows {
		ids = append(ids, r.ProductId)
	}
	assert.Contains(t, ids, low)
	assert.NotContains(t, ids, healthy)

	stats, err := models.GetStockStatistics(db, tenantId)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ProductCount)
	assert.Equal(t, 2, stats.InStockCount)
	assert.Equal(t, 1, stats.OutOfStockCount)
	assert.Equal(t, 2, stats.LowStockCount)
	requireDecimal(t, "53", stats.TotalQty)
	requireDecimal(t, "56", stats.TotalValue)
}
