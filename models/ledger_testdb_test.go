package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB opens a private in-memory sqlite database with the ledger schema.
// One connection keeps every statement on the same memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func seedTenant(t *testing.T, db *gorm.DB) string {
	t.Helper()
	tenant, err := models.CreateTenant(db, "Test Shop")
	require.NoError(t, err)
	return tenant.ID
}

func seedProduct(t *testing.T, db *gorm.DB, tenantId string, name string) int {
	t.Helper()
	product, err := models.CreateProduct(db, tenantId, models.NewProduct{
		Name:         name,
		Sku:          name,
		ReorderLevel: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	return product.ID
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

// appendEntry runs one append in its own transaction, like the posting workflow does.
func appendEntry(t *testing.T, db *gorm.DB, input models.NewStockEntry) (*models.StockEntry, *models.StockSummary) {
	t.Helper()
	var entry *models.StockEntry
	var summary *models.StockSummary
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, summary, err = models.AppendStockEntry(tx, input)
		return err
	})
	require.NoError(t, err)
	return entry, summary
}

func appendBank(t *testing.T, db *gorm.DB, input models.NewBankTransaction) *models.BankTransaction {
	t.Helper()
	var txn *models.BankTransaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = models.AppendBankTransaction(tx, input)
		return err
	})
	require.NoError(t, err)
	return txn
}
