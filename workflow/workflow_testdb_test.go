package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

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

func newTestLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

func seedTenant(t *testing.T, db *gorm.DB) string {
	t.Helper()
	tenant, err := models.CreateTenant(db, "Corner Store")
	require.NoError(t, err)
	return tenant.ID
}

func seedProduct(t *testing.T, db *gorm.DB, tenantId string, name string) int {
	t.Helper()
	product, err := models.CreateProduct(db, tenantId, models.NewProduct{Name: name, Sku: name})
	require.NoError(t, err)
	return product.ID
}

func seedOpening(t *testing.T, db *gorm.DB, tenantId string, productId int, qty, price string) {
	t.Helper()
	p := dec(price)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := models.AppendStockEntry(tx, models.NewStockEntry{
			TenantId:          tenantId,
			ProductId:         productId,
			EntryType:         models.StockEntryTypeOpening,
			Quantity:          dec(qty),
			UnitPurchasePrice: &p,
			EntryDate:         day(1),
		})
		return err
	})
	require.NoError(t, err)
}

func day(d int) time.Time {
	return time.Date(2025, 4, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, tenantId string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where("tenant_id = ?", tenantId).Count(&n).Error)
	return n
}

// fakePublisher records published jobs instead of sending them to Pub/Sub.
type fakePublisher struct {
	mu       sync.Mutex
	messages []config.ReconciliationJobMessage
	err      error
}

func (p *fakePublisher) PublishReconciliationJob(_ context.Context, msg config.ReconciliationJobMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return uuid.NewString(), nil
}

func (p *fakePublisher) published() []config.ReconciliationJobMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]config.ReconciliationJobMessage(nil), p.messages...)
}
