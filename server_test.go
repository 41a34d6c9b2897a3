package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

type recordingPublisher struct {
	messages []config.ReconciliationJobMessage
}

func (p *recordingPublisher) PublishReconciliationJob(_ context.Context, msg config.ReconciliationJobMessage) (string, error) {
	p.messages = append(p.messages, msg)
	return "msg-" + msg.CorrelationId, nil
}

type testAPI struct {
	t         *testing.T
	router    *gin.Engine
	publisher *recordingPublisher
	tenantId  string
	productId int
}

// newTestAPI swaps the global DB for a fresh sqlite database. Tests using it
// must not run in parallel.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := config.OpenDatabase(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))

	previous := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(previous)
		_ = sqlDB.Close()
	})

	tenant, err := models.CreateTenant(db, "API Shop")
	require.NoError(t, err)
	product, err := models.CreateProduct(db, tenant.ID, models.NewProduct{Name: "Bread", Sku: "BRD", ReorderLevel: decimal.NewFromInt(2)})
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	publisher := &recordingPublisher{}
	s := &apiServer{logger: logger, publisher: publisher, ready: func() bool { return true }}
	return &testAPI{t: t, router: newRouter(s), publisher: publisher, tenantId: tenant.ID, productId: product.ID}
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "7")
	req.Header.Set("X-User-Name", "owner")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) path(suffix string) string {
	return "/api/tenants/" + a.tenantId + suffix
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestHealthzAndReadinessGate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ready := false
	r := newRouter(&apiServer{logger: logger, ready: func() bool { return ready }})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tenants/t/stock/low", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, w.Body.String())
}

func TestMovementEndpoints(t *testing.T) {
	api := newTestAPI(t)
	product := api.path("/products/" + strconv.Itoa(api.productId))

	w := api.do(http.MethodPost, api.path("/movements"), gin.H{
		"product_id": api.productId, "entry_type": "opening", "quantity": "10",
		"unit_purchase_price": "5", "entry_date": "2025-05-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodPost, api.path("/movements"), gin.H{
		"product_id": api.productId, "entry_type": "sale", "quantity": "4", "entry_date": "2025-05-02",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var invalid struct {
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, w, &invalid)
	assert.Contains(t, invalid.Fields, "Quantity")

	w = api.do(http.MethodPost, api.path("/movements"), gin.H{
		"product_id": api.productId, "entry_type": "opening", "quantity": "1", "entry_date": "05/01/2025",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(http.MethodPost, api.path("/movements"), `{"product_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, product+"/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stock struct {
		CurrentStock decimal.Decimal `json:"current_stock"`
		AverageCost  decimal.Decimal `json:"average_cost"`
		TotalValue   decimal.Decimal `json:"total_value"`
	}
	decodeBody(t, w, &stock)
	assert.True(t, stock.CurrentStock.Equal(decimal.NewFromInt(10)), stock.CurrentStock.String())
	assert.True(t, stock.AverageCost.Equal(decimal.NewFromInt(5)))
	assert.True(t, stock.TotalValue.Equal(decimal.NewFromInt(50)))

	w = api.do(http.MethodGet, product+"/history?order=sideways", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = api.do(http.MethodGet, product+"/history?order=asc&page_size=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history models.StockHistoryPage
	decodeBody(t, w, &history)
	assert.Len(t, history.Entries, 1)

	w = api.do(http.MethodGet, product+"/diagnostic?from=2025-05-01", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = api.do(http.MethodGet, product+"/diagnostic?from=2025-05-01&to=2025-05-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var diag models.PeriodDiagnosticReport
	decodeBody(t, w, &diag)
	assert.False(t, diag.Mismatch)

	w = api.do(http.MethodGet, api.path("/products/99999/stock"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = api.do(http.MethodGet, api.path("/products/abc/stock"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(http.MethodGet, api.path("/stock/statistics"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}

func TestSaleEndpointPostsBankCreditAndProtectsIt(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, api.path("/movements"), gin.H{
		"product_id": api.productId, "entry_type": "opening", "quantity": "5",
		"unit_purchase_price": "2", "entry_date": "2025-05-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodPost, api.path("/sales"), gin.H{
		"sale_number": "S-1", "sale_date": "2025-05-03", "received_amount": "9",
		"lines": []gin.H{{"product_id": api.productId, "quantity": "3", "unit_sale_price": "3"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sale struct {
		BankTransaction models.BankTransaction `json:"bank_transaction"`
	}
	decodeBody(t, w, &sale)
	require.NotZero(t, sale.BankTransaction.ID)

	w = api.do(http.MethodGet, api.path("/bank/balance"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Balance decimal.Decimal `json:"balance"`
	}
	decodeBody(t, w, &balance)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(9)))

	w = api.do(http.MethodDelete, api.path("/bank-transactions/"+strconv.Itoa(sale.BankTransaction.ID)), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodGet, api.path("/stock/low"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var low struct {
		Products []models.ProductStockLevel `json:"products"`
	}
	decodeBody(t, w, &low)
	require.Len(t, low.Products, 1)
	assert.Equal(t, api.productId, low.Products[0].ProductId)
}

func TestManualBankTransactionEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, api.path("/bank-transactions"), gin.H{
		"transaction_type": "credit", "category": "opening", "amount": "0", "transaction_date": "2025-05-01",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(http.MethodPost, api.path("/bank-transactions"), gin.H{
		"transaction_type": "debit", "category": "expense", "amount": "40", "transaction_date": "2025-05-02",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var txn models.BankTransaction
	decodeBody(t, w, &txn)

	w = api.do(http.MethodPut, api.path("/bank-transactions/"+strconv.Itoa(txn.ID)), gin.H{
		"transaction_type": "debit", "category": "expense", "amount": "45", "transaction_date": "2025-05-02",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, api.path("/bank-transactions?page=1&page_size=10"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.BankTransactionPage
	decodeBody(t, w, &page)
	require.Len(t, page.Transactions, 1)
	assert.True(t, page.Transactions[0].Amount.Equal(decimal.NewFromInt(45)))

	w = api.do(http.MethodDelete, api.path("/bank-transactions/"+strconv.Itoa(txn.ID)), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = api.do(http.MethodDelete, api.path("/bank-transactions/"+strconv.Itoa(txn.ID)), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPost, api.path("/fixed-assets"), gin.H{"name": "Oven", "acquisition_cost": "1200"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(http.MethodGet, api.path("/accounts"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Oven")
}

func TestReconciliationJobEndpoint(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, api.path("/reconciliation/jobs"), gin.H{"kind": "full_check"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		MessageId     string `json:"message_id"`
		CorrelationId string `json:"correlation_id"`
		DryRun        bool   `json:"dry_run"`
	}
	decodeBody(t, w, &accepted)
	assert.True(t, accepted.DryRun)
	require.Len(t, api.publisher.messages, 1)
	sent := api.publisher.messages[0]
	assert.Equal(t, api.tenantId, sent.TenantId)
	assert.Equal(t, "owner", sent.RequestedBy)
	assert.Equal(t, accepted.CorrelationId, sent.CorrelationId)
	assert.Equal(t, "msg-"+sent.CorrelationId, accepted.MessageId)

	w = api.do(http.MethodPost, api.path("/reconciliation/jobs"), gin.H{"kind": "period_diagnostic"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = api.do(http.MethodGet, api.path("/reconciliation/exports?kind=full_check"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = api.do(http.MethodGet, api.path("/reconciliation/exports?kind=full_check&correlation_id=..%2Fx"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = api.do(http.MethodGet, api.path("/reconciliation/exports?kind=bogus&correlation_id=abc"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(http.MethodPost, "/api/tenants/missing/reconciliation/jobs", gin.H{"kind": "full_check"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, api.publisher.messages, 1)
}

func TestPubSubPushAcksPermanentFailures(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/pubsub", "not json at all")
	assert.Equal(t, http.StatusNoContent, w.Code)

	push := func(data string) *httptest.ResponseRecorder {
		return api.do(http.MethodPost, "/pubsub", gin.H{
			"message":      gin.H{"id": "push-1", "data": []byte(data)},
			"subscription": "projects/p/subscriptions/recon",
		})
	}
	assert.Equal(t, http.StatusNoContent, push(`{"kind":"nope"}`).Code)

	w = push(`{"tenant_id":"` + api.tenantId + `","kind":"full_check","dry_run":true}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodGet, api.path("/reconciliation/reports?correlation_id=push-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Reports []models.ReconciliationReport `json:"reports"`
	}
	decodeBody(t, w, &listed)
	assert.Empty(t, listed.Reports)
}

func TestRespondErrorStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &apiServer{}

	cases := []struct {
		err    error
		status int
	}{
		{models.ValidationErrors{{Field: "Quantity", Message: "must not be zero"}}, http.StatusUnprocessableEntity},
		{fmt.Errorf("load product: %w", utils.ErrorRecordNotFound), http.StatusNotFound},
		{models.ErrSystemTransactionImmutable, http.StatusConflict},
		{fmt.Errorf("post sale: %w", utils.ErrorConflictRetriesExhausted), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		s.respondError(c, tc.err)
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)
		if tc.status == http.StatusServiceUnavailable {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
}
