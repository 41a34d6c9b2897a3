package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// respondError maps ledger errors onto status codes. Validation problems are
// 422 with a per-field map; anything unrecognised is logged and hidden.
func (s *apiServer) respondError(c *gin.Context, err error) {
	var verrs models.ValidationErrors
	var verr models.ValidationError
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verrs.Error(), "fields": verrs.Fields()})
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "fields": map[string]string{verr.Field: verr.Message}})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrSystemTransactionImmutable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorConflictRetriesExhausted):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger is busy, retry the request"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

func fieldError(c *gin.Context, field, message string) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":  field + ": " + message,
		"fields": map[string]string{field: message},
	})
}

func tenantId(c *gin.Context) string {
	return strings.TrimSpace(c.Param("tenant_id"))
}

func currentUserId(c *gin.Context) int {
	id, _ := utils.GetUserIdFromContext(c.Request.Context())
	return id
}

func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		fieldError(c, name, "must be a positive integer")
		return 0, false
	}
	return id, true
}

// dateField parses an optional YYYY-MM-DD value; empty stays zero and is left
// for the ledger's own required-field check.
func dateField(c *gin.Context, field, value string) (time.Time, bool) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, true
	}
	d, err := utils.ParseDate(value)
	if err != nil {
		fieldError(c, field, "must be a date in YYYY-MM-DD format")
		return time.Time{}, false
	}
	return d, true
}

func pageQuery(c *gin.Context) models.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	return models.Page{Number: page, Size: size}.Normalize()
}

type movementRequest struct {
	ProductId         int                        `json:"product_id"`
	EntryType         models.StockEntryType      `json:"entry_type"`
	Quantity          decimal.Decimal            `json:"quantity"`
	EntryDate         string                     `json:"entry_date"`
	UnitPurchasePrice *decimal.Decimal           `json:"unit_purchase_price"`
	UnitSalePrice     *decimal.Decimal           `json:"unit_sale_price"`
	ReferenceId       *int                       `json:"reference_id"`
	ReferenceType     *models.StockReferenceType `json:"reference_type"`
	Note              string                     `json:"note"`
}

func (s *apiServer) recordMovementHandler(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entryDate, ok := dateField(c, "entry_date", req.EntryDate)
	if !ok {
		return
	}
	result, err := workflow.RecordMovement(c.Request.Context(), config.GetDB(), models.NewStockEntry{
		TenantId:          tenantId(c),
		ProductId:         req.ProductId,
		EntryType:         req.EntryType,
		Quantity:          req.Quantity,
		EntryDate:         entryDate,
		UnitPurchasePrice: req.UnitPurchasePrice,
		UnitSalePrice:     req.UnitSalePrice,
		ReferenceId:       req.ReferenceId,
		ReferenceType:     req.ReferenceType,
		Note:              req.Note,
		CreatedBy:         currentUserId(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type saleRequest struct {
	SaleNumber     string              `json:"sale_number"`
	SaleDate       string              `json:"sale_date"`
	Lines          []workflow.SaleLine `json:"lines"`
	ReceivedAmount decimal.Decimal     `json:"received_amount"`
	Note           string              `json:"note"`
}

func (s *apiServer) postSaleHandler(c *gin.Context) {
	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	saleDate, ok := dateField(c, "sale_date", req.SaleDate)
	if !ok {
		return
	}
	result, err := workflow.PostSale(c.Request.Context(), config.GetDB(), workflow.NewSale{
		TenantId:       tenantId(c),
		SaleNumber:     req.SaleNumber,
		SaleDate:       saleDate,
		Lines:          req.Lines,
		ReceivedAmount: req.ReceivedAmount,
		Note:           req.Note,
		CreatedBy:      currentUserId(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type purchaseRequest struct {
	PurchaseNumber string                  `json:"purchase_number"`
	PurchaseDate   string                  `json:"purchase_date"`
	Lines          []workflow.PurchaseLine `json:"lines"`
	PaidAmount     decimal.Decimal         `json:"paid_amount"`
	Note           string                  `json:"note"`
}

func (s *apiServer) postPurchaseHandler(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	purchaseDate, ok := dateField(c, "purchase_date", req.PurchaseDate)
	if !ok {
		return
	}
	result, err := workflow.PostPurchase(c.Request.Context(), config.GetDB(), workflow.NewPurchase{
		TenantId:       tenantId(c),
		PurchaseNumber: req.PurchaseNumber,
		PurchaseDate:   purchaseDate,
		Lines:          req.Lines,
		PaidAmount:     req.PaidAmount,
		Note:           req.Note,
		CreatedBy:      currentUserId(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *apiServer) productStockHandler(c *gin.Context) {
	productId, ok := intParam(c, "product_id")
	if !ok {
		return
	}
	summary, err := models.GetStockSummary(s.db(c), tenantId(c), productId)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":     summary.TenantId,
		"product_id":    summary.ProductId,
		"current_stock": summary.TotalQty,
		"average_cost":  summary.AvgPurchasePrice,
		"total_value":   summary.TotalValue,
	})
}

func (s *apiServer) averageCostHandler(c *gin.Context) {
	productId, ok := intParam(c, "product_id")
	if !ok {
		return
	}
	avg, err := models.GetAverageCost(s.db(c), tenantId(c), productId)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productId, "average_cost": avg})
}

func (s *apiServer) stockHistoryHandler(c *gin.Context) {
	productId, ok := intParam(c, "product_id")
	if !ok {
		return
	}
	order, err := models.ParseHistoryOrder(c.Query("order"))
	if err != nil {
		fieldError(c, "order", "must be asc or desc")
		return
	}
	db := s.db(c)
	if _, err := models.GetProduct(db, tenantId(c), productId); err != nil {
		s.respondError(c, err)
		return
	}
	page, err := models.GetStockHistory(db, tenantId(c), productId, pageQuery(c), order)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *apiServer) periodDiagnosticHandler(c *gin.Context) {
	productId, ok := intParam(c, "product_id")
	if !ok {
		return
	}
	if c.Query("from") == "" || c.Query("to") == "" {
		fieldError(c, "window", "from and to are required")
		return
	}
	from, ok := dateField(c, "from", c.Query("from"))
	if !ok {
		return
	}
	to, ok := dateField(c, "to", c.Query("to"))
	if !ok {
		return
	}
	report, err := models.PeriodDiagnostic(s.db(c), tenantId(c), productId, from, to)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *apiServer) lowStockHandler(c *gin.Context) {
	rows, err := models.GetLowStockProducts(s.db(c), tenantId(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": rows})
}

func (s *apiServer) stockStatisticsHandler(c *gin.Context) {
	stats, cached, err := reports.GetStockStatisticsCached(c.Request.Context(), config.GetDB(), tenantId(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, stats)
}
