package main

import (
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type bankTransactionRequest struct {
	TransactionType models.BankTransactionType `json:"transaction_type"`
	Category        string                     `json:"category"`
	Amount          decimal.Decimal            `json:"amount"`
	TransactionDate string                     `json:"transaction_date"`
	Description     string                     `json:"description"`
	ReferenceId     *int                       `json:"reference_id"`
	ReferenceType   *models.BankReferenceType  `json:"reference_type"`
}

func (s *apiServer) recordBankTransactionHandler(c *gin.Context) {
	var req bankTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, ok := dateField(c, "transaction_date", req.TransactionDate)
	if !ok {
		return
	}
	txn, err := workflow.RecordBankTransaction(c.Request.Context(), config.GetDB(), models.NewBankTransaction{
		TenantId:        tenantId(c),
		TransactionType: req.TransactionType,
		Category:        strings.TrimSpace(req.Category),
		Amount:          req.Amount,
		TransactionDate: date,
		Description:     req.Description,
		ReferenceId:     req.ReferenceId,
		ReferenceType:   req.ReferenceType,
		CreatedBy:       currentUserId(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (s *apiServer) listBankTransactionsHandler(c *gin.Context) {
	page, err := models.ListBankTransactions(s.db(c), tenantId(c), pageQuery(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type updateBankTransactionRequest struct {
	TransactionType models.BankTransactionType `json:"transaction_type"`
	Category        string                     `json:"category"`
	Amount          decimal.Decimal            `json:"amount"`
	TransactionDate string                     `json:"transaction_date"`
	Description     string                     `json:"description"`
}

func (s *apiServer) updateBankTransactionHandler(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req updateBankTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, ok := dateField(c, "transaction_date", req.TransactionDate)
	if !ok {
		return
	}
	txn, err := workflow.UpdateBankTransaction(c.Request.Context(), config.GetDB(), tenantId(c), id, models.UpdateBankTransactionInput{
		TransactionType: req.TransactionType,
		Category:        strings.TrimSpace(req.Category),
		Amount:          req.Amount,
		TransactionDate: date,
		Description:     req.Description,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (s *apiServer) deleteBankTransactionHandler(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := workflow.DeleteBankTransaction(c.Request.Context(), config.GetDB(), tenantId(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) bankBalanceHandler(c *gin.Context) {
	balance, err := models.GetCurrentBalance(s.db(c), tenantId(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantId(c), "balance": balance})
}

func (s *apiServer) listAccountsHandler(c *gin.Context) {
	accounts, err := models.ListAccounts(s.db(c), tenantId(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *apiServer) createFixedAssetHandler(c *gin.Context) {
	var req models.NewFixedAssetAccount
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var account *models.Account
	err := s.db(c).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = models.CreateFixedAssetAccount(tx, tenantId(c), req)
		return err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

type reconciliationJobRequest struct {
	Kind        workflow.ReconciliationJobKind `json:"kind"`
	ProductId   int                            `json:"product_id"`
	DryRun      *bool                          `json:"dry_run"`
	WindowStart string                         `json:"window_start"`
	WindowEnd   string                         `json:"window_end"`
}

// enqueueReconciliationJobHandler publishes a job for the worker. Jobs are dry
// runs unless the caller explicitly sends dry_run=false.
func (s *apiServer) enqueueReconciliationJobHandler(c *gin.Context) {
	if s.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job publishing is not configured"})
		return
	}
	var req reconciliationJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, ok := dateField(c, "window_start", req.WindowStart)
	if !ok {
		return
	}
	end, ok := dateField(c, "window_end", req.WindowEnd)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := models.GetTenant(s.db(c), tenantId(c)); err != nil {
		s.respondError(c, err)
		return
	}
	requestedBy, _ := utils.GetUserNameFromContext(ctx)
	job := workflow.ReconciliationJob{
		TenantId:      tenantId(c),
		Kind:          workflow.ReconciliationJobKind(strings.ToLower(strings.TrimSpace(string(req.Kind)))),
		ProductId:     req.ProductId,
		DryRun:        utils.DereferencePtr(req.DryRun, true),
		WindowStart:   start,
		WindowEnd:     end,
		RequestedBy:   requestedBy,
		CorrelationId: utils.CorrelationIdOrNew(ctx),
	}
	messageId, err := workflow.EnqueueReconciliationJob(ctx, s.publisher, job)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message_id":     messageId,
		"correlation_id": job.CorrelationId,
		"kind":           job.Kind,
		"dry_run":        job.DryRun,
	})
}

func (s *apiServer) listReconciliationReportsHandler(c *gin.Context) {
	rows, err := models.ListReconciliationReports(s.db(c), tenantId(c), strings.TrimSpace(c.Query("correlation_id")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": rows})
}

const exportLinkTTL = 15 * time.Minute

// reconciliationExportHandler returns a signed download link for the xlsx a
// job uploaded (RECONCILIATION_REPORT_UPLOAD=true).
func (s *apiServer) reconciliationExportHandler(c *gin.Context) {
	correlationId := strings.TrimSpace(c.Query("correlation_id"))
	kind := workflow.ReconciliationJobKind(strings.ToLower(strings.TrimSpace(c.Query("kind"))))
	if correlationId == "" {
		fieldError(c, "correlation_id", "is required")
		return
	}
	if !kind.IsValid() {
		fieldError(c, "kind", "unknown job kind")
		return
	}
	key, err := utils.ReportObjectKey(tenantId(c), string(kind), correlationId)
	if err != nil {
		fieldError(c, "correlation_id", "contains invalid characters")
		return
	}

	ctx := c.Request.Context()
	exists, err := utils.ObjectExistsInGCS(ctx, key)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
		return
	}
	link, err := utils.SignReportDownload(ctx, key, exportLinkTTL)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        link.URL,
		"expires_at": link.ExpiresAt,
		"object_key": link.ObjectKey,
		"access_url": utils.BuildObjectAccessURL(key),
	})
}
