package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type ReconciliationJobKind string

const (
	JobKindStockRebuild     ReconciliationJobKind = "stock_rebuild"
	JobKindBankRecompute    ReconciliationJobKind = "bank_recompute"
	JobKindDuplicateScan    ReconciliationJobKind = "duplicate_scan"
	JobKindDateFix          ReconciliationJobKind = "date_fix"
	JobKindPeriodDiagnostic ReconciliationJobKind = "period_diagnostic"
	JobKindFullCheck        ReconciliationJobKind = "full_check"
)

func (k ReconciliationJobKind) IsValid() bool {
	switch k {
	case JobKindStockRebuild, JobKindBankRecompute, JobKindDuplicateScan, JobKindDateFix, JobKindPeriodDiagnostic, JobKindFullCheck:
		return true
	}
	return false
}

const reconciliationLockTTL = 30 * time.Second

// ErrMalformedJob marks a job that can never succeed; consumers ack it instead of retrying.
var ErrMalformedJob = errors.New("malformed reconciliation job")

type ReconciliationJob struct {
	TenantId      string
	Kind          ReconciliationJobKind
	ProductId     int
	DryRun        bool
	WindowStart   time.Time
	WindowEnd     time.Time
	RequestedBy   string
	CorrelationId string
}

func (j ReconciliationJob) Validate() error {
	var verrs models.ValidationErrors
	if strings.TrimSpace(j.TenantId) == "" {
		verrs.Add("tenant_id", "is required")
	}
	if !j.Kind.IsValid() {
		verrs.Add("kind", "must be one of stock_rebuild bank_recompute duplicate_scan date_fix period_diagnostic full_check")
	}
	if j.Kind == JobKindPeriodDiagnostic {
		if j.WindowStart.IsZero() || j.WindowEnd.IsZero() {
			verrs.Add("window", "window_start and window_end are required")
		} else if j.WindowEnd.Before(j.WindowStart) {
			verrs.Add("window", "end date is before start date")
		}
	}
	if j.ProductId < 0 {
		verrs.Add("product_id", "must not be negative")
	}
	return verrs.OrNil()
}

func (j ReconciliationJob) Message() config.ReconciliationJobMessage {
	msg := config.ReconciliationJobMessage{
		TenantId:      j.TenantId,
		Kind:          string(j.Kind),
		ProductId:     j.ProductId,
		DryRun:        j.DryRun,
		RequestedBy:   j.RequestedBy,
		CorrelationId: j.CorrelationId,
	}
	if !j.WindowStart.IsZero() {
		msg.WindowStart = j.WindowStart.Format(utils.DateLayout)
	}
	if !j.WindowEnd.IsZero() {
		msg.WindowEnd = j.WindowEnd.Format(utils.DateLayout)
	}
	return msg
}

// JobFromMessage decodes a Pub/Sub payload. Failures wrap ErrMalformedJob.
func JobFromMessage(msg config.ReconciliationJobMessage) (ReconciliationJob, error) {
	job := ReconciliationJob{
		TenantId:      strings.TrimSpace(msg.TenantId),
		Kind:          ReconciliationJobKind(strings.ToLower(strings.TrimSpace(msg.Kind))),
		ProductId:     msg.ProductId,
		DryRun:        msg.DryRun,
		RequestedBy:   msg.RequestedBy,
		CorrelationId: msg.CorrelationId,
	}
	var err error
	if msg.WindowStart != "" {
		if job.WindowStart, err = utils.ParseDate(msg.WindowStart); err != nil {
			return job, fmt.Errorf("%w: %v", ErrMalformedJob, err)
		}
	}
	if msg.WindowEnd != "" {
		if job.WindowEnd, err = utils.ParseDate(msg.WindowEnd); err != nil {
			return job, fmt.Errorf("%w: %v", ErrMalformedJob, err)
		}
	}
	if err := job.Validate(); err != nil {
		return job, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return job, nil
}

type ReconciliationJobResult struct {
	TenantId      string                          `json:"tenant_id"`
	Kind          ReconciliationJobKind           `json:"kind"`
	DryRun        bool                            `json:"dry_run"`
	CorrelationId string                          `json:"correlation_id"`
	Findings      int                             `json:"findings"`
	ReportURI     string                          `json:"report_uri,omitempty"`
	Rebuild       *TenantRebuildResult            `json:"rebuild,omitempty"`
	Bank          *models.BankRecomputeResult     `json:"bank,omitempty"`
	Duplicates    *DuplicateCleanupResult         `json:"duplicates,omitempty"`
	Dates         *models.DateFixResult           `json:"dates,omitempty"`
	Diagnostics   []models.PeriodDiagnosticReport `json:"diagnostics,omitempty"`
	Drifts        []models.SummaryDrift           `json:"drifts,omitempty"`
	BankChain     *models.BankChainReport         `json:"bank_chain,omitempty"`

	findings []models.ReconciliationReport
	sheets   []reports.Sheet
}

func (r *ReconciliationJobResult) addFinding(checkType models.ReconciliationCheckType, entityType string, entityId int, details string) {
	r.findings = append(r.findings, models.ReconciliationReport{
		TenantId:      r.TenantId,
		CheckType:     checkType,
		EntityType:    entityType,
		EntityId:      entityId,
		Details:       details,
		CorrelationId: r.CorrelationId,
	})
}

// ProcessReconciliationJob runs one job against a tenant, persists its findings
// to reconciliation_reports and, when enabled, uploads an xlsx of them.
// A best-effort redis lock keeps two workers off the same tenant; row locks
// still guard every repair when redis is unavailable.
func ProcessReconciliationJob(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob) (result *ReconciliationJobResult, err error) {
	logger = loggerOrDefault(logger)
	if job.CorrelationId == "" {
		job.CorrelationId = utils.CorrelationIdOrNew(ctx)
	}
	ctx = utils.SetCorrelationIdInContext(ctx, job.CorrelationId)
	ctx = utils.SetTenantIdInContext(ctx, job.TenantId)
	ctx, span := startSpan(ctx, "workflow.ProcessReconciliationJob", job.TenantId,
		attribute.String("kind", string(job.Kind)),
		attribute.Bool("dry_run", job.DryRun),
		attribute.String("correlation_id", job.CorrelationId))
	defer func() { endSpan(span, err) }()

	if err = job.Validate(); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"tenant_id":      job.TenantId,
		"kind":           job.Kind,
		"dry_run":        job.DryRun,
		"correlation_id": job.CorrelationId,
	}
	logger.WithFields(fields).Info("recon.job.start")

	lock, lockErr := utils.ObtainTenantLock(ctx, job.TenantId, "recon", reconciliationLockTTL, "reconciliationJob.go", "ProcessReconciliationJob")
	if lockErr != nil {
		logger.WithFields(fields).Warn("could not obtain reconciliation lock; proceeding without redis lock: " + lockErr.Error())
	}
	defer utils.ReleaseTenantLock(context.Background(), lock)

	result = &ReconciliationJobResult{
		TenantId:      job.TenantId,
		Kind:          job.Kind,
		DryRun:        job.DryRun,
		CorrelationId: job.CorrelationId,
	}
	if err = runJob(ctx, db, logger, job, result); err != nil {
		config.LogError(logger, "reconciliationJob.go", "ProcessReconciliationJob", "Running job", job.Message(), err)
		logger.WithFields(fields).Error("recon.job.failed")
		return nil, err
	}

	if err = models.SaveReconciliationReports(db.WithContext(ctx), result.findings); err != nil {
		config.LogError(logger, "reconciliationJob.go", "ProcessReconciliationJob", "Saving findings", job.Message(), err)
		return nil, err
	}
	result.Findings = len(result.findings)

	if config.ReconciliationReportUploadEnabled() && result.Findings > 0 {
		uri, uploadErr := uploadJobReport(ctx, result)
		if uploadErr != nil {
			config.LogError(logger, "reconciliationJob.go", "ProcessReconciliationJob", "Uploading report", job.Message(), uploadErr)
		}
		result.ReportURI = uri
	}

	fields["findings"] = result.Findings
	fields["report_uri"] = result.ReportURI
	logger.WithFields(fields).Info("recon.job.done")
	return result, nil
}

func uploadJobReport(ctx context.Context, result *ReconciliationJobResult) (string, error) {
	sheets := append([]reports.Sheet{reports.FindingsSheet(result.findings)}, result.sheets...)
	data, err := reports.WriteWorkbook(sheets...)
	if err != nil {
		return "", err
	}
	objectName, err := utils.ReportObjectKey(result.TenantId, string(result.Kind), result.CorrelationId)
	if err != nil {
		return "", err
	}
	return utils.UploadBytesToGCS(ctx, objectName, data, utils.XlsxContentType)
}

func runJob(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob, result *ReconciliationJobResult) error {
	switch job.Kind {
	case JobKindStockRebuild:
		return runStockRebuild(ctx, db, logger, job, result)
	case JobKindBankRecompute:
		return runBankRecompute(ctx, db, logger, job, result)
	case JobKindDuplicateScan:
		return runDuplicateScan(ctx, db, logger, job, result)
	case JobKindDateFix:
		return runDateFix(ctx, db, logger, job, result)
	case JobKindPeriodDiagnostic:
		return runPeriodDiagnostic(ctx, db, job, result)
	case JobKindFullCheck:
		return runFullCheck(ctx, db, logger, job, result)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, job.Kind)
}

func runStockRebuild(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob, result *ReconciliationJobResult) error {
	var productIds []int
	if job.ProductId > 0 {
		productIds = []int{job.ProductId}
	}
	rebuild, err := RebuildTenantStockSummaries(ctx, db, logger, job.TenantId, productIds, job.DryRun)
	if err != nil {
		return err
	}
	result.Rebuild = rebuild
	for _, p := range rebuild.Products {
		if !p.Changed {
			continue
		}
		result.addFinding(models.CheckTypeStockSummaryDrift, "Product", p.ProductId, fmt.Sprintf(
			"summary qty=%s avg=%s value=%s, replay qty=%s avg=%s value=%s, applied=%t",
			p.Before.Qty, p.Before.AvgPrice, p.Before.TotalValue,
			p.After.Qty, p.After.AvgPrice, p.After.TotalValue, p.Applied))
	}
	return nil
}

func runBankRecompute(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob, result *ReconciliationJobResult) error {
	// detect first so the finding names the first broken row
	chain, err := models.CheckBankBalanceChain(db.WithContext(ctx), job.TenantId)
	if err != nil {
		return err
	}
	result.BankChain = chain
	addBankChainFinding(result, chain)

	bank, err := RecomputeTenantBankBalances(ctx, db, logger, job.TenantId, job.DryRun)
	if err != nil {
		return err
	}
	result.Bank = bank
	return nil
}

func addBankChainFinding(result *ReconciliationJobResult, chain *models.BankChainReport) {
	if chain.BrokenCount > 0 {
		result.addFinding(models.CheckTypeBankBalanceChain, "BankTransaction", chain.FirstBreakId, fmt.Sprintf(
			"balance_after=%s expected=%s (%d rows out of chain)", chain.Actual, chain.Expected, chain.BrokenCount))
	}
	if chain.AccountMismatch {
		result.addFinding(models.CheckTypeBankBalanceChain, "Account", 0, fmt.Sprintf(
			"bank account current_balance=%s chain ends at %s", chain.AccountBalance, chain.ChainBalance))
	}
}

func runDuplicateScan(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob, result *ReconciliationJobResult) error {
	cleanup, err := CleanupDuplicateMovements(ctx, db, logger, job.TenantId, job.DryRun, true)
	if err != nil {
		return err
	}
	result.Duplicates = cleanup
	result.Rebuild = result.Rebuild.merge(cleanup.Rebuild)
	for _, g := range cleanup.Groups {
		result.addFinding(models.CheckTypeStockDuplicate, "StockEntry", g.KeepId(), fmt.Sprintf(
			"%s #%d product %d posted %d times; redundant entries %v", g.ReferenceType, g.ReferenceId, g.ProductId, g.Count, g.RedundantIds()))
	}
	if len(cleanup.Groups) > 0 {
		result.sheets = append(result.sheets, reports.DuplicateSheet(cleanup.Groups))
	}
	return nil
}

func runDateFix(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob, result *ReconciliationJobResult) error {
	dates, err := FixEntryDates(ctx, db, logger, job.TenantId, job.DryRun)
	if err != nil {
		return err
	}
	result.Dates = dates
	for _, m := range dates.Mismatches {
		result.addFinding(models.CheckTypeStockDateMismatch, "StockEntry", m.EntryId, fmt.Sprintf(
			"entry_date=%s %s #%d date=%s", m.EntryDate.Format(utils.DateLayout), m.ReferenceType, m.ReferenceId, m.DocumentDate.Format(utils.DateLayout)))
	}
	if len(dates.Mismatches) > 0 {
		result.sheets = append(result.sheets, reports.DateMismatchSheet(dates.Mismatches))
	}
	return nil
}

func runPeriodDiagnostic(ctx context.Context, db *gorm.DB, job ReconciliationJob, result *ReconciliationJobResult) error {
	tx := db.WithContext(ctx)
	var diagnostics []models.PeriodDiagnosticReport
	if job.ProductId > 0 {
		r, err := models.PeriodDiagnostic(tx, job.TenantId, job.ProductId, job.WindowStart, job.WindowEnd)
		if err != nil {
			return err
		}
		diagnostics = []models.PeriodDiagnosticReport{*r}
	} else {
		var err error
		if diagnostics, err = models.PeriodDiagnosticAll(tx, job.TenantId, job.WindowStart, job.WindowEnd); err != nil {
			return err
		}
	}
	result.Diagnostics = diagnostics
	for _, d := range diagnostics {
		if !d.Mismatch {
			continue
		}
		result.addFinding(models.CheckTypeStockPeriodDiagnostic, "Product", d.ProductId, fmt.Sprintf(
			"%s..%s before=%s purchases=%s sales=%s available=%s after=%s summary=%s difference=%s",
			d.WindowStart.Format(utils.DateLayout), d.WindowEnd.Format(utils.DateLayout),
			d.Before, d.Purchases, d.Sales, d.Available, d.AfterWindow, d.SummaryQty, d.Difference))
	}
	result.sheets = append(result.sheets, reports.PeriodDiagnosticSheet(diagnostics))
	return nil
}

// runFullCheck detects every known inconsistency. Without DryRun it repairs
// them in dependency order: duplicates, dates, summaries, bank chain. Date
// changes alter replay order, so the drift check after them picks up the
// products that need a rebuild.
func runFullCheck(ctx context.Context, db *gorm.DB, logger *logrus.Logger, job ReconciliationJob, result *ReconciliationJobResult) error {
	if err := runDuplicateScan(ctx, db, logger, job, result); err != nil {
		return err
	}
	if err := runDateFix(ctx, db, logger, job, result); err != nil {
		return err
	}

	drifts, err := models.CheckStockSummaryDrift(db.WithContext(ctx), job.TenantId)
	if err != nil {
		return err
	}
	result.Drifts = drifts
	for _, d := range drifts {
		result.addFinding(models.CheckTypeStockSummaryDrift, "Product", d.ProductId, fmt.Sprintf(
			"summary qty=%s avg=%s value=%s, replay qty=%s avg=%s value=%s",
			d.Cached.Qty, d.Cached.AvgPrice, d.Cached.TotalValue,
			d.Replayed.Qty, d.Replayed.AvgPrice, d.Replayed.TotalValue))
	}
	if len(drifts) > 0 {
		result.sheets = append(result.sheets, reports.SummaryDriftSheet(drifts))
		if !job.DryRun {
			ids := make([]int, len(drifts))
			for i, d := range drifts {
				ids[i] = d.ProductId
			}
			rebuild, err := RebuildTenantStockSummaries(ctx, db, logger, job.TenantId, ids, false)
			if err != nil {
				return err
			}
			result.Rebuild = result.Rebuild.merge(rebuild)
		}
	}

	chain, err := models.CheckBankBalanceChain(db.WithContext(ctx), job.TenantId)
	if err != nil {
		return err
	}
	result.BankChain = chain
	addBankChainFinding(result, chain)
	if !chain.Consistent() && !job.DryRun {
		if result.Bank, err = RecomputeTenantBankBalances(ctx, db, logger, job.TenantId, false); err != nil {
			return err
		}
	}
	return nil
}
