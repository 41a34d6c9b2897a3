package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PeriodDiagnosticReport explains a product's quantity over a date window.
//
//	available = before + purchases - sales
//
// Movements dated after the window are reported separately so a historical
// window compares against the summary without a false mismatch.
type PeriodDiagnosticReport struct {
	TenantId        string          `json:"tenant_id"`
	ProductId       int             `json:"product_id"`
	ProductName     string          `json:"product_name"`
	WindowStart     time.Time       `json:"window_start"`
	WindowEnd       time.Time       `json:"window_end"`
	Before          decimal.Decimal `json:"before"`
	Purchases       decimal.Decimal `json:"purchases"`
	Sales           decimal.Decimal `json:"sales"`
	Available       decimal.Decimal `json:"available"`
	AfterWindow     decimal.Decimal `json:"after_window"`
	ExpectedCurrent decimal.Decimal `json:"expected_current"`
	SummaryQty      decimal.Decimal `json:"summary_qty"`
	Difference      decimal.Decimal `json:"difference"`
	EntryCount      int             `json:"entry_count"`
	Mismatch        bool            `json:"mismatch"`
}

// PeriodDiagnostic computes the window report for one product. Both ends of
// the window are inclusive calendar dates.
func PeriodDiagnostic(tx *gorm.DB, tenantId string, productId int, start, end time.Time) (*PeriodDiagnosticReport, error) {
	start, end = utils.DateOnly(start), utils.DateOnly(end)
	if end.Before(start) {
		return nil, newValidationError("window", "end date is before start date")
	}
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	product, err := GetProduct(tx, tenantId, productId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, newValidationError("product_id", "unknown product")
	}
	if err != nil {
		return nil, err
	}
	summary, err := GetStockSummary(tx, tenantId, productId)
	if err != nil {
		return nil, err
	}
	entries, err := ListStockEntriesChronological(tx, tenantId, productId)
	if err != nil {
		return nil, err
	}

	r := &PeriodDiagnosticReport{
		TenantId:    tenantId,
		ProductId:   productId,
		ProductName: product.Name,
		WindowStart: start,
		WindowEnd:   end,
		Before:      decimal.Zero,
		Purchases:   decimal.Zero,
		Sales:       decimal.Zero,
		AfterWindow: decimal.Zero,
		SummaryQty:  summary.TotalQty,
	}
	for _, e := range entries {
		day := utils.DateOnly(e.EntryDate)
		switch {
		case day.Before(start):
			r.Before = r.Before.Add(e.Quantity)
		case day.After(end):
			r.AfterWindow = r.AfterWindow.Add(e.Quantity)
		default:
			r.EntryCount++
			if e.Quantity.IsPositive() {
				r.Purchases = r.Purchases.Add(e.Quantity)
			} else {
				r.Sales = r.Sales.Add(e.Quantity.Abs())
			}
		}
	}
	r.Available = r.Before.Add(r.Purchases).Sub(r.Sales).Round(QtyPlaces)
	r.ExpectedCurrent = r.Available.Add(r.AfterWindow).Round(QtyPlaces)
	r.Difference = r.SummaryQty.Sub(r.ExpectedCurrent).Round(QtyPlaces)
	r.Mismatch = !r.Difference.IsZero()
	return r, nil
}

// PeriodDiagnosticAll runs the window report for every product that moved.
func PeriodDiagnosticAll(tx *gorm.DB, tenantId string, start, end time.Time) ([]PeriodDiagnosticReport, error) {
	ids, err := ListMovedProductIds(tx, tenantId)
	if err != nil {
		return nil, err
	}
	reports := make([]PeriodDiagnosticReport, 0, len(ids))
	for _, id := range ids {
		r, err := PeriodDiagnostic(tx, tenantId, id, start, end)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// SummaryDrift is a product whose cached summary disagrees with a full replay.
type SummaryDrift struct {
	ProductId int       `json:"product_id"`
	SummaryId int       `json:"summary_id"`
	Cached    Valuation `json:"cached"`
	Replayed  Valuation `json:"replayed"`
}

// CheckStockSummaryDrift replays every product's log and compares it with the
// cached summary. Read only.
func CheckStockSummaryDrift(tx *gorm.DB, tenantId string) ([]SummaryDrift, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	moved, err := ListMovedProductIds(tx, tenantId)
	if err != nil {
		return nil, err
	}
	summarized, err := ListSummarizedProductIds(tx, tenantId)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	drifts := []SummaryDrift{}
	for _, productId := range append(moved, summarized...) {
		if seen[productId] {
			continue
		}
		seen[productId] = true

		var cached []StockSummary
		if err := tx.Where("tenant_id = ? AND product_id = ?", tenantId, productId).Limit(1).Find(&cached).Error; err != nil {
			return nil, err
		}
		entries, err := ListStockEntriesChronological(tx, tenantId, productId)
		if err != nil {
			return nil, err
		}
		replayed := ReplayValuation(entries)
		drift := SummaryDrift{ProductId: productId, Replayed: replayed}
		if len(cached) > 0 {
			drift.SummaryId = cached[0].ID
			drift.Cached = cached[0].Valuation()
		}
		if !valuationsEqual(drift.Cached, replayed) {
			drifts = append(drifts, drift)
		}
	}
	return drifts, nil
}

// BankChainReport describes the first break in a tenant's running balance.
type BankChainReport struct {
	TenantId         string          `json:"tenant_id"`
	TransactionCount int             `json:"transaction_count"`
	BrokenCount      int             `json:"broken_count"`
	FirstBreakId     int             `json:"first_break_id"`
	Expected         decimal.Decimal `json:"expected"`
	Actual           decimal.Decimal `json:"actual"`
	ChainBalance     decimal.Decimal `json:"chain_balance"`
	AccountBalance   decimal.Decimal `json:"account_balance"`
	AccountMismatch  bool            `json:"account_mismatch"`
}

func (r BankChainReport) Consistent() bool {
	return r.BrokenCount == 0 && !r.AccountMismatch
}

// CheckBankBalanceChain verifies balance_after over (transaction_date, id) and
// that the bank account agrees with the end of the chain. Read only.
func CheckBankBalanceChain(tx *gorm.DB, tenantId string) (*BankChainReport, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	rows, err := listBankTransactionsChronological(tx, tenantId)
	if err != nil {
		return nil, err
	}
	r := &BankChainReport{TenantId: tenantId, TransactionCount: len(rows)}
	running := decimal.Zero
	for _, row := range rows {
		running = running.Add(row.SignedAmount()).Round(MoneyPlaces)
		if row.BalanceAfter.Equal(running) {
			continue
		}
		r.BrokenCount++
		if r.FirstBreakId == 0 {
			r.FirstBreakId = row.ID
			r.Expected = running
			r.Actual = row.BalanceAfter
		}
	}
	r.ChainBalance = running

	bank, err := findSystemAccount(tx, tenantId, AccountTypeBank)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}
	if bank != nil {
		r.AccountBalance = bank.CurrentBalance
	}
	r.AccountMismatch = !r.AccountBalance.Equal(r.ChainBalance)
	return r, nil
}
