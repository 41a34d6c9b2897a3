package reports

import (
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
)

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func joinIds(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

type duplicateRow models.DuplicateGroup

func (r duplicateRow) GetCellValues() []interface{} {
	g := models.DuplicateGroup(r)
	return []interface{}{string(g.ReferenceType), g.ReferenceId, g.ProductId, g.Count, g.KeepId(), joinIds(g.RedundantIds())}
}

func DuplicateSheet(groups []models.DuplicateGroup) Sheet {
	rows := make([]ExcelExporter, len(groups))
	for i, g := range groups {
		rows[i] = duplicateRow(g)
	}
	return Sheet{
		Name:     "Duplicates",
		Headings: []string{"ReferenceType", "ReferenceId", "ProductId", "Count", "KeepEntryId", "RedundantEntryIds"},
		Rows:     rows,
	}
}

type diagnosticRow models.PeriodDiagnosticReport

func (r diagnosticRow) GetCellValues() []interface{} {
	return []interface{}{
		r.ProductId, r.ProductName,
		r.WindowStart.Format(utils.DateLayout), r.WindowEnd.Format(utils.DateLayout),
		num(r.Before), num(r.Purchases), num(r.Sales), num(r.Available),
		num(r.AfterWindow), num(r.SummaryQty), num(r.Difference), r.Mismatch,
	}
}

func PeriodDiagnosticSheet(items []models.PeriodDiagnosticReport) Sheet {
	rows := make([]ExcelExporter, len(items))
	for i, d := range items {
		rows[i] = diagnosticRow(d)
	}
	return Sheet{
		Name: "PeriodDiagnostic",
		Headings: []string{"ProductId", "Product", "From", "To", "Before", "Purchases", "Sales", "Available",
			"AfterWindow", "SummaryQty", "Difference", "Mismatch"},
		Rows: rows,
	}
}

type driftRow models.SummaryDrift

func (r driftRow) GetCellValues() []interface{} {
	return []interface{}{
		r.ProductId, r.SummaryId,
		num(r.Cached.Qty), num(r.Replayed.Qty),
		num(r.Cached.AvgPrice), num(r.Replayed.AvgPrice),
		num(r.Cached.TotalValue), num(r.Replayed.TotalValue),
	}
}

func SummaryDriftSheet(drifts []models.SummaryDrift) Sheet {
	rows := make([]ExcelExporter, len(drifts))
	for i, d := range drifts {
		rows[i] = driftRow(d)
	}
	return Sheet{
		Name:     "SummaryDrift",
		Headings: []string{"ProductId", "SummaryId", "CachedQty", "ReplayedQty", "CachedAvg", "ReplayedAvg", "CachedValue", "ReplayedValue"},
		Rows:     rows,
	}
}

type dateMismatchRow models.DateMismatch

func (r dateMismatchRow) GetCellValues() []interface{} {
	return []interface{}{
		r.EntryId, r.ProductId, string(r.ReferenceType), r.ReferenceId,
		r.EntryDate.Format(utils.DateLayout), r.DocumentDate.Format(utils.DateLayout),
	}
}

func DateMismatchSheet(items []models.DateMismatch) Sheet {
	rows := make([]ExcelExporter, len(items))
	for i, m := range items {
		rows[i] = dateMismatchRow(m)
	}
	return Sheet{
		Name:     "DateMismatches",
		Headings: []string{"EntryId", "ProductId", "ReferenceType", "ReferenceId", "EntryDate", "DocumentDate"},
		Rows:     rows,
	}
}

type findingRow models.ReconciliationReport

func (r findingRow) GetCellValues() []interface{} {
	return []interface{}{string(r.CheckType), r.EntityType, r.EntityId, r.Details, r.CorrelationId}
}

// FindingsSheet lists persisted reconciliation_reports rows.
func FindingsSheet(items []models.ReconciliationReport) Sheet {
	rows := make([]ExcelExporter, len(items))
	for i, f := range items {
		rows[i] = findingRow(f)
	}
	return Sheet{
		Name:     "Findings",
		Headings: []string{"CheckType", "EntityType", "EntityId", "Details", "CorrelationId"},
		Rows:     rows,
	}
}
