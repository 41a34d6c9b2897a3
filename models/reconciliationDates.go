package models

import (
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"gorm.io/gorm"
)

// DateMismatch is a document-linked entry whose entry_date drifted from its document.
type DateMismatch struct {
	EntryId       int                `json:"entry_id"`
	ProductId     int                `json:"product_id"`
	ReferenceType StockReferenceType `json:"reference_type"`
	ReferenceId   int                `json:"reference_id"`
	EntryDate     time.Time          `json:"entry_date"`
	DocumentDate  time.Time          `json:"document_date"`
}

type DateFixResult struct {
	TenantId               string         `json:"tenant_id"`
	SaleEntriesUpdated     int            `json:"sale_entries_updated"`
	PurchaseEntriesUpdated int            `json:"purchase_entries_updated"`
	Mismatches             []DateMismatch `json:"mismatches"`
	AffectedProductIds     []int          `json:"affected_product_ids"`
	DryRun                 bool           `json:"dry_run"`
}

type linkedEntryDate struct {
	EntryId      int
	ProductId    int
	ReferenceId  int
	EntryDate    time.Time
	DocumentDate time.Time
}

// linkedEntryDates joins entries of one reference type to their document header.
// Dates are compared in Go so drivers that return DATE columns differently agree.
func linkedEntryDates(tx *gorm.DB, tenantId string, refType StockReferenceType, table, dateColumn string) ([]linkedEntryDate, error) {
	var rows []linkedEntryDate
	err := tx.Table("stock_entries").
		Select("stock_entries.id AS entry_id, stock_entries.product_id, stock_entries.reference_id, "+
			"stock_entries.entry_date, "+table+"."+dateColumn+" AS document_date").
		Joins("JOIN "+table+" ON "+table+".id = stock_entries.reference_id AND "+table+".tenant_id = stock_entries.tenant_id").
		Where("stock_entries.tenant_id = ? AND stock_entries.reference_type = ?", tenantId, refType).
		Order("stock_entries.id").
		Scan(&rows).Error
	return rows, err
}

// FixMismatchedDates realigns sale and purchase entries with their document
// date. A second run finds nothing to update. Moving entries changes replay
// order, so callers rebuild AffectedProductIds afterwards.
func FixMismatchedDates(tx *gorm.DB, tenantId string, dryRun bool) (*DateFixResult, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	res := &DateFixResult{
		TenantId:           tenantId,
		DryRun:             dryRun,
		Mismatches:         []DateMismatch{},
		AffectedProductIds: []int{},
	}
	affected := map[int]bool{}

	sources := []struct {
		refType StockReferenceType
		table   string
		column  string
		counter *int
	}{
		{StockReferenceTypeSale, "sales", "sale_date", &res.SaleEntriesUpdated},
		{StockReferenceTypePurchase, "purchases", "purchase_date", &res.PurchaseEntriesUpdated},
	}
	for _, src := range sources {
		rows, err := linkedEntryDates(tx, tenantId, src.refType, src.table, src.column)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if utils.SameDate(r.EntryDate, r.DocumentDate) {
				continue
			}
			docDate := utils.DateOnly(r.DocumentDate)
			res.Mismatches = append(res.Mismatches, DateMismatch{
				EntryId:       r.EntryId,
				ProductId:     r.ProductId,
				ReferenceType: src.refType,
				ReferenceId:   r.ReferenceId,
				EntryDate:     utils.DateOnly(r.EntryDate),
				DocumentDate:  docDate,
			})
			affected[r.ProductId] = true
			if dryRun {
				continue
			}
			if err := tx.Model(&StockEntry{}).Where("id = ?", r.EntryId).UpdateColumn("entry_date", docDate).Error; err != nil {
				return nil, err
			}
			*src.counter++
		}
	}
	for id := range affected {
		res.AffectedProductIds = append(res.AffectedProductIds, id)
	}
	sort.Ints(res.AffectedProductIds)
	return res, nil
}
