package models

import (
	"sort"

	"gorm.io/gorm"
)

// DuplicateGroup is a set of stock entries posted more than once for the same
// document line. EntryIds are oldest first; the first one is the keeper.
type DuplicateGroup struct {
	ReferenceId   int                `json:"reference_id"`
	ReferenceType StockReferenceType `json:"reference_type"`
	ProductId     int                `json:"product_id"`
	Count         int                `json:"count"`
	EntryIds      []int              `gorm:"-" json:"entry_ids"`
}

func (g DuplicateGroup) KeepId() int {
	if len(g.EntryIds) == 0 {
		return 0
	}
	return g.EntryIds[0]
}

func (g DuplicateGroup) RedundantIds() []int {
	if len(g.EntryIds) < 2 {
		return nil
	}
	return g.EntryIds[1:]
}

const RebuildRequiredWarning = "stock summaries of the affected products are stale; run a rebuild"

type DuplicateResolution struct {
	TenantId           string `json:"tenant_id"`
	GroupCount         int    `json:"group_count"`
	Removed            int    `json:"removed"`
	RemovedEntryIds    []int  `json:"removed_entry_ids"`
	AffectedProductIds []int  `json:"affected_product_ids"`
	DryRun             bool   `json:"dry_run"`
	Warning            string `json:"warning,omitempty"`
}

// FindDuplicateMovements groups document-linked entries by
// (reference_id, reference_type, product_id) and returns the groups with more than one row.
func FindDuplicateMovements(tx *gorm.DB, tenantId string) ([]DuplicateGroup, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	var groups []DuplicateGroup
	err := tx.Model(&StockEntry{}).
		Select("reference_id, reference_type, product_id, COUNT(*) AS count").
		Where("tenant_id = ? AND reference_id IS NOT NULL AND reference_type IN ?", tenantId,
			[]StockReferenceType{StockReferenceTypeSale, StockReferenceTypePurchase}).
		Group("reference_id, reference_type, product_id").
		Having("COUNT(*) > 1").
		Order("reference_type, reference_id, product_id").
		Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	for i := range groups {
		ids, err := duplicateEntryIds(tx, tenantId, groups[i])
		if err != nil {
			return nil, err
		}
		groups[i].EntryIds = ids
	}
	return groups, nil
}

func duplicateEntryIds(tx *gorm.DB, tenantId string, g DuplicateGroup) ([]int, error) {
	var ids []int
	err := tx.Model(&StockEntry{}).
		Where("tenant_id = ? AND reference_id = ? AND reference_type = ? AND product_id = ?",
			tenantId, g.ReferenceId, g.ReferenceType, g.ProductId).
		Order("created_at ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ResolveDuplicates keeps the oldest entry of each group and deletes the rest.
// Group membership is re-read inside tx so a stale scan cannot delete a keeper.
// Summaries are not touched: the caller rebuilds AffectedProductIds.
func ResolveDuplicates(tx *gorm.DB, tenantId string, groups []DuplicateGroup, dryRun bool) (*DuplicateResolution, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	res := &DuplicateResolution{
		TenantId:           tenantId,
		DryRun:             dryRun,
		RemovedEntryIds:    []int{},
		AffectedProductIds: []int{},
	}
	affected := map[int]bool{}
	for _, g := range groups {
		ids, err := duplicateEntryIds(tx, tenantId, g)
		if err != nil {
			return nil, err
		}
		current := DuplicateGroup{ReferenceId: g.ReferenceId, ReferenceType: g.ReferenceType, ProductId: g.ProductId, Count: len(ids), EntryIds: ids}
		redundant := current.RedundantIds()
		if len(redundant) == 0 {
			continue
		}
		res.GroupCount++
		if !dryRun {
			if err := tx.Where("tenant_id = ? AND id IN ?", tenantId, redundant).Delete(&StockEntry{}).Error; err != nil {
				return nil, err
			}
		}
		res.Removed += len(redundant)
		res.RemovedEntryIds = append(res.RemovedEntryIds, redundant...)
		affected[g.ProductId] = true
	}
	for id := range affected {
		res.AffectedProductIds = append(res.AffectedProductIds, id)
	}
	sort.Ints(res.AffectedProductIds)
	if res.Removed > 0 {
		res.Warning = RebuildRequiredWarning
	}
	return res, nil
}
