package models

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockEntry is one row of the append-only movement log.
// Quantity is signed: positive for incoming stock, negative for outgoing.
type StockEntry struct {
	ID                int                 `gorm:"primary_key" json:"id"`
	TenantId          string              `gorm:"size:36;not null;index:idx_stock_entries_history,priority:1;index:idx_stock_entries_reference,priority:1" json:"tenant_id"`
	ProductId         int                 `gorm:"not null;index:idx_stock_entries_history,priority:2" json:"product_id"`
	EntryType         StockEntryType      `gorm:"size:20;not null" json:"entry_type"`
	Quantity          decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPurchasePrice *decimal.Decimal    `gorm:"type:decimal(20,6)" json:"unit_purchase_price"`
	UnitSalePrice     *decimal.Decimal    `gorm:"type:decimal(20,2)" json:"unit_sale_price"`
	EntryDate         time.Time           `gorm:"type:date;not null;index:idx_stock_entries_history,priority:3" json:"entry_date"`
	ReferenceId       *int                `gorm:"index:idx_stock_entries_reference,priority:3" json:"reference_id"`
	ReferenceType     *StockReferenceType `gorm:"size:20;index:idx_stock_entries_reference,priority:2" json:"reference_type"`
	Note              string              `gorm:"type:text" json:"note"`
	CreatedBy         int                 `json:"created_by"`
	CreatedAt         time.Time           `gorm:"autoCreateTime;index:idx_stock_entries_history,priority:4" json:"created_at"`
}

type NewStockEntry struct {
	TenantId          string              `json:"tenant_id" validate:"required"`
	ProductId         int                 `json:"product_id" validate:"required"`
	EntryType         StockEntryType      `json:"entry_type" validate:"required"`
	Quantity          decimal.Decimal     `json:"quantity"`
	EntryDate         time.Time           `json:"entry_date"`
	UnitPurchasePrice *decimal.Decimal    `json:"unit_purchase_price,omitempty"`
	UnitSalePrice     *decimal.Decimal    `json:"unit_sale_price,omitempty"`
	ReferenceId       *int                `json:"reference_id,omitempty"`
	ReferenceType     *StockReferenceType `json:"reference_type,omitempty"`
	Note              string              `json:"note" validate:"max=1000"`
	CreatedBy         int                 `json:"created_by"`
}

func (e *StockEntry) BeforeSave(tx *gorm.DB) error {
	e.EntryDate = utils.DateOnly(e.EntryDate)
	return nil
}

// checkQuantitySign enforces the direction each entry type implies.
// The sign is never flipped on the caller's behalf: a mismatch is rejected.
func checkQuantitySign(entryType StockEntryType, qty decimal.Decimal) string {
	if qty.IsZero() {
		return "must not be zero"
	}
	switch entryType {
	case StockEntryTypeSale:
		if !qty.IsNegative() {
			return "must be negative for sale entries"
		}
	case StockEntryTypePurchase, StockEntryTypeOpening:
		if !qty.IsPositive() {
			return "must be positive for " + string(entryType) + " entries"
		}
	}
	return ""
}

// validate checks the input shape only; it never touches the database.
func (input NewStockEntry) validate() ValidationErrors {
	verrs := validateStruct(input)
	if input.EntryType != "" && !input.EntryType.IsValid() {
		verrs.Add("EntryType", "must be one of opening purchase sale adjustment")
	}
	// checked at stored precision so sub-precision input cannot become a zero movement
	if msg := checkQuantitySign(input.EntryType, input.Quantity.Round(QtyPlaces)); msg != "" {
		verrs.Add("Quantity", msg)
	}
	if input.EntryDate.IsZero() {
		verrs.Add("EntryDate", "is required")
	}
	if input.UnitPurchasePrice != nil && input.UnitPurchasePrice.IsNegative() {
		verrs.Add("UnitPurchasePrice", "must not be negative")
	}
	if input.UnitSalePrice != nil && input.UnitSalePrice.IsNegative() {
		verrs.Add("UnitSalePrice", "must not be negative")
	}
	if (input.ReferenceId == nil) != (input.ReferenceType == nil) {
		verrs.Add("Reference", "reference_id and reference_type go together")
	}
	if input.ReferenceType != nil && !input.ReferenceType.IsValid() {
		verrs.Add("ReferenceType", "must be one of sale purchase adjustment opening")
	}
	if input.ReferenceId != nil && *input.ReferenceId <= 0 {
		verrs.Add("ReferenceId", "must be positive")
	}
	return verrs
}

// ValidateNewStockEntry runs shape and ownership checks. Callers that batch
// several appends validate all of them first so nothing is written on rejection.
func ValidateNewStockEntry(tx *gorm.DB, input NewStockEntry) error {
	if err := input.validate().OrNil(); err != nil {
		return err
	}
	if err := requireActiveTenant(tx, input.TenantId); err != nil {
		return err
	}
	return requireTenantProduct(tx, input.TenantId, input.ProductId)
}

// AppendStockEntry records a movement and folds it into the product's summary.
// tx is the caller's transaction so a sibling bank append commits or rolls back with it.
func AppendStockEntry(tx *gorm.DB, input NewStockEntry) (*StockEntry, *StockSummary, error) {
	if err := ValidateNewStockEntry(tx, input); err != nil {
		return nil, nil, err
	}

	// Lock the summary row first so concurrent appends for the product queue here.
	summary, err := lockStockSummary(tx, input.TenantId, input.ProductId)
	if err != nil {
		return nil, nil, err
	}

	entry := StockEntry{
		TenantId:          input.TenantId,
		ProductId:         input.ProductId,
		EntryType:         input.EntryType,
		Quantity:          input.Quantity.Round(QtyPlaces),
		UnitPurchasePrice: roundPtr(input.UnitPurchasePrice, AvgPricePlaces),
		UnitSalePrice:     roundPtr(input.UnitSalePrice, MoneyPlaces),
		EntryDate:         input.EntryDate,
		ReferenceId:       input.ReferenceId,
		ReferenceType:     input.ReferenceType,
		Note:              strings.TrimSpace(input.Note),
		CreatedBy:         input.CreatedBy,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, nil, err
	}

	if err := summary.applyAndSave(tx, entry.Quantity, entry.UnitPurchasePrice); err != nil {
		return nil, nil, err
	}
	return &entry, summary, nil
}

func roundPtr(d *decimal.Decimal, places int32) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(places)
	return &r
}

type StockHistoryPage struct {
	Entries  []StockEntry `json:"entries"`
	Order    HistoryOrder `json:"order"`
	PageInfo PageInfo     `json:"page_info"`
}

func historyOrderClause(order HistoryOrder) string {
	if order == HistoryOrderAsc {
		return "entry_date ASC, created_at ASC, id ASC"
	}
	return "entry_date DESC, created_at DESC, id DESC"
}

// GetStockHistory returns one page of a product's movements in the requested order.
func GetStockHistory(tx *gorm.DB, tenantId string, productId int, page Page, order HistoryOrder) (*StockHistoryPage, error) {
	if order != HistoryOrderAsc && order != HistoryOrderDesc {
		return nil, newValidationError("order", "must be asc or desc")
	}
	page = page.Normalize()

	scope := tx.Model(&StockEntry{}).Where("tenant_id = ? AND product_id = ?", tenantId, productId)

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return nil, err
	}

	var entries []StockEntry
	if err := tx.Where("tenant_id = ? AND product_id = ?", tenantId, productId).
		Order(historyOrderClause(order)).
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	return &StockHistoryPage{
		Entries:  entries,
		Order:    order,
		PageInfo: newPageInfo(page, total),
	}, nil
}

// ListStockEntriesChronological loads the full movement log of a product in replay order.
func ListStockEntriesChronological(tx *gorm.DB, tenantId string, productId int) ([]StockEntry, error) {
	var entries []StockEntry
	err := tx.Where("tenant_id = ? AND product_id = ?", tenantId, productId).
		Order(historyOrderClause(HistoryOrderAsc)).
		Find(&entries).Error
	return entries, err
}

// ListMovedProductIds returns every product of the tenant that has at least one movement.
func ListMovedProductIds(tx *gorm.DB, tenantId string) ([]int, error) {
	var ids []int
	err := tx.Model(&StockEntry{}).
		Where("tenant_id = ?", tenantId).
		Distinct("product_id").
		Order("product_id").
		Pluck("product_id", &ids).Error
	return ids, err
}
