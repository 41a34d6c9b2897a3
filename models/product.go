package models

import (
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the catalog row the stock ledger hangs off. The catalog itself is
// owned elsewhere; the ledger needs ownership and the reorder level.
type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	TenantId     string          `gorm:"index;size:36;not null" json:"tenant_id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Sku          string          `gorm:"size:100;index" json:"sku"`
	ReorderLevel decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_level"`
	IsActive     *bool           `gorm:"default:true;not null" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name         string          `json:"name" validate:"required,max=255"`
	Sku          string          `json:"sku" validate:"max=100"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
}

func CreateProduct(tx *gorm.DB, tenantId string, input NewProduct) (*Product, error) {
	verrs := validateStruct(input)
	if input.ReorderLevel.IsNegative() {
		verrs.Add("ReorderLevel", "must not be negative")
	}
	if err := verrs.OrNil(); err != nil {
		return nil, err
	}
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	product := Product{
		TenantId:     tenantId,
		Name:         strings.TrimSpace(input.Name),
		Sku:          strings.TrimSpace(input.Sku),
		ReorderLevel: input.ReorderLevel,
		IsActive:     utils.NewTrue(),
	}
	if err := tx.Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(tx *gorm.DB, tenantId string, productId int) (*Product, error) {
	var product Product
	if err := tx.Where("tenant_id = ? AND id = ?", tenantId, productId).First(&product).Error; err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &product, nil
}

func requireTenantProduct(tx *gorm.DB, tenantId string, productId int) error {
	if productId <= 0 {
		return newValidationError("product_id", "is required")
	}
	_, err := GetProduct(tx, tenantId, productId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return newValidationError("product_id", "unknown product for tenant")
	}
	return err
}
