package models

import (
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale is the header of a point-of-sale transaction. Line items live with the
// sales module; the ledger keeps the header for date reconciliation.
type Sale struct {
	ID             int             `gorm:"primary_key" json:"id"`
	TenantId       string          `gorm:"index;size:36;not null" json:"tenant_id"`
	SaleNumber     string          `gorm:"size:100" json:"sale_number"`
	SaleDate       time.Time       `gorm:"type:date;not null" json:"sale_date"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_amount"`
	ReceivedAmount decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"received_amount"`
	CreatedBy      int             `json:"created_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Sale) BeforeSave(tx *gorm.DB) error {
	s.SaleDate = utils.DateOnly(s.SaleDate)
	return nil
}

func GetSale(tx *gorm.DB, tenantId string, saleId int) (*Sale, error) {
	var sale Sale
	if err := tx.Where("tenant_id = ? AND id = ?", tenantId, saleId).First(&sale).Error; err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &sale, nil
}

// UpdateSaleDate moves a sale to another day. Stock entries keep their old
// entry_date until the date fixer runs.
func UpdateSaleDate(tx *gorm.DB, tenantId string, saleId int, saleDate time.Time) error {
	res := tx.Model(&Sale{}).
		Where("tenant_id = ? AND id = ?", tenantId, saleId).
		Update("sale_date", utils.DateOnly(saleDate))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
