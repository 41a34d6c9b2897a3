package models

import (
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Purchase struct {
	ID             int             `gorm:"primary_key" json:"id"`
	TenantId       string          `gorm:"index;size:36;not null" json:"tenant_id"`
	PurchaseNumber string          `gorm:"size:100" json:"purchase_number"`
	PurchaseDate   time.Time       `gorm:"type:date;not null" json:"purchase_date"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_amount"`
	PaidAmount     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"paid_amount"`
	CreatedBy      int             `json:"created_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Purchase) BeforeSave(tx *gorm.DB) error {
	p.PurchaseDate = utils.DateOnly(p.PurchaseDate)
	return nil
}

func GetPurchase(tx *gorm.DB, tenantId string, purchaseId int) (*Purchase, error) {
	var purchase Purchase
	if err := tx.Where("tenant_id = ? AND id = ?", tenantId, purchaseId).First(&purchase).Error; err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &purchase, nil
}

func UpdatePurchaseDate(tx *gorm.DB, tenantId string, purchaseId int, purchaseDate time.Time) error {
	res := tx.Model(&Purchase{}).
		Where("tenant_id = ? AND id = ?", tenantId, purchaseId).
		Update("purchase_date", utils.DateOnly(purchaseDate))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
