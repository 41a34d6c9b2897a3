package models

import (
	"time"

	"gorm.io/gorm"
)

// ReconciliationReport is one finding written by a reconciliation job.
type ReconciliationReport struct {
	ID            int                     `gorm:"primary_key" json:"id"`
	TenantId      string                  `gorm:"size:36;index;not null" json:"tenant_id"`
	CheckType     ReconciliationCheckType `gorm:"size:50;index;not null" json:"check_type"`
	EntityType    string                  `gorm:"size:50;index;not null" json:"entity_type"` // StockEntry, StockSummary, Product, BankTransaction, Account
	EntityId      int                     `gorm:"index;not null" json:"entity_id"`
	Details       string                  `gorm:"type:text" json:"details"`
	CorrelationId string                  `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time               `gorm:"autoCreateTime" json:"created_at"`
}

// SaveReconciliationReports inserts findings in one batch. Nothing to save is not an error.
func SaveReconciliationReports(tx *gorm.DB, reports []ReconciliationReport) error {
	if len(reports) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range reports {
		if reports[i].CreatedAt.IsZero() {
			reports[i].CreatedAt = now
		}
	}
	return tx.CreateInBatches(&reports, 100).Error
}

func ListReconciliationReports(tx *gorm.DB, tenantId string, correlationId string) ([]ReconciliationReport, error) {
	var reports []ReconciliationReport
	q := tx.Where("tenant_id = ?", tenantId)
	if correlationId != "" {
		q = q.Where("correlation_id = ?", correlationId)
	}
	err := q.Order("id").Find(&reports).Error
	return reports, err
}
