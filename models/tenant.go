package models

import (
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is the isolated shop the ledger data is partitioned by.
// Tenant CRUD lives outside this service; the ledger only reads id and status.
type Tenant struct {
	ID        string    `gorm:"primary_key;size:36" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	IsActive  *bool     `gorm:"default:true;not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	if t.IsActive == nil {
		t.IsActive = utils.NewTrue()
	}
	return nil
}

func CreateTenant(tx *gorm.DB, name string) (*Tenant, error) {
	if strings.TrimSpace(name) == "" {
		return nil, newValidationError("name", "is required")
	}
	tenant := Tenant{Name: strings.TrimSpace(name)}
	if err := tx.Create(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func GetTenant(tx *gorm.DB, tenantId string) (*Tenant, error) {
	var tenant Tenant
	if err := tx.Where("id = ?", tenantId).First(&tenant).Error; err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &tenant, nil
}

// ListActiveTenantIds is used by the reconciliation scheduler.
func ListActiveTenantIds(tx *gorm.DB) ([]string, error) {
	var ids []string
	err := tx.Model(&Tenant{}).Where("is_active = ?", true).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// requireActiveTenant maps a missing/inactive tenant onto a validation error.
func requireActiveTenant(tx *gorm.DB, tenantId string) error {
	if strings.TrimSpace(tenantId) == "" {
		return newValidationError("tenant_id", "is required")
	}
	tenant, err := GetTenant(tx, tenantId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return newValidationError("tenant_id", "unknown tenant")
	}
	if err != nil {
		return err
	}
	if !utils.DereferencePtr(tenant.IsActive, true) {
		return newValidationError("tenant_id", ErrTenantInactive.Error())
	}
	return nil
}
