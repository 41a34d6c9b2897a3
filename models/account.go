package models

import (
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account is a chart-of-accounts row. Each tenant has exactly one system bank
// account (drives the bank ledger) and one system expense account (aggregates
// expense postings). Fixed-asset accounts are created by operators, one per asset.
type Account struct {
	ID             int             `gorm:"primary_key" json:"id"`
	TenantId       string          `gorm:"size:36;not null;index;uniqueIndex:idx_accounts_tenant_system_key,priority:1" json:"tenant_id"`
	Name           string          `gorm:"size:100;not null" json:"name"`
	AccountType    AccountType     `gorm:"size:20;not null;index" json:"account_type"`
	SystemKey      *string         `gorm:"size:20;uniqueIndex:idx_accounts_tenant_system_key,priority:2" json:"-"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"opening_balance"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"current_balance"`
	IsSystem       *bool           `gorm:"default:false;not null" json:"is_system"`
	IsActive       *bool           `gorm:"default:true;not null" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type SystemAccounts struct {
	Bank    *Account `json:"bank"`
	Expense *Account `json:"expense"`
}

var systemAccountNames = map[AccountType]string{
	AccountTypeBank:    "Bank",
	AccountTypeExpense: "Expenses",
}

// lockSystemAccount returns the tenant's system account of the given type locked
// FOR UPDATE, creating it on first use. The unique (tenant_id, system_key) index
// turns a creation race into a retryable conflict.
func lockSystemAccount(tx *gorm.DB, tenantId string, accountType AccountType) (*Account, error) {
	key := string(accountType)
	account := Account{
		TenantId:    tenantId,
		Name:        systemAccountNames[accountType],
		AccountType: accountType,
		SystemKey:   &key,
		IsSystem:    utils.NewTrue(),
		IsActive:    utils.NewTrue(),
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND system_key = ?", tenantId, key).
		FirstOrCreate(&account)
	if result.Error != nil {
		return nil, result.Error
	}
	return &account, nil
}

// EnsureSystemAccounts creates the tenant's system bank and expense accounts if missing.
func EnsureSystemAccounts(tx *gorm.DB, tenantId string) (*SystemAccounts, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	bank, err := lockSystemAccount(tx, tenantId, AccountTypeBank)
	if err != nil {
		return nil, err
	}
	expense, err := lockSystemAccount(tx, tenantId, AccountTypeExpense)
	if err != nil {
		return nil, err
	}
	return &SystemAccounts{Bank: bank, Expense: expense}, nil
}

func findSystemAccount(tx *gorm.DB, tenantId string, accountType AccountType) (*Account, error) {
	var account Account
	err := tx.Where("tenant_id = ? AND system_key = ?", tenantId, string(accountType)).First(&account).Error
	if err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &account, nil
}

func setAccountBalance(tx *gorm.DB, accountId int, balance decimal.Decimal) error {
	return tx.Exec("UPDATE accounts SET current_balance = ?, updated_at = ? WHERE id = ?",
		balance.Round(MoneyPlaces), time.Now().UTC(), accountId).Error
}

func addToAccountBalance(tx *gorm.DB, accountId int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	return tx.Exec("UPDATE accounts SET current_balance = current_balance + ?, updated_at = ? WHERE id = ?",
		delta.Round(MoneyPlaces), time.Now().UTC(), accountId).Error
}

type NewFixedAssetAccount struct {
	Name            string          `json:"name" validate:"required,max=100"`
	AcquisitionCost decimal.Decimal `json:"acquisition_cost"`
}

// CreateFixedAssetAccount registers one depreciable asset. Its opening balance is
// the acquisition cost; bank payments referencing the account add to it.
func CreateFixedAssetAccount(tx *gorm.DB, tenantId string, input NewFixedAssetAccount) (*Account, error) {
	verrs := validateStruct(input)
	if input.AcquisitionCost.IsNegative() {
		verrs.Add("AcquisitionCost", "must not be negative")
	}
	if err := verrs.OrNil(); err != nil {
		return nil, err
	}
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	cost := input.AcquisitionCost.Round(MoneyPlaces)
	account := Account{
		TenantId:       tenantId,
		Name:           strings.TrimSpace(input.Name),
		AccountType:    AccountTypeFixedAsset,
		OpeningBalance: cost,
		CurrentBalance: cost,
		IsSystem:       utils.NewFalse(),
		IsActive:       utils.NewTrue(),
	}
	if err := tx.Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func GetAccount(tx *gorm.DB, tenantId string, accountId int) (*Account, error) {
	var account Account
	if err := tx.Where("tenant_id = ? AND id = ?", tenantId, accountId).First(&account).Error; err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &account, nil
}

func ListAccounts(tx *gorm.DB, tenantId string) ([]Account, error) {
	var accounts []Account
	err := tx.Where("tenant_id = ?", tenantId).Order("account_type, id").Find(&accounts).Error
	return accounts, err
}

func requireFixedAssetAccount(tx *gorm.DB, tenantId string, accountId int) (*Account, error) {
	account, err := GetAccount(tx, tenantId, accountId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, newValidationError("reference_id", "unknown fixed asset account")
	}
	if err != nil {
		return nil, err
	}
	if account.AccountType != AccountTypeFixedAsset {
		return nil, newValidationError("reference_id", "account is not a fixed asset")
	}
	return account, nil
}
