package models

import (
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BankTransaction is one row of the tenant's running-balance bank ledger.
type BankTransaction struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	TenantId        string              `gorm:"size:36;not null;index:idx_bank_transactions_chain,priority:1" json:"tenant_id"`
	AccountId       int                 `gorm:"not null;index" json:"account_id"`
	TransactionDate time.Time           `gorm:"type:date;not null;index:idx_bank_transactions_chain,priority:2" json:"transaction_date"`
	TransactionType BankTransactionType `gorm:"size:10;not null" json:"transaction_type"`
	Category        string              `gorm:"size:100;not null;index" json:"category"`
	Amount          decimal.Decimal     `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceAfter    decimal.Decimal     `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Description     string              `gorm:"type:text" json:"description"`
	ReferenceId     *int                `json:"reference_id"`
	ReferenceType   *BankReferenceType  `gorm:"size:30" json:"reference_type"`
	CreatedBy       int                 `json:"created_by"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *BankTransaction) BeforeSave(tx *gorm.DB) error {
	t.TransactionDate = utils.DateOnly(t.TransactionDate)
	return nil
}

// IsSystemGenerated reports whether another document owns this row.
func (t BankTransaction) IsSystemGenerated() bool {
	return t.ReferenceId != nil
}

// SignedAmount is +amount for credits and -amount for debits.
func (t BankTransaction) SignedAmount() decimal.Decimal {
	return signedBankAmount(t.TransactionType, t.Amount)
}

func signedBankAmount(t BankTransactionType, amount decimal.Decimal) decimal.Decimal {
	if t == BankTransactionTypeDebit {
		return amount.Neg()
	}
	return amount
}

type NewBankTransaction struct {
	TenantId        string              `json:"tenant_id" validate:"required"`
	TransactionType BankTransactionType `json:"transaction_type" validate:"required"`
	Category        string              `json:"category" validate:"required,max=100"`
	Amount          decimal.Decimal     `json:"amount"`
	TransactionDate time.Time           `json:"transaction_date"`
	Description     string              `json:"description" validate:"max=1000"`
	ReferenceId     *int                `json:"reference_id,omitempty"`
	ReferenceType   *BankReferenceType  `json:"reference_type,omitempty"`
	CreatedBy       int                 `json:"created_by"`
}

func validateBankFields(verrs *ValidationErrors, txType BankTransactionType, category string, amount decimal.Decimal, date time.Time) {
	if txType != "" && !txType.IsValid() {
		verrs.Add("TransactionType", "must be one of credit debit")
	}
	if strings.TrimSpace(category) == "" {
		verrs.Add("Category", "is required")
	}
	if !amount.Round(MoneyPlaces).IsPositive() {
		verrs.Add("Amount", "must be greater than 0")
	}
	if date.IsZero() {
		verrs.Add("TransactionDate", "is required")
	}
}

func (input NewBankTransaction) validate() ValidationErrors {
	verrs := validateStruct(input)
	validateBankFields(&verrs, input.TransactionType, input.Category, input.Amount, input.TransactionDate)
	if (input.ReferenceId == nil) != (input.ReferenceType == nil) {
		verrs.Add("Reference", "reference_id and reference_type go together")
	}
	if input.ReferenceId != nil && *input.ReferenceId <= 0 {
		verrs.Add("ReferenceId", "must be positive")
	}
	return verrs
}

// aggregateTarget resolves which account, if any, a bank row also posts into.
// delta is already signed: expense debits grow the expense account, credits
// (refunds) shrink it; fixed-asset payments grow the referenced asset.
type aggregateTarget struct {
	AccountId int
	Delta     decimal.Decimal
}

func resolveAggregateTarget(tx *gorm.DB, tenantId string, txType BankTransactionType, category string, amount decimal.Decimal, refId *int, refType *BankReferenceType) (*aggregateTarget, error) {
	delta := amount
	if txType == BankTransactionTypeCredit {
		delta = amount.Neg()
	}
	switch strings.TrimSpace(category) {
	case BankCategoryExpense:
		expense, err := lockSystemAccount(tx, tenantId, AccountTypeExpense)
		if err != nil {
			return nil, err
		}
		return &aggregateTarget{AccountId: expense.ID, Delta: delta}, nil
	case BankCategoryFixedAsset:
		if refId == nil || refType == nil || *refType != BankReferenceTypeFixedAsset {
			return nil, nil
		}
		asset, err := requireFixedAssetAccount(tx, tenantId, *refId)
		if err != nil {
			return nil, err
		}
		return &aggregateTarget{AccountId: asset.ID, Delta: delta}, nil
	}
	return nil, nil
}

func lastBankBalance(tx *gorm.DB, tenantId string) (decimal.Decimal, error) {
	var last []BankTransaction
	if err := tx.Where("tenant_id = ?", tenantId).Order("id DESC").Limit(1).Find(&last).Error; err != nil {
		return decimal.Zero, err
	}
	if len(last) == 0 {
		return decimal.Zero, nil
	}
	return last[0].BalanceAfter, nil
}

// AppendBankTransaction inserts one ledger row with its running balance.
// The system bank account row is locked for the duration so appends for a
// tenant are serialized; the previous balance is the latest row by id.
func AppendBankTransaction(tx *gorm.DB, input NewBankTransaction) (*BankTransaction, error) {
	if err := input.validate().OrNil(); err != nil {
		return nil, err
	}
	if err := requireActiveTenant(tx, input.TenantId); err != nil {
		return nil, err
	}

	bank, err := lockSystemAccount(tx, input.TenantId, AccountTypeBank)
	if err != nil {
		return nil, err
	}
	amount := input.Amount.Round(MoneyPlaces)
	target, err := resolveAggregateTarget(tx, input.TenantId, input.TransactionType, input.Category, amount, input.ReferenceId, input.ReferenceType)
	if err != nil {
		return nil, err
	}

	previous, err := lastBankBalance(tx, input.TenantId)
	if err != nil {
		return nil, err
	}

	txn := BankTransaction{
		TenantId:        input.TenantId,
		AccountId:       bank.ID,
		TransactionDate: input.TransactionDate,
		TransactionType: input.TransactionType,
		Category:        strings.TrimSpace(input.Category),
		Amount:          amount,
		BalanceAfter:    previous.Add(signedBankAmount(input.TransactionType, amount)).Round(MoneyPlaces),
		Description:     strings.TrimSpace(input.Description),
		ReferenceId:     input.ReferenceId,
		ReferenceType:   input.ReferenceType,
		CreatedBy:       input.CreatedBy,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}
	if err := setAccountBalance(tx, bank.ID, txn.BalanceAfter); err != nil {
		return nil, err
	}
	if target != nil {
		if err := addToAccountBalance(tx, target.AccountId, target.Delta); err != nil {
			return nil, err
		}
	}
	return &txn, nil
}

// GetCurrentBalance reads the system bank account. A tenant with no bank
// activity has a zero balance.
func GetCurrentBalance(tx *gorm.DB, tenantId string) (decimal.Decimal, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return decimal.Zero, err
	}
	bank, err := findSystemAccount(tx, tenantId, AccountTypeBank)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return bank.CurrentBalance, nil
}

type BankTransactionPage struct {
	Transactions []BankTransaction `json:"transactions"`
	PageInfo     PageInfo          `json:"page_info"`
}

// ListBankTransactions pages the ledger newest first.
func ListBankTransactions(tx *gorm.DB, tenantId string, page Page) (*BankTransactionPage, error) {
	page = page.Normalize()
	var total int64
	if err := tx.Model(&BankTransaction{}).Where("tenant_id = ?", tenantId).Count(&total).Error; err != nil {
		return nil, err
	}
	var rows []BankTransaction
	if err := tx.Where("tenant_id = ?", tenantId).
		Order("transaction_date DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return &BankTransactionPage{Transactions: rows, PageInfo: newPageInfo(page, total)}, nil
}

func listBankTransactionsChronological(tx *gorm.DB, tenantId string) ([]BankTransaction, error) {
	var rows []BankTransaction
	err := tx.Where("tenant_id = ?", tenantId).Order("transaction_date ASC, id ASC").Find(&rows).Error
	return rows, err
}

func GetBankTransaction(tx *gorm.DB, tenantId string, id int) (*BankTransaction, error) {
	var txn BankTransaction
	if err := tx.Where("tenant_id = ? AND id = ?", tenantId, id).First(&txn).Error; err != nil {
		return nil, utils.NotFoundOr(err)
	}
	return &txn, nil
}

type UpdateBankTransactionInput struct {
	TransactionType BankTransactionType `json:"transaction_type" validate:"required"`
	Category        string              `json:"category" validate:"required,max=100"`
	Amount          decimal.Decimal     `json:"amount"`
	TransactionDate time.Time           `json:"transaction_date"`
	Description     string              `json:"description" validate:"max=1000"`
}

func logRecomputeRequired(tenantId string, id int, action string) {
	config.GetLogger().WithFields(logrus.Fields{
		"tenant_id":      tenantId,
		"transaction_id": id,
		"action":         action,
	}).Warn("bank.balance.recompute_required")
}

// UpdateBankTransaction edits a manual entry. balance_after of later rows is
// not rewritten here; run RecomputeBankBalances afterwards.
func UpdateBankTransaction(tx *gorm.DB, tenantId string, id int, input UpdateBankTransactionInput) (*BankTransaction, error) {
	verrs := validateStruct(input)
	validateBankFields(&verrs, input.TransactionType, input.Category, input.Amount, input.TransactionDate)
	if err := verrs.OrNil(); err != nil {
		return nil, err
	}

	if _, err := lockSystemAccount(tx, tenantId, AccountTypeBank); err != nil {
		return nil, err
	}
	txn, err := GetBankTransaction(tx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if txn.IsSystemGenerated() {
		return nil, ErrSystemTransactionImmutable
	}

	oldTarget, err := resolveAggregateTarget(tx, tenantId, txn.TransactionType, txn.Category, txn.Amount, nil, nil)
	if err != nil {
		return nil, err
	}
	amount := input.Amount.Round(MoneyPlaces)
	newTarget, err := resolveAggregateTarget(tx, tenantId, input.TransactionType, input.Category, amount, nil, nil)
	if err != nil {
		return nil, err
	}

	txn.TransactionType = input.TransactionType
	txn.Category = strings.TrimSpace(input.Category)
	txn.Amount = amount
	txn.TransactionDate = utils.DateOnly(input.TransactionDate)
	txn.Description = strings.TrimSpace(input.Description)
	txn.UpdatedAt = time.Now().UTC()
	if err := tx.Model(&BankTransaction{}).Where("id = ?", txn.ID).Updates(map[string]interface{}{
		"transaction_type": txn.TransactionType,
		"category":         txn.Category,
		"amount":           txn.Amount,
		"transaction_date": txn.TransactionDate,
		"description":      txn.Description,
		"updated_at":       txn.UpdatedAt,
	}).Error; err != nil {
		return nil, err
	}

	if oldTarget != nil {
		if err := addToAccountBalance(tx, oldTarget.AccountId, oldTarget.Delta.Neg()); err != nil {
			return nil, err
		}
	}
	if newTarget != nil {
		if err := addToAccountBalance(tx, newTarget.AccountId, newTarget.Delta); err != nil {
			return nil, err
		}
	}
	logRecomputeRequired(tenantId, id, "update")
	return txn, nil
}

// DeleteBankTransaction removes a manual entry and reverses its aggregation.
func DeleteBankTransaction(tx *gorm.DB, tenantId string, id int) error {
	if _, err := lockSystemAccount(tx, tenantId, AccountTypeBank); err != nil {
		return err
	}
	txn, err := GetBankTransaction(tx, tenantId, id)
	if err != nil {
		return err
	}
	if txn.IsSystemGenerated() {
		return ErrSystemTransactionImmutable
	}
	target, err := resolveAggregateTarget(tx, tenantId, txn.TransactionType, txn.Category, txn.Amount, nil, nil)
	if err != nil {
		return err
	}
	if err := tx.Where("tenant_id = ? AND id = ?", tenantId, id).Delete(&BankTransaction{}).Error; err != nil {
		return err
	}
	if target != nil {
		if err := addToAccountBalance(tx, target.AccountId, target.Delta.Neg()); err != nil {
			return err
		}
	}
	logRecomputeRequired(tenantId, id, "delete")
	return nil
}

type BankRecomputeResult struct {
	TenantId         string          `json:"tenant_id"`
	TransactionCount int             `json:"transaction_count"`
	UpdatedCount     int             `json:"updated_count"`
	PreviousBalance  decimal.Decimal `json:"previous_balance"`
	FinalBalance     decimal.Decimal `json:"final_balance"`
	ExpenseBefore    decimal.Decimal `json:"expense_before"`
	ExpenseAfter     decimal.Decimal `json:"expense_after"`
	Applied          bool            `json:"applied"`
}

// recomputeAccount locks the system account for a repair. A dry run never
// creates it: a missing account reads as a zero balance.
func recomputeAccount(tx *gorm.DB, tenantId string, accountType AccountType, dryRun bool) (*Account, error) {
	if !dryRun {
		return lockSystemAccount(tx, tenantId, accountType)
	}
	account, err := findSystemAccount(tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId, accountType)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return &Account{TenantId: tenantId, AccountType: accountType}, nil
	}
	return account, err
}

// RecomputeBankBalances replays the ledger in (transaction_date, id) order from
// zero and rewrites every balance_after that disagrees. The bank account balance
// and the expense and fixed-asset aggregates are recomputed from the same rows.
func RecomputeBankBalances(tx *gorm.DB, tenantId string, dryRun bool) (*BankRecomputeResult, error) {
	if err := requireActiveTenant(tx, tenantId); err != nil {
		return nil, err
	}
	bank, err := recomputeAccount(tx, tenantId, AccountTypeBank, dryRun)
	if err != nil {
		return nil, err
	}
	expense, err := recomputeAccount(tx, tenantId, AccountTypeExpense, dryRun)
	if err != nil {
		return nil, err
	}

	rows, err := listBankTransactionsChronological(tx, tenantId)
	if err != nil {
		return nil, err
	}

	result := &BankRecomputeResult{
		TenantId:         tenantId,
		TransactionCount: len(rows),
		PreviousBalance:  bank.CurrentBalance,
		ExpenseBefore:    expense.CurrentBalance,
	}

	running := decimal.Zero
	expenseTotal := expense.OpeningBalance
	assetDeltas := map[int]decimal.Decimal{}
	for _, row := range rows {
		running = running.Add(row.SignedAmount()).Round(MoneyPlaces)
		if !row.BalanceAfter.Equal(running) {
			result.UpdatedCount++
			if !dryRun {
				if err := tx.Model(&BankTransaction{}).Where("id = ?", row.ID).
					UpdateColumn("balance_after", running).Error; err != nil {
					return nil, err
				}
			}
		}
		delta := row.Amount
		if row.TransactionType == BankTransactionTypeCredit {
			delta = delta.Neg()
		}
		switch row.Category {
		case BankCategoryExpense:
			expenseTotal = expenseTotal.Add(delta)
		case BankCategoryFixedAsset:
			if row.ReferenceId != nil && row.ReferenceType != nil && *row.ReferenceType == BankReferenceTypeFixedAsset {
				assetDeltas[*row.ReferenceId] = assetDeltas[*row.ReferenceId].Add(delta)
			}
		}
	}
	result.FinalBalance = running
	result.ExpenseAfter = expenseTotal.Round(MoneyPlaces)

	if dryRun {
		return result, nil
	}
	if err := setAccountBalance(tx, bank.ID, running); err != nil {
		return nil, err
	}
	if err := setAccountBalance(tx, expense.ID, result.ExpenseAfter); err != nil {
		return nil, err
	}
	var assets []Account
	if err := tx.Where("tenant_id = ? AND account_type = ?", tenantId, AccountTypeFixedAsset).Find(&assets).Error; err != nil {
		return nil, err
	}
	for _, asset := range assets {
		if err := setAccountBalance(tx, asset.ID, asset.OpeningBalance.Add(assetDeltas[asset.ID])); err != nil {
			return nil, err
		}
	}
	result.Applied = true
	return result, nil
}
