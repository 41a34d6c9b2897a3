package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func manualBank(tenantId string, txType models.BankTransactionType, category, amount string, date ...int) models.NewBankTransaction {
	d := day(2025, 1, 1)
	if len(date) == 1 {
		d = day(2025, 1, date[0])
	}
	return models.NewBankTransaction{
		TenantId:        tenantId,
		TransactionType: txType,
		Category:        category,
		Amount:          dec(amount),
		TransactionDate: d,
	}
}

func accountBalance(t *testing.T, db *gorm.DB, tenantId string, accountType models.AccountType) string {
	t.Helper()
	var account models.Account
	require.NoError(t, db.Where("tenant_id = ? AND account_type = ?", tenantId, accountType).First(&account).Error)
	return account.CurrentBalance.StringFixed(2)
}

func TestBankLedgerRunningBalance(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	balance, err := models.GetCurrentBalance(db, tenantId)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	first := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryOpening, "1000"))
	second := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeDebit, models.BankCategoryVendorPayment, "300"))
	third := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryCustomerPayment, "200"))

	requireDecimal(t, "1000", first.BalanceAfter)
	requireDecimal(t, "700", second.BalanceAfter)
	requireDecimal(t, "900", third.BalanceAfter)

	balance, err = models.GetCurrentBalance(db, tenantId)
	require.NoError(t, err)
	requireDecimal(t, "900", balance)
	assert.Equal(t, "900.00", accountBalance(t, db, tenantId, models.AccountTypeBank))

	chain, err := models.CheckBankBalanceChain(db, tenantId)
	require.NoError(t, err)
	assert.True(t, chain.Consistent())
	assert.Equal(t, 3, chain.TransactionCount)

	page, err := models.ListBankTransactions(db, tenantId, models.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, third.ID, page.Transactions[0].ID)
	assert.True(t, page.PageInfo.HasNextPage)
}

func TestBankTransactionRejectsInvalidAmountWithoutWriting(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	for _, amount := range []string{"0", "-5", "0.001", "0.004"} {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := models.AppendBankTransaction(tx, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryOther, amount))
			return err
		})
		require.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	}

	var count int64
	require.NoError(t, db.Model(&models.BankTransaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecomputeDryRunCreatesNoAccounts(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	var result *models.BankRecomputeResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = models.RecomputeBankBalances(tx, tenantId, true)
		return err
	})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Zero(t, result.TransactionCount)
	assert.True(t, result.FinalBalance.IsZero())

	var accounts int64
	require.NoError(t, db.Model(&models.Account{}).Where("tenant_id = ?", tenantId).Count(&accounts).Error)
	assert.Zero(t, accounts)
}

func TestBankExpenseAndFixedAssetAggregation(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryOpening, "5000"))
	appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeDebit, models.BankCategoryExpense, "120"))
	appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryExpense, "20"))
	assert.Equal(t, "100.00", accountBalance(t, db, tenantId, models.AccountTypeExpense))

	asset, err := models.CreateFixedAssetAccount(db, tenantId, models.NewFixedAssetAccount{Name: "Delivery van", AcquisitionCost: dec("1000")})
	require.NoError(t, err)

	refType := models.BankReferenceTypeFixedAsset
	payment := manualBank(tenantId, models.BankTransactionTypeDebit, models.BankCategoryFixedAsset, "500")
	payment.ReferenceId, payment.ReferenceType = &asset.ID, &refType
	appendBank(t, db, payment)

	reloaded, err := models.GetAccount(db, tenantId, asset.ID)
	require.NoError(t, err)
	requireDecimal(t, "1500", reloaded.CurrentBalance)

	missing := 424242
	bad := manualBank(tenantId, models.BankTransactionTypeDebit, models.BankCategoryFixedAsset, "10")
	bad.ReferenceId, bad.ReferenceType = &missing, &refType
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := models.AppendBankTransaction(tx, bad)
		return err
	})
	assert.True(t, models.IsValidationError(err))

	balance, err := models.GetCurrentBalance(db, tenantId)
	require.NoError(t, err)
	requireDecimal(t, "4400", balance)
}

func TestSystemBankTransactionsAreImmutable(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	saleId := 7
	refType := models.BankReferenceTypeSale
	input := manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategorySale, "75")
	input.ReferenceId, input.ReferenceType = &saleId, &refType
	txn := appendBank(t, db, input)
	assert.True(t, txn.IsSystemGenerated())

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := models.UpdateBankTransaction(tx, tenantId, txn.ID, models.UpdateBankTransactionInput{
			TransactionType: models.BankTransactionTypeCredit,
			Category:        models.BankCategorySale,
			Amount:          dec("80"),
			TransactionDate: day(2025, 1, 1),
		})
		return err
	})
	assert.ErrorIs(t, err, models.ErrSystemTransactionImmutable)

	err = db.Transaction(func(tx *gorm.DB) error {
		return models.DeleteBankTransaction(tx, tenantId, txn.ID)
	})
	assert.ErrorIs(t, err, models.ErrSystemTransactionImmutable)
}

func TestRecomputeBankBalancesRepairsBackdatedAndEditedRows(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	jan10 := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryOpening, "100", 10))
	// Back-dated: appended last, but belongs before jan10 in date order.
	jan05 := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryCustomerPayment, "50", 5))
	requireDecimal(t, "150", jan05.BalanceAfter)

	expense := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeDebit, models.BankCategoryExpense, "30", 12))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := models.UpdateBankTransaction(tx, tenantId, expense.ID, models.UpdateBankTransactionInput{
			TransactionType: models.BankTransactionTypeDebit,
			Category:        models.BankCategoryExpense,
			Amount:          dec("40"),
			TransactionDate: day(2025, 1, 12),
		})
		return err
	}))
	assert.Equal(t, "40.00", accountBalance(t, db, tenantId, models.AccountTypeExpense))

	chain, err := models.CheckBankBalanceChain(db, tenantId)
	require.NoError(t, err)
	assert.False(t, chain.Consistent())
	assert.Equal(t, jan05.ID, chain.FirstBreakId)

	var dry *models.BankRecomputeResult
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		dry, err = models.RecomputeBankBalances(tx, tenantId, true)
		return err
	}))
	assert.False(t, dry.Applied)
	requireDecimal(t, "110", dry.FinalBalance)
	again, err := models.CheckBankBalanceChain(db, tenantId)
	require.NoError(t, err)
	assert.False(t, again.Consistent(), "dry run must not write")

	var result *models.BankRecomputeResult
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		result, err = models.RecomputeBankBalances(tx, tenantId, false)
		return err
	}))
	assert.True(t, result.Applied)
	assert.Equal(t, 3, result.TransactionCount)
	requireDecimal(t, "110", result.FinalBalance)
	requireDecimal(t, "40", result.ExpenseAfter)

	fixed, err := models.GetBankTransaction(db, tenantId, jan05.ID)
	require.NoError(t, err)
	requireDecimal(t, "50", fixed.BalanceAfter)
	fixed, err = models.GetBankTransaction(db, tenantId, jan10.ID)
	require.NoError(t, err)
	requireDecimal(t, "150", fixed.BalanceAfter)

	chain, err = models.CheckBankBalanceChain(db, tenantId)
	require.NoError(t, err)
	assert.True(t, chain.Consistent())

	balance, err := models.GetCurrentBalance(db, tenantId)
	require.NoError(t, err)
	requireDecimal(t, "110", balance)
}

func TestDeleteManualBankTransactionReversesExpense(t *testing.T) {
	db := newTestDB(t)
	tenantId := seedTenant(t, db)

	appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeCredit, models.BankCategoryOpening, "500"))
	rent := appendBank(t, db, manualBank(tenantId, models.BankTransactionTypeDebit, models.BankCategoryExpense, "200"))
	assert.Equal(t, "200.00", accountBalance(t, db, tenantId, models.AccountTypeExpense))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return models.DeleteBankTransaction(tx, tenantId, rent.ID)
	}))
	assert.Equal(t, "0.00", accountBalance(t, db, tenantId, models.AccountTypeExpense))

	_, err := models.GetBankTransaction(db, tenantId, rent.ID)
	assert.Error(t, err)
}
