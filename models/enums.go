package models

import (
	"encoding/json"
	"errors"
	"strings"
)

type StockEntryType string

const (
	StockEntryTypeOpening    StockEntryType = "opening"
	StockEntryTypePurchase   StockEntryType = "purchase"
	StockEntryTypeSale       StockEntryType = "sale"
	StockEntryTypeAdjustment StockEntryType = "adjustment"
)

func (t StockEntryType) IsValid() bool {
	switch t {
	case StockEntryTypeOpening, StockEntryTypePurchase, StockEntryTypeSale, StockEntryTypeAdjustment:
		return true
	}
	return false
}

// convert input to enum type
func (t *StockEntryType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("stock entry type must be string")
	}
	v := StockEntryType(strings.ToLower(strings.TrimSpace(str)))
	if !v.IsValid() {
		return errors.New("invalid stock entry type")
	}
	*t = v
	return nil
}

type StockReferenceType string

const (
	StockReferenceTypeSale       StockReferenceType = "sale"
	StockReferenceTypePurchase   StockReferenceType = "purchase"
	StockReferenceTypeAdjustment StockReferenceType = "adjustment"
	StockReferenceTypeOpening    StockReferenceType = "opening"
)

func (t StockReferenceType) IsValid() bool {
	switch t {
	case StockReferenceTypeSale, StockReferenceTypePurchase, StockReferenceTypeAdjustment, StockReferenceTypeOpening:
		return true
	}
	return false
}

func (t *StockReferenceType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("stock reference type must be string")
	}
	v := StockReferenceType(strings.ToLower(strings.TrimSpace(str)))
	if !v.IsValid() {
		return errors.New("invalid stock reference type")
	}
	*t = v
	return nil
}

type BankTransactionType string

const (
	BankTransactionTypeCredit BankTransactionType = "credit"
	BankTransactionTypeDebit  BankTransactionType = "debit"
)

func (t BankTransactionType) IsValid() bool {
	return t == BankTransactionTypeCredit || t == BankTransactionTypeDebit
}

func (t *BankTransactionType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("bank transaction type must be string")
	}
	v := BankTransactionType(strings.ToLower(strings.TrimSpace(str)))
	if !v.IsValid() {
		return errors.New("invalid bank transaction type")
	}
	*t = v
	return nil
}

// Well-known bank categories. Category is an open set: operators may post any
// non-empty label, these are only the ones the engine itself emits or aggregates.
const (
	BankCategorySale            = "sale"
	BankCategoryPurchase        = "purchase"
	BankCategoryExpense         = "expense"
	BankCategoryFixedAsset      = "fixed_asset"
	BankCategoryVendorPayment   = "vendor_payment"
	BankCategoryCustomerPayment = "customer_payment"
	BankCategoryOpening         = "opening"
	BankCategoryAdjustment      = "adjustment"
	BankCategoryOther           = "other"
)

type BankReferenceType string

const (
	BankReferenceTypeSale       BankReferenceType = "sale"
	BankReferenceTypePurchase   BankReferenceType = "purchase"
	BankReferenceTypeFixedAsset BankReferenceType = "fixed_asset"
	BankReferenceTypeExpense    BankReferenceType = "expense"
	BankReferenceTypeAccount    BankReferenceType = "account"
)

type AccountType string

const (
	AccountTypeBank       AccountType = "bank"
	AccountTypeFixedAsset AccountType = "fixed_asset"
	AccountTypeExpense    AccountType = "expense"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeBank, AccountTypeFixedAsset, AccountTypeExpense:
		return true
	}
	return false
}

// HistoryOrder selects the direction of a stock history read.
// Desc serves "recent" views; Asc serves audit and replay.
type HistoryOrder string

const (
	HistoryOrderAsc  HistoryOrder = "asc"
	HistoryOrderDesc HistoryOrder = "desc"
)

func ParseHistoryOrder(s string) (HistoryOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "desc", "recent":
		return HistoryOrderDesc, nil
	case "asc", "audit":
		return HistoryOrderAsc, nil
	}
	return "", errors.New("invalid history order (want asc or desc)")
}

type ReconciliationCheckType string

const (
	CheckTypeStockDuplicate        ReconciliationCheckType = "STOCK_DUPLICATE"
	CheckTypeStockDateMismatch     ReconciliationCheckType = "STOCK_DATE_MISMATCH"
	CheckTypeStockSummaryDrift     ReconciliationCheckType = "STOCK_SUMMARY_DRIFT"
	CheckTypeStockPeriodDiagnostic ReconciliationCheckType = "STOCK_PERIOD_DIAGNOSTIC"
	CheckTypeBankBalanceChain      ReconciliationCheckType = "BANK_BALANCE_CHAIN"
)
