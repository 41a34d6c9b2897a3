package workflow

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("shop-ledger/workflow")

func startSpan(ctx context.Context, name string, tenantId string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("tenant_id", tenantId))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// inTransaction runs fn in a fresh transaction, replaying it on lock conflicts.
func inTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return utils.RetryOnConflict(ctx, func() error {
		return db.WithContext(ctx).Transaction(fn)
	})
}

type MovementResult struct {
	Entry   *models.StockEntry   `json:"entry"`
	Summary *models.StockSummary `json:"summary"`
}

// RecordMovement appends one movement and updates the product summary atomically.
func RecordMovement(ctx context.Context, db *gorm.DB, input models.NewStockEntry) (result *MovementResult, err error) {
	ctx, span := startSpan(ctx, "workflow.RecordMovement", input.TenantId,
		attribute.Int("product_id", input.ProductId),
		attribute.String("entry_type", string(input.EntryType)))
	defer func() { endSpan(span, err) }()

	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		entry, summary, err := models.AppendStockEntry(tx, input)
		if err != nil {
			return err
		}
		result = &MovementResult{Entry: entry, Summary: summary}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reports.InvalidateStockStatistics(ctx, input.TenantId)
	return result, nil
}

type SaleLine struct {
	ProductId     int             `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitSalePrice decimal.Decimal `json:"unit_sale_price"`
}

type NewSale struct {
	TenantId       string          `json:"tenant_id"`
	SaleNumber     string          `json:"sale_number"`
	SaleDate       time.Time       `json:"sale_date"`
	Lines          []SaleLine      `json:"lines"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	Note           string          `json:"note"`
	CreatedBy      int             `json:"created_by"`
}

type SaleResult struct {
	Sale            *models.Sale            `json:"sale"`
	Entries         []*models.StockEntry    `json:"entries"`
	BankTransaction *models.BankTransaction `json:"bank_transaction,omitempty"`
}

func (input NewSale) total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range input.Lines {
		total = total.Add(l.Quantity.Mul(l.UnitSalePrice))
	}
	return total.Round(models.MoneyPlaces)
}

func (input NewSale) validate() error {
	var verrs models.ValidationErrors
	if len(input.Lines) == 0 {
		verrs.Add("Lines", "at least one line is required")
	}
	for _, l := range input.Lines {
		if !l.Quantity.IsPositive() {
			verrs.Add("Lines.Quantity", "must be greater than 0")
		}
		if l.UnitSalePrice.IsNegative() {
			verrs.Add("Lines.UnitSalePrice", "must not be negative")
		}
	}
	if input.SaleDate.IsZero() {
		verrs.Add("SaleDate", "is required")
	}
	if input.ReceivedAmount.IsNegative() {
		verrs.Add("ReceivedAmount", "must not be negative")
	}
	return verrs.OrNil()
}

func (input NewSale) movement(l SaleLine) models.NewStockEntry {
	price := l.UnitSalePrice
	return models.NewStockEntry{
		TenantId:      input.TenantId,
		ProductId:     l.ProductId,
		EntryType:     models.StockEntryTypeSale,
		Quantity:      l.Quantity.Neg(),
		EntryDate:     input.SaleDate,
		UnitSalePrice: &price,
		Note:          input.Note,
		CreatedBy:     input.CreatedBy,
	}
}

// PostSale records a sale header, one outgoing movement per line and, when money
// was received, the bank credit. Everything commits or nothing does.
func PostSale(ctx context.Context, db *gorm.DB, input NewSale) (result *SaleResult, err error) {
	ctx, span := startSpan(ctx, "workflow.PostSale", input.TenantId, attribute.Int("lines", len(input.Lines)))
	defer func() { endSpan(span, err) }()

	if err = input.validate(); err != nil {
		return nil, err
	}
	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		// reject every line before the first write
		for _, l := range input.Lines {
			if err := models.ValidateNewStockEntry(tx, input.movement(l)); err != nil {
				return err
			}
		}
		sale := models.Sale{
			TenantId:       input.TenantId,
			SaleNumber:     strings.TrimSpace(input.SaleNumber),
			SaleDate:       input.SaleDate,
			TotalAmount:    input.total(),
			ReceivedAmount: input.ReceivedAmount.Round(models.MoneyPlaces),
			CreatedBy:      input.CreatedBy,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}

		res := &SaleResult{Sale: &sale}
		refType := models.StockReferenceTypeSale
		for _, l := range input.Lines {
			m := input.movement(l)
			m.ReferenceId = &sale.ID
			m.ReferenceType = &refType
			entry, _, err := models.AppendStockEntry(tx, m)
			if err != nil {
				return err
			}
			res.Entries = append(res.Entries, entry)
		}

		if sale.ReceivedAmount.IsPositive() {
			bankRef := models.BankReferenceTypeSale
			bt, err := models.AppendBankTransaction(tx, models.NewBankTransaction{
				TenantId:        input.TenantId,
				TransactionType: models.BankTransactionTypeCredit,
				Category:        models.BankCategorySale,
				Amount:          sale.ReceivedAmount,
				TransactionDate: sale.SaleDate,
				Description:     "Sale " + sale.SaleNumber,
				ReferenceId:     &sale.ID,
				ReferenceType:   &bankRef,
				CreatedBy:       input.CreatedBy,
			})
			if err != nil {
				return err
			}
			res.BankTransaction = bt
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	reports.InvalidateStockStatistics(ctx, input.TenantId)
	return result, nil
}

type PurchaseLine struct {
	ProductId         int             `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPurchasePrice decimal.Decimal `json:"unit_purchase_price"`
}

type NewPurchase struct {
	TenantId       string          `json:"tenant_id"`
	PurchaseNumber string          `json:"purchase_number"`
	PurchaseDate   time.Time       `json:"purchase_date"`
	Lines          []PurchaseLine  `json:"lines"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Note           string          `json:"note"`
	CreatedBy      int             `json:"created_by"`
}

type PurchaseResult struct {
	Purchase        *models.Purchase        `json:"purchase"`
	Entries         []*models.StockEntry    `json:"entries"`
	BankTransaction *models.BankTransaction `json:"bank_transaction,omitempty"`
}

func (input NewPurchase) total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range input.Lines {
		total = total.Add(l.Quantity.Mul(l.UnitPurchasePrice))
	}
	return total.Round(models.MoneyPlaces)
}

func (input NewPurchase) validate() error {
	var verrs models.ValidationErrors
	if len(input.Lines) == 0 {
		verrs.Add("Lines", "at least one line is required")
	}
	for _, l := range input.Lines {
		if !l.Quantity.IsPositive() {
			verrs.Add("Lines.Quantity", "must be greater than 0")
		}
		if l.UnitPurchasePrice.IsNegative() {
			verrs.Add("Lines.UnitPurchasePrice", "must not be negative")
		}
	}
	if input.PurchaseDate.IsZero() {
		verrs.Add("PurchaseDate", "is required")
	}
	if input.PaidAmount.IsNegative() {
		verrs.Add("PaidAmount", "must not be negative")
	}
	return verrs.OrNil()
}

func (input NewPurchase) movement(l PurchaseLine) models.NewStockEntry {
	price := l.UnitPurchasePrice
	return models.NewStockEntry{
		TenantId:          input.TenantId,
		ProductId:         l.ProductId,
		EntryType:         models.StockEntryTypePurchase,
		Quantity:          l.Quantity,
		EntryDate:         input.PurchaseDate,
		UnitPurchasePrice: &price,
		Note:              input.Note,
		CreatedBy:         input.CreatedBy,
	}
}

// PostPurchase records a purchase header, its incoming movements and the bank
// debit for the paid amount in one transaction.
func PostPurchase(ctx context.Context, db *gorm.DB, input NewPurchase) (result *PurchaseResult, err error) {
	ctx, span := startSpan(ctx, "workflow.PostPurchase", input.TenantId, attribute.Int("lines", len(input.Lines)))
	defer func() { endSpan(span, err) }()

	if err = input.validate(); err != nil {
		return nil, err
	}
	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		for _, l := range input.Lines {
			if err := models.ValidateNewStockEntry(tx, input.movement(l)); err != nil {
				return err
			}
		}
		purchase := models.Purchase{
			TenantId:       input.TenantId,
			PurchaseNumber: strings.TrimSpace(input.PurchaseNumber),
			PurchaseDate:   input.PurchaseDate,
			TotalAmount:    input.total(),
			PaidAmount:     input.PaidAmount.Round(models.MoneyPlaces),
			CreatedBy:      input.CreatedBy,
		}
		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}

		res := &PurchaseResult{Purchase: &purchase}
		refType := models.StockReferenceTypePurchase
		for _, l := range input.Lines {
			m := input.movement(l)
			m.ReferenceId = &purchase.ID
			m.ReferenceType = &refType
			entry, _, err := models.AppendStockEntry(tx, m)
			if err != nil {
				return err
			}
			res.Entries = append(res.Entries, entry)
		}

		if purchase.PaidAmount.IsPositive() {
			bankRef := models.BankReferenceTypePurchase
			bt, err := models.AppendBankTransaction(tx, models.NewBankTransaction{
				TenantId:        input.TenantId,
				TransactionType: models.BankTransactionTypeDebit,
				Category:        models.BankCategoryPurchase,
				Amount:          purchase.PaidAmount,
				TransactionDate: purchase.PurchaseDate,
				Description:     "Purchase " + purchase.PurchaseNumber,
				ReferenceId:     &purchase.ID,
				ReferenceType:   &bankRef,
				CreatedBy:       input.CreatedBy,
			})
			if err != nil {
				return err
			}
			res.BankTransaction = bt
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	reports.InvalidateStockStatistics(ctx, input.TenantId)
	return result, nil
}

// RecordBankTransaction appends one bank ledger row.
func RecordBankTransaction(ctx context.Context, db *gorm.DB, input models.NewBankTransaction) (result *models.BankTransaction, err error) {
	ctx, span := startSpan(ctx, "workflow.RecordBankTransaction", input.TenantId,
		attribute.String("transaction_type", string(input.TransactionType)),
		attribute.String("category", input.Category))
	defer func() { endSpan(span, err) }()

	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		bt, err := models.AppendBankTransaction(tx, input)
		if err != nil {
			return err
		}
		result = bt
		return nil
	})
	return result, err
}

func UpdateBankTransaction(ctx context.Context, db *gorm.DB, tenantId string, id int, input models.UpdateBankTransactionInput) (result *models.BankTransaction, err error) {
	ctx, span := startSpan(ctx, "workflow.UpdateBankTransaction", tenantId, attribute.Int("transaction_id", id))
	defer func() { endSpan(span, err) }()

	err = inTransaction(ctx, db, func(tx *gorm.DB) error {
		bt, err := models.UpdateBankTransaction(tx, tenantId, id, input)
		if err != nil {
			return err
		}
		result = bt
		return nil
	})
	return result, err
}

func DeleteBankTransaction(ctx context.Context, db *gorm.DB, tenantId string, id int) (err error) {
	ctx, span := startSpan(ctx, "workflow.DeleteBankTransaction", tenantId, attribute.Int("transaction_id", id))
	defer func() { endSpan(span, err) }()

	return inTransaction(ctx, db, func(tx *gorm.DB) error {
		return models.DeleteBankTransaction(tx, tenantId, id)
	})
}
