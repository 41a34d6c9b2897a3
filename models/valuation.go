package models

import (
	"github.com/shopspring/decimal"
)

const (
	// AvgPricePlaces bounds compounding rounding error across thousands of incremental updates.
	AvgPricePlaces int32 = 6
	MoneyPlaces    int32 = 2
	QtyPlaces      int32 = 4
)

// Valuation is the weighted-average state of one (tenant, product).
type Valuation struct {
	Qty        decimal.Decimal `json:"qty"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Apply folds one movement into v.
//
// Incoming priced stock blends its price into the average; everything else
// (outgoing stock, unpriced adjustments) moves quantity at the existing average.
// Coming up from zero or negative stock seeds the average with the unit price.
// When quantity lands on zero the average is kept for the next purchase.
func (v Valuation) Apply(delta decimal.Decimal, unitPrice *decimal.Decimal) Valuation {
	oldQty := v.Qty
	newQty := oldQty.Add(delta)
	avg := v.AvgPrice

	if delta.IsPositive() && unitPrice != nil {
		switch {
		case !oldQty.IsPositive() && newQty.IsPositive():
			avg = *unitPrice
		case oldQty.IsPositive():
			// newQty > 0 here since both terms are positive
			weighted := oldQty.Mul(v.AvgPrice).Add(delta.Mul(*unitPrice))
			avg = weighted.DivRound(newQty, AvgPricePlaces+4)
		}
	}

	avg = avg.Round(AvgPricePlaces)
	return Valuation{
		Qty:        newQty,
		AvgPrice:   avg,
		TotalValue: newQty.Mul(avg).Round(MoneyPlaces),
	}
}

// ReplayValuation folds movements from a zero base. Rebuild and incremental
// maintenance share Apply so both paths produce identical figures.
func ReplayValuation(entries []StockEntry) Valuation {
	var v Valuation
	for _, e := range entries {
		v = v.Apply(e.Quantity, e.UnitPurchasePrice)
	}
	return v
}
