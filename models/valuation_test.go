package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"github.com/shopspring/decimal"
)

func TestValuationApply(t *testing.T) {
	cases := []struct {
		name      string
		start     models.Valuation
		delta     string
		price     *string
		wantQty   string
		wantAvg   string
		wantValue string
	}{
		{
			name:      "purchase blends into average",
			start:     models.Valuation{Qty: dec("10"), AvgPrice: dec("100"), TotalValue: dec("1000")},
			delta:     "5",
			price:     strPtr("130"),
			wantQty:   "15",
			wantAvg:   "110",
			wantValue: "1650",
		},
		{
			name:      "sale keeps average",
			start:     models.Valuation{Qty: dec("15"), AvgPrice: dec("110"), TotalValue: dec("1650")},
			delta:     "-4",
			wantQty:   "11",
			wantAvg:   "110",
			wantValue: "1210",
		},
		{
			name:      "first purchase seeds average",
			start:     models.Valuation{},
			delta:     "8",
			price:     strPtr("12.5"),
			wantQty:   "8",
			wantAvg:   "12.5",
			wantValue: "100",
		},
		{
			name:      "recovery from negative stock seeds average",
			start:     models.Valuation{Qty: dec("-3"), AvgPrice: dec("40"), TotalValue: dec("-120")},
			delta:     "10",
			price:     strPtr("50"),
			wantQty:   "7",
			wantAvg:   "50",
			wantValue: "350",
		},
		{
			name:      "purchase that stays negative keeps average",
			start:     models.Valuation{Qty: dec("-10"), AvgPrice: dec("40"), TotalValue: dec("-400")},
			delta:     "4",
			price:     strPtr("90"),
			wantQty:   "-6",
			wantAvg:   "40",
			wantValue: "-240",
		},
		{
			name:      "selling to zero keeps average for the next purchase",
			start:     models.Valuation{Qty: dec("4"), AvgPrice: dec("25"), TotalValue: dec("100")},
			delta:     "-4",
			wantQty:   "0",
			wantAvg:   "25",
			wantValue: "0",
		},
		{
			name:      "unpriced adjustment moves quantity at average",
			start:     models.Valuation{Qty: dec("10"), AvgPrice: dec("20"), TotalValue: dec("200")},
			delta:     "2",
			wantQty:   "12",
			wantAvg:   "20",
			wantValue: "240",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.start.Apply(dec(tc.delta), decPtrOrNil(tc.price))
			if !got.Qty.Equal(dec(tc.wantQty)) {
				t.Fatalf("qty: want %s got %s", tc.wantQty, got.Qty)
			}
			if !got.AvgPrice.Equal(dec(tc.wantAvg)) {
				t.Fatalf("avg: want %s got %s", tc.wantAvg, got.AvgPrice)
			}
			if !got.TotalValue.Equal(dec(tc.wantValue)) {
				t.Fatalf("value: want %s got %s", tc.wantValue, got.TotalValue)
			}
		})
	}
}

func TestValuationRoundsAverageToSixPlaces(t *testing.T) {
	v := models.Valuation{}.Apply(dec("100"), decPtr("50"))
	v = v.Apply(dec("50"), decPtr("60"))
	if got := v.AvgPrice.String(); got != "53.333333" {
		t.Fatalf("avg: want 53.333333 got %s", got)
	}
	if got := v.TotalValue.StringFixed(2); got != "8000.00" {
		t.Fatalf("value: want 8000.00 got %s", got)
	}
	v = v.Apply(dec("-30"), nil)
	if got := v.TotalValue.StringFixed(2); got != "6400.00" {
		t.Fatalf("value after sale: want 6400.00 got %s", got)
	}
}

func TestReplayValuationMatchesIncrementalApply(t *testing.T) {
	entries := []models.StockEntry{
		{Quantity: dec("100"), UnitPurchasePrice: decPtr("50")},
		{Quantity: dec("-120")},
		{Quantity: dec("30"), UnitPurchasePrice: decPtr("70")},
		{Quantity: dec("7.5"), UnitPurchasePrice: decPtr("71.25")},
		{Quantity: dec("-2.25")},
	}
	var incremental models.Valuation
	for _, e := range entries {
		incremental = incremental.Apply(e.Quantity, e.UnitPurchasePrice)
	}
	replayed := models.ReplayValuation(entries)
	if !replayed.Qty.Equal(incremental.Qty) || !replayed.AvgPrice.Equal(incremental.AvgPrice) || !replayed.TotalValue.Equal(incremental.TotalValue) {
		t.Fatalf("replay %+v differs from incremental %+v", replayed, incremental)
	}
}

func strPtr(s string) *string { return &s }

func decPtrOrNil(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	return decPtr(*s)
}
