// stock-period-diagnostic explains a product's stock over a date window:
// quantity before the window, purchases and sales inside it, and whether the
// cached summary agrees with the movement log.
//
// Usage:
//
//	go run ./cmd/stock-period-diagnostic -tenant-id=<uuid> -product-id=42 -from=2025-01-01 -to=2025-01-31
//	go run ./cmd/stock-period-diagnostic -tenant-id=<uuid> -from=2025-01-01 -to=2025-01-31 -xlsx=jan.xlsx -upload
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id (uuid)")
	productID := flag.Int("product-id", 0, "Optional: product id (default every product with movements)")
	fromStr := flag.String("from", "", "Required: window start (YYYY-MM-DD, inclusive)")
	toStr := flag.String("to", "", "Required: window end (YYYY-MM-DD, inclusive)")
	xlsxPath := flag.String("xlsx", "", "Optional: write the report to this .xlsx file")
	upload := flag.Bool("upload", false, "Upload the report to the reconciliation bucket (REPORTS_GCS_BUCKET)")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}
	from, err := utils.ParseDate(*fromStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from %q: %v\n", *fromStr, err)
		os.Exit(1)
	}
	to, err := utils.ParseDate(*toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to %q: %v\n", *toStr, err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	tenant := strings.TrimSpace(*tenantID)

	var items []models.PeriodDiagnosticReport
	if *productID > 0 {
		r, err := models.PeriodDiagnostic(db, tenant, *productID, from, to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "diagnostic failed: %v\n", err)
			os.Exit(1)
		}
		items = append(items, *r)
	} else {
		items, err = models.PeriodDiagnosticAll(db, tenant, from, to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "diagnostic failed: %v\n", err)
			os.Exit(1)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tNAME\tBEFORE\tPURCHASES\tSALES\tAVAILABLE\tAFTER\tSUMMARY\tDIFF\tMISMATCH")
	mismatches := 0
	for _, r := range items {
		if r.Mismatch {
			mismatches++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n", r.ProductId, r.ProductName,
			r.Before, r.Purchases, r.Sales, r.Available, r.AfterWindow, r.SummaryQty, r.Difference, r.Mismatch)
	}
	_ = w.Flush()
	fmt.Printf("%d product(s), %d mismatch(es)\n", len(items), mismatches)

	sheet := reports.PeriodDiagnosticSheet(items)
	if path := strings.TrimSpace(*xlsxPath); path != "" {
		if err := reports.SaveWorkbook(path, sheet); err != nil {
			fmt.Fprintf(os.Stderr, "write xlsx: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
	}
	if *upload {
		data, err := reports.WriteWorkbook(sheet)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build xlsx: %v\n", err)
			os.Exit(1)
		}
		object, err := utils.ReportObjectKey(tenant, "period_diagnostic",
			from.Format(utils.DateLayout), to.Format(utils.DateLayout), strconv.FormatInt(time.Now().Unix(), 10))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid object key: %v\n", err)
			os.Exit(1)
		}
		uri, err := utils.UploadBytesToGCS(context.Background(), object, data, utils.XlsxContentType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("uploaded %s\n", uri)
	}
	if mismatches > 0 {
		os.Exit(2)
	}
}
