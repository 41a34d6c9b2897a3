// stock-date-fix realigns entry_date of sale and purchase movements with the
// date of their document. Running it twice is a no-op. Stock summaries are not
// touched; run stock-rebuild for the listed products afterwards.
//
// Usage:
//
//	go run ./cmd/stock-date-fix -tenant-id=<uuid>
//	go run ./cmd/stock-date-fix -tenant-id=<uuid> -dry-run=false
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id (uuid)")
	dryRun := flag.Bool("dry-run", true, "List mismatched entries only (no updates)")
	xlsxPath := flag.String("xlsx", "", "Optional: write the mismatches to this .xlsx file")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	result, err := workflow.FixEntryDates(context.Background(), db, config.GetLogger(),
		strings.TrimSpace(*tenantID), *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "date fix failed: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY\tPRODUCT\tREFERENCE\tENTRY_DATE\tDOCUMENT_DATE")
	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "%d\t%d\t%s#%d\t%s\t%s\n", m.EntryId, m.ProductId, m.ReferenceType, m.ReferenceId,
			m.EntryDate.Format(utils.DateLayout), m.DocumentDate.Format(utils.DateLayout))
	}
	_ = w.Flush()

	if path := strings.TrimSpace(*xlsxPath); path != "" {
		if err := reports.SaveWorkbook(path, reports.DateMismatchSheet(result.Mismatches)); err != nil {
			fmt.Fprintf(os.Stderr, "write xlsx: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
	}

	if *dryRun {
		fmt.Printf("dry-run: %d mismatched entr(ies)\n", len(result.Mismatches))
		return
	}
	fmt.Printf("updated %d sale and %d purchase entr(ies)\n", result.SaleEntriesUpdated, result.PurchaseEntriesUpdated)
	if len(result.AffectedProductIds) > 0 {
		fmt.Printf("summaries not rebuilt; run stock-rebuild -tenant-id=%s for product(s) %v\n", strings.TrimSpace(*tenantID), result.AffectedProductIds)
	}
}
