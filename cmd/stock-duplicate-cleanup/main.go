// stock-duplicate-cleanup finds sale/purchase lines that were posted to the
// movement log more than once (retried requests, double submits) and deletes
// every copy except the oldest.
//
// Usage (dry-run, list duplicate groups):
//
//	go run ./cmd/stock-duplicate-cleanup -tenant-id=<uuid> -xlsx=duplicates.xlsx
//
// To delete and rebuild the affected summaries:
//
//	go run ./cmd/stock-duplicate-cleanup -tenant-id=<uuid> -dry-run=false -confirm=DELETE
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
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id (uuid)")
	dryRun := flag.Bool("dry-run", true, "List duplicate groups only (no deletes)")
	confirm := flag.String("confirm", "", "Type DELETE to proceed when dry-run=false")
	rebuild := flag.Bool("rebuild", true, "Rebuild stock summaries of affected products after deleting")
	xlsxPath := flag.String("xlsx", "", "Optional: write the duplicate groups to this .xlsx file")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "DELETE" {
		fmt.Fprintln(os.Stderr, "set --confirm=DELETE to proceed when -dry-run=false")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	result, err := workflow.CleanupDuplicateMovements(context.Background(), db, config.GetLogger(),
		strings.TrimSpace(*tenantID), *dryRun, *rebuild)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duplicate cleanup failed: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tPRODUCT\tCOUNT\tKEEP\tREDUNDANT")
	for _, g := range result.Groups {
		fmt.Fprintf(w, "%s#%d\t%d\t%d\t%d\t%v\n", g.ReferenceType, g.ReferenceId, g.ProductId, g.Count, g.KeepId(), g.RedundantIds())
	}
	_ = w.Flush()

	if path := strings.TrimSpace(*xlsxPath); path != "" {
		if err := reports.SaveWorkbook(path, reports.DuplicateSheet(result.Groups)); err != nil {
			fmt.Fprintf(os.Stderr, "write xlsx: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
	}

	if *dryRun {
		fmt.Printf("dry-run: %d group(s), %d row(s) would be deleted\n", len(result.Groups), result.Resolution.Removed)
		return
	}
	fmt.Printf("deleted %d stock_entries row(s) across %d group(s)\n", result.Resolution.Removed, len(result.Groups))
	if result.Rebuild != nil {
		fmt.Printf("rebuilt %d product(s), %d changed\n", result.Rebuild.ProductCount, result.Rebuild.ChangedCount)
	} else if result.Resolution.Warning != "" {
		fmt.Println("warning: " + result.Resolution.Warning)
	}
}
