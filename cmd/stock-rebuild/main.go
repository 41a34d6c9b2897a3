// stock-rebuild replays the movement log of each product and overwrites its
// stock summary. Use it after manual data fixes or when a reconciliation run
// reports summary drift.
//
// Usage (dry-run, report what would change):
//
//	go run ./cmd/stock-rebuild -tenant-id=<uuid>
//
// Apply for one product, or for every active tenant:
//
//	go run ./cmd/stock-rebuild -tenant-id=<uuid> -product-id=42 -dry-run=false
//	go run ./cmd/stock-rebuild -all-tenants -dry-run=false -continue-on-error
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Tenant id (uuid); required unless -all-tenants")
	allTenants := flag.Bool("all-tenants", false, "Rebuild every active tenant")
	productID := flag.Int("product-id", 0, "Optional: rebuild only this product")
	dryRun := flag.Bool("dry-run", true, "Report differences only (no writes)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing tenants and continue with the others")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" && !*allTenants {
		fmt.Fprintln(os.Stderr, "--tenant-id or --all-tenants is required")
		os.Exit(1)
	}
	if *allTenants && *productID > 0 {
		fmt.Fprintln(os.Stderr, "--product-id cannot be combined with --all-tenants")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	tenantIds := []string{strings.TrimSpace(*tenantID)}
	if *allTenants {
		ids, err := models.ListActiveTenantIds(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list tenants: %v\n", err)
			os.Exit(1)
		}
		tenantIds = ids
	}

	var productIds []int
	if *productID > 0 {
		productIds = []int{*productID}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tPRODUCT\tQTY\tAVG\tVALUE\tAPPLIED")
	failed := 0
	for _, id := range tenantIds {
		result, err := workflow.RebuildTenantStockSummaries(context.Background(), db, logger, id, productIds, *dryRun)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "rebuild failed for tenant %s (skipping): %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(os.Stderr, "rebuild failed for tenant %s: %v\n", id, err)
			os.Exit(1)
		}
		for _, p := range result.Products {
			if !p.Changed {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s -> %s\t%s -> %s\t%s -> %s\t%t\n", id, p.ProductId,
				p.Before.Qty, p.After.Qty, p.Before.AvgPrice, p.After.AvgPrice,
				p.Before.TotalValue, p.After.TotalValue, p.Applied)
		}
		_ = w.Flush()
		fmt.Printf("tenant %s: %d product(s) checked, %d changed\n", id, result.ProductCount, result.ChangedCount)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d tenant(s) failed\n", failed)
		os.Exit(1)
	}
	if *dryRun {
		fmt.Println("dry-run: no summaries written (use -dry-run=false to apply)")
		return
	}
	fmt.Println("stock rebuild complete")
}
