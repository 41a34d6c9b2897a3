// bank-balance-recompute replays bank transactions in date order and rewrites
// balance_after plus the bank, expense and fixed asset account balances. Run it
// after back-dated postings or manual edits of bank rows.
//
// Usage:
//
//	go run ./cmd/bank-balance-recompute -tenant-id=<uuid>
//	go run ./cmd/bank-balance-recompute -all-tenants -dry-run=false
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
	allTenants := flag.Bool("all-tenants", false, "Recompute every active tenant")
	dryRun := flag.Bool("dry-run", true, "Report differences only (no writes)")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" && !*allTenants {
		fmt.Fprintln(os.Stderr, "--tenant-id or --all-tenants is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	tenantIds := []string{strings.TrimSpace(*tenantID)}
	if *allTenants {
		ids, err := models.ListActiveTenantIds(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list tenants: %v\n", err)
			os.Exit(1)
		}
		tenantIds = ids
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tROWS\tUPDATED\tPREVIOUS\tFINAL\tEXPENSE\tAPPLIED")
	for _, id := range tenantIds {
		r, err := workflow.RecomputeTenantBankBalances(context.Background(), db, config.GetLogger(), id, *dryRun)
		if err != nil {
			_ = w.Flush()
			fmt.Fprintf(os.Stderr, "recompute failed for tenant %s: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s -> %s\t%t\n", id, r.TransactionCount, r.UpdatedCount,
			r.PreviousBalance.StringFixed(2), r.FinalBalance.StringFixed(2),
			r.ExpenseBefore.StringFixed(2), r.ExpenseAfter.StringFixed(2), r.Applied)
	}
	_ = w.Flush()

	if *dryRun {
		fmt.Println("dry-run: no balances written (use -dry-run=false to apply)")
		return
	}
	fmt.Println("bank balance recompute complete")
}
