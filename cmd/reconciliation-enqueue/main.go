// reconciliation-enqueue publishes reconciliation jobs without going through the
// HTTP API. Jobs are dry runs unless -dry-run=false is passed.
//
// Usage:
//
//	go run ./cmd/reconciliation-enqueue -tenant-id=<uuid> -kind=full_check
//	go run ./cmd/reconciliation-enqueue -tenant-id=<uuid> -kind=period_diagnostic -from=2025-01-01 -to=2025-01-31
//	go run ./cmd/reconciliation-enqueue -all-tenants -kind=stock_rebuild -dry-run=false
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
	"github.com/google/uuid"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Tenant id (uuid); required unless -all-tenants")
	allTenants := flag.Bool("all-tenants", false, "Enqueue one job per active tenant")
	kind := flag.String("kind", string(workflow.JobKindFullCheck), "Job kind: stock_rebuild, bank_recompute, duplicate_scan, date_fix, period_diagnostic, full_check")
	productID := flag.Int("product-id", 0, "Optional: limit stock_rebuild/period_diagnostic to one product")
	fromStr := flag.String("from", "", "period_diagnostic window start (YYYY-MM-DD)")
	toStr := flag.String("to", "", "period_diagnostic window end (YYYY-MM-DD)")
	dryRun := flag.Bool("dry-run", true, "Enqueue as dry run (no repairs)")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" && !*allTenants {
		fmt.Fprintln(os.Stderr, "--tenant-id or --all-tenants is required")
		os.Exit(1)
	}

	job := workflow.ReconciliationJob{
		Kind:        workflow.ReconciliationJobKind(strings.ToLower(strings.TrimSpace(*kind))),
		ProductId:   *productID,
		DryRun:      *dryRun,
		RequestedBy: "cli",
	}
	if u, err := user.Current(); err == nil {
		job.RequestedBy = "cli:" + u.Username
	}
	var err error
	if strings.TrimSpace(*fromStr) != "" {
		if job.WindowStart, err = utils.ParseDate(*fromStr); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -from %q: %v\n", *fromStr, err)
			os.Exit(1)
		}
	}
	if strings.TrimSpace(*toStr) != "" {
		if job.WindowEnd, err = utils.ParseDate(*toStr); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -to %q: %v\n", *toStr, err)
			os.Exit(1)
		}
	}

	tenantIds := []string{strings.TrimSpace(*tenantID)}
	if *allTenants {
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		if db == nil {
			fmt.Fprintln(os.Stderr, "database not initialized")
			os.Exit(1)
		}
		if tenantIds, err = models.ListActiveTenantIds(db); err != nil {
			fmt.Fprintf(os.Stderr, "list tenants: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	publisher := config.PubSubJobPublisher{}
	for _, id := range tenantIds {
		job.TenantId = id
		job.CorrelationId = uuid.NewString()
		messageId, err := workflow.EnqueueReconciliationJob(ctx, publisher, job)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue failed for tenant %s: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("tenant=%s kind=%s dry_run=%t message_id=%s correlation_id=%s\n", id, job.Kind, job.DryRun, messageId, job.CorrelationId)
	}
}
