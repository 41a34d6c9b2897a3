package config

import (
	"os"
	"strings"
	"time"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ReconciliationSchedulerEnabled starts the in-process scheduler that publishes
// nightly full_check jobs for every active tenant.
//
// Set via env:
// - RECONCILIATION_SCHEDULER_ENABLED=true
// - RECONCILIATION_INTERVAL_MINUTES=1440 (optional)
func ReconciliationSchedulerEnabled() bool {
	return envBool("RECONCILIATION_SCHEDULER_ENABLED")
}

func ReconciliationInterval() time.Duration {
	minutes := intFromEnv("RECONCILIATION_INTERVAL_MINUTES", 24*60)
	if minutes <= 0 {
		minutes = 24 * 60
	}
	return time.Duration(minutes) * time.Minute
}

// ReconciliationReportUploadEnabled makes reconciliation jobs export their findings
// as xlsx and upload them to GCS_BUCKET (or REPORTS_GCS_BUCKET).
func ReconciliationReportUploadEnabled() bool {
	return envBool("RECONCILIATION_REPORT_UPLOAD")
}

// SkipMigrations disables AutoMigrate on server startup.
// AutoMigrate can run DDL that blocks tables; run it as a separate job instead.
func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

// LedgerRetryMaxAttempts bounds replays of a posting after lock contention.
func LedgerRetryMaxAttempts() int {
	n := intFromEnv("LEDGER_RETRY_MAX_ATTEMPTS", 5)
	if n < 1 {
		return 1
	}
	return n
}

// ReconciliationAutoRepairEnabled makes scheduled full_check jobs repair what
// they find instead of only reporting it.
func ReconciliationAutoRepairEnabled() bool {
	return envBool("RECONCILIATION_AUTO_REPAIR")
}
