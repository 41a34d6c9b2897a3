// migrate runs AutoMigrate once. Deployments that set SKIP_MIGRATIONS=true on the
// API run this as a separate job before rolling out.
package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations complete")
}
