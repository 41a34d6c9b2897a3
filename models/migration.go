package models

import (
	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Tenant{}, &Product{}, &Sale{}, &Purchase{},
		&Account{}, &BankTransaction{},
		&StockEntry{}, &StockSummary{},
		&ReconciliationReport{},
	)
}

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		config.GetLogger().WithError(err).Fatal("migration failed")
	}
}
