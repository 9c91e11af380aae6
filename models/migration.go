package models

import (
	"log"

	"github.com/mmdatafocus/stockcount_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CountingSession{}, &CountLedgerItem{}, &CountAssignment{},
		&History{},
		&InventoryAdjustment{}, &InventoryAdjustmentDetail{},
		&Product{},
		&StockBalance{}, &StockMovement{},
		&Warehouse{},
	)
}
