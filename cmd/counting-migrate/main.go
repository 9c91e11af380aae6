// counting-migrate creates/updates the counting tables. With --seed-demo it
// also loads a small demo catalog and opening stock for one business, which
// is handy for trying the counting flow locally.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/counting-migrate
//	go run ./cmd/counting-migrate --seed-demo --business-id=<uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type demoProduct struct {
	name    string
	sku     string
	barcode string
	qty     int64
}

var demoProducts = []demoProduct{
	{"Mineral Water 1L", "WAT-1L", "8850000000011", 120},
	{"Instant Noodle Chicken", "NDL-CHK", "8850000000028", 48},
	{"Coffee Mix 3in1", "COF-3IN1", "8850000000035", 0},
	{"Dish Soap 500ml", "SOAP-500", "8850000000042", 15},
}

func main() {
	seedDemo := flag.Bool("seed-demo", false, "Seed a demo warehouse, products and stock")
	businessID := flag.String("business-id", "", "Business id for --seed-demo")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("counting tables migrated")

	if !*seedDemo {
		return
	}
	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required with --seed-demo")
		os.Exit(1)
	}
	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)
	if err := seed(ctx, db, *businessID); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("demo data seeded")
}

func seed(ctx context.Context, db *gorm.DB, businessID string) error {
	ledger := models.NewGormStockLedger()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		warehouse := models.Warehouse{BusinessId: businessID, Name: "Main Store", Code: "MAIN", IsActive: utils.NewTrue()}
		if err := tx.Create(&warehouse).Error; err != nil {
			return err
		}
		for _, p := range demoProducts {
			product := models.Product{BusinessId: businessID, Name: p.name, Sku: p.sku, Barcode: p.barcode, Unit: "pcs", IsActive: utils.NewTrue()}
			if err := tx.Create(&product).Error; err != nil {
				return err
			}
			if p.qty == 0 {
				continue
			}
			if err := ledger.Receive(ctx, tx, models.StockMovementInput{
				BusinessId:  businessID,
				ProductId:   product.ID,
				WarehouseId: warehouse.ID,
				Qty:         decimal.NewFromInt(p.qty),
				Note:        "demo opening stock",
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
