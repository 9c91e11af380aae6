// Package countingtest sets up an in-memory database with a small catalog
// for counting tests.
package countingtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	AdminId    = 1
	Counter1Id = 11
	Counter2Id = 12
	Counter3Id = 13
	OutsiderId = 99
)

// Fixture is one business with two warehouses and three products. Opening
// stock: warehouse A holds 100 of product 0 and 40 of product 1, warehouse B
// holds 10 of product 2.
type Fixture struct {
	DB         *gorm.DB
	BusinessId string
	Ledger     *models.GormStockLedger
	Warehouses []models.Warehouse
	Products   []models.Product

	Admin    models.Actor
	Counter1 models.Actor
	Counter2 models.Actor
	Counter3 models.Actor
	Outsider models.Actor
}

// OpenDB opens a private in-memory database, migrates it and installs it as
// the global DB. A single connection keeps every transaction serialized.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := config.SetDB(db); err != nil {
		t.Fatalf("set db: %v", err)
	}
	return db
}

// New opens a database and seeds the fixture business.
func New(t testing.TB) *Fixture {
	t.Helper()
	db := OpenDB(t)
	businessId := uuid.NewString()
	f := &Fixture{
		DB:         db,
		BusinessId: businessId,
		Ledger:     models.NewGormStockLedger(),
		Admin:      models.Actor{BusinessId: businessId, UserId: AdminId, UserName: "Admin", Role: models.UserRoleAdmin},
		Counter1:   models.Actor{BusinessId: businessId, UserId: Counter1Id, UserName: "Counter 1", Role: models.UserRoleCounter},
		Counter2:   models.Actor{BusinessId: businessId, UserId: Counter2Id, UserName: "Counter 2", Role: models.UserRoleCounter},
		Counter3:   models.Actor{BusinessId: businessId, UserId: Counter3Id, UserName: "Counter 3", Role: models.UserRoleCounter},
		Outsider:   models.Actor{BusinessId: businessId, UserId: OutsiderId, UserName: "Outsider", Role: models.UserRoleCounter},
	}

	for _, code := range []string{"A", "B"} {
		w := models.Warehouse{BusinessId: businessId, Name: "Warehouse " + code, Code: code, IsActive: utils.NewTrue()}
		if err := db.Create(&w).Error; err != nil {
			t.Fatalf("create warehouse: %v", err)
		}
		f.Warehouses = append(f.Warehouses, w)
	}
	for i, name := range []string{"Rice 5kg", "Cooking Oil 1L", "Sugar 1kg", "Salt 500g"} {
		p := models.Product{
			BusinessId: businessId,
			Name:       name,
			Sku:        fmt.Sprintf("SKU-%d", i+1),
			Barcode:    fmt.Sprintf("88500000000%d", i+1),
			Unit:       "pcs",
			IsActive:   utils.NewTrue(),
		}
		if err := db.Create(&p).Error; err != nil {
			t.Fatalf("create product: %v", err)
		}
		f.Products = append(f.Products, p)
	}

	f.Receive(t, 0, 0, 100)
	f.Receive(t, 0, 1, 40)
	f.Receive(t, 1, 2, 10)
	return f
}

// Receive books qty of product p into warehouse w (indexes into the fixture).
func (f *Fixture) Receive(t testing.TB, w int, p int, qty int64) {
	t.Helper()
	err := f.Ledger.Receive(context.Background(), f.DB, models.StockMovementInput{
		BusinessId:  f.BusinessId,
		ProductId:   f.Products[p].ID,
		WarehouseId: f.Warehouses[w].ID,
		Qty:         decimal.NewFromInt(qty),
		Note:        "opening stock",
		ActorId:     AdminId,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
}

// SessionInput is a sequential single-warehouse session over warehouse A.
func (f *Fixture) SessionInput() *models.NewCountingSession {
	return &models.NewCountingSession{
		WarehouseIds:  []int{f.Warehouses[0].ID},
		ExecutionMode: models.ExecutionModeSequential,
		Count1UserId:  Counter1Id,
	}
}

// TwoCountInput is SessionInput with a second count (and optionally a third).
func (f *Fixture) TwoCountInput(mode models.ExecutionMode, withThird bool) *models.NewCountingSession {
	in := f.SessionInput()
	in.ExecutionMode = mode
	in.RequiresCount2 = true
	in.Count2UserId = IntPtr(Counter2Id)
	if withThird {
		in.RequiresCount3 = true
		in.Count3UserId = IntPtr(Counter3Id)
	}
	return in
}

// CreateSession creates a session as the fixture admin.
func (f *Fixture) CreateSession(t testing.TB, in *models.NewCountingSession) *models.CountingSession {
	t.Helper()
	session, err := models.CreateCountingSession(context.Background(), f.Admin, in, f.Ledger)
	if err != nil {
		t.Fatalf("CreateCountingSession: %v", err)
	}
	return session
}

// Items returns the session's items in id order.
func (f *Fixture) Items(t testing.TB, sessionId int) []*models.CountLedgerItem {
	t.Helper()
	items, err := models.ListCountLedgerItems(context.Background(), f.DB, f.BusinessId, sessionId)
	if err != nil {
		t.Fatalf("ListCountLedgerItems: %v", err)
	}
	return items
}

// ItemFor finds the session's item for product p in warehouse w.
func (f *Fixture) ItemFor(t testing.TB, sessionId int, w int, p int) *models.CountLedgerItem {
	t.Helper()
	for _, item := range f.Items(t, sessionId) {
		if item.WarehouseId == f.Warehouses[w].ID && item.ProductId == f.Products[p].ID {
			return item
		}
	}
	t.Fatalf("no item for warehouse %d product %d", w, p)
	return nil
}

// Session reloads a session as the admin.
func (f *Fixture) Session(t testing.TB, sessionId int) *models.CountingSession {
	t.Helper()
	session, err := models.GetCountingSession(context.Background(), f.Admin, sessionId)
	if err != nil {
		t.Fatalf("GetCountingSession: %v", err)
	}
	return session
}

// Submit records qty as actor and fails the test on error.
func (f *Fixture) Submit(t testing.TB, actor models.Actor, sessionId int, itemId int, qty int64) *models.CounterItemView {
	t.Helper()
	view, err := models.SubmitCount(context.Background(), actor, sessionId, itemId, decimal.NewFromInt(qty))
	if err != nil {
		t.Fatalf("SubmitCount(user %d, item %d, %d): %v", actor.UserId, itemId, qty, err)
	}
	return view
}

// Balance reads the ledger's on-hand quantity for product p in warehouse w.
func (f *Fixture) Balance(t testing.TB, w int, p int) decimal.Decimal {
	t.Helper()
	balances, err := f.Ledger.OnHand(context.Background(), f.DB, f.BusinessId,
		[]int{f.Warehouses[w].ID}, []int{f.Products[p].ID})
	if err != nil {
		t.Fatalf("OnHand: %v", err)
	}
	if len(balances) == 0 {
		return decimal.Zero
	}
	return balances[0].Qty
}

func IntPtr(v int) *int { return &v }
