// Package testutil builds migrated SQLite stores and seed data for engine
// tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/buildtall-systems/denimtrack/internal/db"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
)

// Target is the light-wash SKU most tests order.
var Target = sku.SKU{Style: "ST", Waist: 32, Shape: "X", Length: 32, Wash: sku.WashStardust}

// NewDB opens a migrated database in a temp dir with a strictly increasing
// clock.
func NewDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	database.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	if err := database.Migrate(); err != nil {
		_ = database.Close()
		t.Fatalf("migrating test db: %v", err)
	}

	t.Cleanup(func() { _ = database.Close() })
	return database
}

var seq struct {
	sync.Mutex
	n int
}

func next() int {
	seq.Lock()
	defer seq.Unlock()
	seq.n++
	return seq.n
}

// Order creates a customer and an order for target.
func Order(t *testing.T, database *db.DB, target sku.SKU) *model.Order {
	t.Helper()
	ctx := context.Background()

	n := next()
	c := &model.Customer{Name: fmt.Sprintf("Customer %d", n), Email: fmt.Sprintf("customer%d@example.com", n)}
	if err := database.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("creating customer: %v", err)
	}
	o := &model.Order{CustomerID: c.ID, Target: target}
	if err := database.CreateOrder(ctx, o); err != nil {
		t.Fatalf("creating order: %v", err)
	}
	return o
}

// Stock creates an unbound STOCK unit, optionally inside a bin.
func Stock(t *testing.T, database *db.DB, s sku.SKU, bin *model.Bin) *model.Unit {
	t.Helper()
	ctx := context.Background()

	u := &model.Unit{
		QRCode:     fmt.Sprintf("stock-%d", next()),
		SKU:        s,
		Commitment: model.Uncommitted,
		Stage:      model.StageStock,
		Location:   model.LocationStorageStaging,
	}
	if bin != nil {
		u.BinID = &bin.ID
		u.Location = bin.QRCode
		if err := database.IncrementBin(ctx, bin.ID); err != nil {
			t.Fatalf("filling bin: %v", err)
		}
		bin.CurrentCount++
	}
	if err := database.CreateUnit(ctx, u); err != nil {
		t.Fatalf("creating unit: %v", err)
	}
	return u
}

// Bin creates an active bin.
func Bin(t *testing.T, database *db.DB, qr string, typ model.BinType, capacity int, wash sku.Wash) *model.Bin {
	t.Helper()

	zone := "ZONE1"
	if typ == model.BinWash {
		zone = "WASH"
	}
	b := &model.Bin{
		QRCode:   qr,
		Name:     qr,
		Type:     typ,
		Zone:     zone,
		Capacity: capacity,
		Active:   true,
		Wash:     wash,
	}
	if err := database.CreateBin(context.Background(), b); err != nil {
		t.Fatalf("creating bin: %v", err)
	}
	return b
}
