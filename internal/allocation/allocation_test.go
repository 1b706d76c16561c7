package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/db"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/production"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
	"github.com/buildtall-systems/denimtrack/internal/testutil"
)

func setup(t *testing.T) (*Engine, *db.DB) {
	t.Helper()
	database := testutil.NewDB(t)
	e := NewEngine(database, production.NewManager(database, nil), DefaultConfig(), nil)
	return e, database
}

func universal(length int, wash sku.Wash) sku.SKU {
	return sku.SKU{Style: "ST", Waist: 32, Shape: "X", Length: length, Wash: wash}
}

func TestAllocate_PrefersExactStock(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)

	bin := testutil.Bin(t, database, "STORAGE-A", model.BinStorage, 10, "")
	testutil.Stock(t, database, universal(36, sku.WashRaw), bin)
	exact := testutil.Stock(t, database, testutil.Target, bin)
	o := testutil.Order(t, database, testutil.Target)

	res, err := e.Allocate(ctx, Request{OrderID: o.ID, Target: testutil.Target, Quantity: 1})
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if len(res.BoundUnits) != 1 || res.BoundUnits[0].ID != exact.ID {
		t.Fatalf("bound = %+v, want exact unit %d", res.BoundUnits, exact.ID)
	}
	if res.Shortfall != 0 || res.ProductionRequest != nil {
		t.Errorf("unexpected shortfall: %+v", res)
	}

	u, _ := database.GetUnit(ctx, exact.ID)
	if u.Commitment != model.Assigned || u.Stage != model.StageWashQueue || u.Location != model.LocationWashStaging {
		t.Errorf("unit state = %s/%s/%s", u.Commitment, u.Stage, u.Location)
	}
	if u.OrderID == nil || *u.OrderID != o.ID || u.BinID != nil {
		t.Errorf("unit binding = order %v bin %v", u.OrderID, u.BinID)
	}

	got, _ := database.GetOrder(ctx, o.ID)
	if got.Status != model.OrderAssigned || got.Stage != model.StageWashQueue {
		t.Errorf("order = %s/%s", got.Status, got.Stage)
	}

	b, _ := database.GetBin(ctx, bin.ID)
	if b.CurrentCount != 1 {
		t.Errorf("bin count = %d, want 1", b.CurrentCount)
	}

	events, _ := database.ListScanEvents(ctx, exact.ID)
	if len(events) != 1 || events[0].Type != model.ScanAllocation || !events[0].Success {
		t.Errorf("events = %+v", events)
	}
}

func TestAllocate_UniversalStock(t *testing.T) {
	tests := []struct {
		name      string
		stock     sku.SKU
		wantBound bool
	}{
		{name: "longer raw unit", stock: universal(36, sku.WashRaw), wantBound: true},
		{name: "same length raw unit", stock: universal(32, sku.WashRaw), wantBound: true},
		{name: "shorter raw unit", stock: universal(30, sku.WashRaw)},
		{name: "wrong wash group", stock: universal(36, sku.WashBrown)},
		{name: "concrete wash of another color", stock: universal(32, sku.WashIndigo)},
		{name: "different waist", stock: sku.SKU{Style: "ST", Waist: 30, Shape: "X", Length: 36, Wash: sku.WashRaw}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, database := setup(t)
			unit := testutil.Stock(t, database, tt.stock, nil)
			o := testutil.Order(t, database, testutil.Target)

			res, err := e.Allocate(ctx, Request{OrderID: o.ID, Target: testutil.Target, Quantity: 1})
			if err != nil {
				t.Fatalf("Allocate() error: %v", err)
			}
			if tt.wantBound {
				if len(res.BoundUnits) != 1 || res.BoundUnits[0].ID != unit.ID {
					t.Errorf("bound = %+v, want unit %d", res.BoundUnits, unit.ID)
				}
				return
			}
			if len(res.BoundUnits) != 0 || res.Shortfall != 1 {
				t.Errorf("result = %+v, want shortfall 1", res)
			}
			if res.ProductionRequest == nil || res.Waitlist == nil {
				t.Fatal("shortfall did not reach production")
			}
			if res.ProductionRequest.SKU.String() != "ST-32-X-36-RAW" {
				t.Errorf("request sku = %s", res.ProductionRequest.SKU)
			}
		})
	}
}

func TestAllocate_OldestFirst(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)

	older := testutil.Stock(t, database, testutil.Target, nil)
	newer := testutil.Stock(t, database, testutil.Target, nil)
	a := testutil.Order(t, database, testutil.Target)
	b := testutil.Order(t, database, testutil.Target)

	resA, err := e.Allocate(ctx, Request{OrderID: a.ID, Target: testutil.Target, Quantity: 1})
	if err != nil {
		t.Fatalf("Allocate(a) error: %v", err)
	}
	resB, err := e.Allocate(ctx, Request{OrderID: b.ID, Target: testutil.Target, Quantity: 1})
	if err != nil {
		t.Fatalf("Allocate(b) error: %v", err)
	}
	if resA.BoundUnits[0].ID != older.ID || resB.BoundUnits[0].ID != newer.ID {
		t.Errorf("a got %d, b got %d; want %d then %d",
			resA.BoundUnits[0].ID, resB.BoundUnits[0].ID, older.ID, newer.ID)
	}
}

func TestAllocate_ShortfallExtendsMatchingRequest(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)

	first := testutil.Order(t, database, testutil.Target)
	second := testutil.Order(t, database, universal(30, sku.WashIndigo))

	r1, err := e.Allocate(ctx, Request{OrderID: first.ID, Target: first.Target, Quantity: 1})
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	r2, err := e.Allocate(ctx, Request{OrderID: second.ID, Target: second.Target, Quantity: 1})
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if r1.ProductionRequest.ID != r2.ProductionRequest.ID {
		t.Errorf("orders landed on requests %d and %d, want one", r1.ProductionRequest.ID, r2.ProductionRequest.ID)
	}
	if r1.Waitlist.Position != 1 || r2.Waitlist.Position != 2 {
		t.Errorf("positions = %d, %d", r1.Waitlist.Position, r2.Waitlist.Position)
	}
	if r2.ProductionRequest.Quantity != 2 {
		t.Errorf("quantity = %d, want 2", r2.ProductionRequest.Quantity)
	}
}

func TestAllocate_Validation(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)
	unit := testutil.Stock(t, database, testutil.Target, nil)
	o := testutil.Order(t, database, testutil.Target)

	tests := []struct {
		name string
		req  Request
		want apperr.Kind
	}{
		{name: "zero quantity", req: Request{OrderID: o.ID, Target: testutil.Target}, want: apperr.InvalidQuantity},
		{name: "negative quantity", req: Request{OrderID: o.ID, Target: testutil.Target, Quantity: -1}, want: apperr.InvalidQuantity},
		{name: "unknown wash", req: Request{OrderID: o.ID, Target: universal(32, "XYZ"), Quantity: 1}, want: apperr.InvalidWashCode},
		{name: "universal target", req: Request{OrderID: o.ID, Target: universal(32, sku.WashRaw), Quantity: 1}, want: apperr.InvalidWashCode},
		{name: "no order", req: Request{Target: testutil.Target, Quantity: 1}, want: apperr.InvalidInput},
		{name: "more than one garment", req: Request{OrderID: o.ID, Target: testutil.Target, Quantity: 2}, want: apperr.InvalidInput},
		{name: "target differs from order", req: Request{OrderID: o.ID, Target: universal(30, sku.WashStardust), Quantity: 1}, want: apperr.InvalidInput},
		{name: "missing order", req: Request{OrderID: 999, Target: testutil.Target, Quantity: 1}, want: apperr.OrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Allocate(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Allocate() error = %v, want %s", err, tt.want)
			}
			u, _ := database.GetUnit(ctx, unit.ID)
			if u.Commitment != model.Uncommitted || u.Stage != model.StageStock {
				t.Errorf("unit changed after rejected allocation: %s/%s", u.Commitment, u.Stage)
			}
		})
	}
}

func TestAvailable(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)

	testutil.Stock(t, database, testutil.Target, nil)
	testutil.Stock(t, database, universal(34, sku.WashRaw), nil)
	testutil.Stock(t, database, universal(30, sku.WashRaw), nil)

	got, err := e.Available(ctx, testutil.Target, 5)
	if err != nil {
		t.Fatalf("Available() error: %v", err)
	}
	if len(got.Units) != 2 || got.Exact != 1 || got.Shortfall != 3 {
		t.Errorf("Available() = %d units, %d exact, shortfall %d", len(got.Units), got.Exact, got.Shortfall)
	}
	for _, u := range got.Units {
		stored, _ := database.GetUnit(ctx, u.ID)
		if stored.Commitment != model.Uncommitted {
			t.Errorf("Available() bound unit %d", u.ID)
		}
	}

	if _, err := e.Available(ctx, testutil.Target, 0); !errors.Is(err, apperr.InvalidQuantity) {
		t.Errorf("Available(qty 0) error = %v, want InvalidQuantity", err)
	}
}

func TestAllocateOrder_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)

	stocked := testutil.Order(t, database, testutil.Target)
	unit := testutil.Stock(t, database, testutil.Target, nil)
	queued := testutil.Order(t, database, universal(30, sku.WashOnyx))

	for i := 0; i < 2; i++ {
		res, err := e.AllocateOrder(ctx, stocked.ID)
		if err != nil {
			t.Fatalf("AllocateOrder(stocked) #%d error: %v", i, err)
		}
		if len(res.BoundUnits) != 1 || res.BoundUnits[0].ID != unit.ID {
			t.Errorf("#%d bound = %+v", i, res.BoundUnits)
		}

		res, err = e.AllocateOrder(ctx, queued.ID)
		if err != nil {
			t.Fatalf("AllocateOrder(queued) #%d error: %v", i, err)
		}
		if res.Waitlist == nil || res.Waitlist.Position != 1 || res.ProductionRequest.Quantity != 1 {
			t.Errorf("#%d waitlist = %+v request = %+v", i, res.Waitlist, res.ProductionRequest)
		}
	}

	if _, err := e.AllocateOrder(ctx, 404); !errors.Is(err, apperr.OrderNotFound) {
		t.Errorf("AllocateOrder(404) error = %v, want OrderNotFound", err)
	}
}

func TestAllocate_ConcurrentOrdersNeverShareAUnit(t *testing.T) {
	ctx := context.Background()
	e, database := setup(t)

	const stock, orders = 3, 8
	for i := 0; i < stock; i++ {
		testutil.Stock(t, database, testutil.Target, nil)
	}
	var ids []int64
	for i := 0; i < orders; i++ {
		ids = append(ids, testutil.Order(t, database, testutil.Target).ID)
	}

	var wg sync.WaitGroup
	results := make([]*Result, orders)
	errs := make([]error, orders)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			results[i], errs[i] = e.Allocate(ctx, Request{OrderID: id, Target: testutil.Target, Quantity: 1})
		}(i, id)
	}
	wg.Wait()

	seen := make(map[int64]int64)
	bound, waitlisted := 0, 0
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("order %d: %v", ids[i], errs[i])
		}
		for _, u := range res.BoundUnits {
			if other, dup := seen[u.ID]; dup {
				t.Errorf("unit %d bound to orders %d and %d", u.ID, other, ids[i])
			}
			seen[u.ID] = ids[i]
			bound++
		}
		if res.Waitlist != nil {
			waitlisted++
		}
	}
	if bound != stock || waitlisted != orders-stock {
		t.Errorf("bound %d, waitlisted %d; want %d and %d", bound, waitlisted, stock, orders-stock)
	}
}

// conflictStore loses every stock claim.
type conflictStore struct {
	*db.DB
	attempts int
}

type conflictRepo struct {
	store.Repository
}

func (conflictRepo) ClaimStockUnit(context.Context, int64, int64, model.Stage, string) error {
	return store.ErrConflict
}

func (c *conflictStore) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	c.attempts++
	return c.DB.WithTx(ctx, func(tx store.Repository) error {
		return fn(conflictRepo{Repository: tx})
	})
}

func TestAllocate_RetriesThenReportsConflict(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewDB(t)
	cs := &conflictStore{DB: database}
	e := NewEngine(cs, production.NewManager(database, nil), Config{MaxRetries: 2}, nil)

	unit := testutil.Stock(t, database, testutil.Target, nil)
	o := testutil.Order(t, database, testutil.Target)

	_, err := e.Allocate(ctx, Request{OrderID: o.ID, Target: testutil.Target, Quantity: 1})
	if !errors.Is(err, apperr.AllocationConflict) {
		t.Fatalf("Allocate() error = %v, want AllocationConflict", err)
	}
	if cs.attempts != 3 {
		t.Errorf("attempts = %d, want 3", cs.attempts)
	}

	got, _ := database.GetOrder(ctx, o.ID)
	if got.Status != model.OrderCreated {
		t.Errorf("order status = %s, want CREATED", got.Status)
	}
	u, _ := database.GetUnit(ctx, unit.ID)
	if u.Commitment != model.Uncommitted {
		t.Errorf("unit commitment = %s, want UNCOMMITTED", u.Commitment)
	}
	if _, err := database.GetWaitlistEntryByOrder(ctx, o.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("order was waitlisted after a conflict: %v", err)
	}
}

var errBinOffline = errors.New("bin offline")

// binFaultStore fails every bin decrement.
type binFaultStore struct {
	*db.DB
}

type binFaultRepo struct {
	store.Repository
}

func (binFaultRepo) DecrementBin(context.Context, int64) error {
	return errBinOffline
}

func (s *binFaultStore) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	return s.DB.WithTx(ctx, func(tx store.Repository) error {
		return fn(binFaultRepo{Repository: tx})
	})
}

func TestAllocate_BinReleaseErrorKeepsCause(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewDB(t)
	e := NewEngine(&binFaultStore{DB: database}, production.NewManager(database, nil), DefaultConfig(), nil)

	bin := testutil.Bin(t, database, "STORAGE-A", model.BinStorage, 10, "")
	unit := testutil.Stock(t, database, testutil.Target, bin)
	o := testutil.Order(t, database, testutil.Target)

	_, err := e.Allocate(ctx, Request{OrderID: o.ID, Target: testutil.Target, Quantity: 1})
	if !errors.Is(err, errBinOffline) {
		t.Fatalf("Allocate() error = %v, want wrapped errBinOffline", err)
	}

	u, _ := database.GetUnit(ctx, unit.ID)
	if u.Commitment != model.Uncommitted || u.Stage != model.StageStock {
		t.Errorf("unit state = %s/%s, want rollback to UNCOMMITTED/STOCK", u.Commitment, u.Stage)
	}
}
