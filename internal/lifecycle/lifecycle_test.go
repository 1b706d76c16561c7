package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/buildtall-systems/denimtrack/internal/allocation"
	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/db"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/production"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
	"github.com/buildtall-systems/denimtrack/internal/testutil"
)

type harness struct {
	db         *db.DB
	lifecycle  *Engine
	production *production.Manager
	allocation *allocation.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database := testutil.NewDB(t)
	pm := production.NewManager(database, nil)
	return &harness{
		db:         database,
		lifecycle:  NewEngine(database, nil),
		production: pm,
		allocation: allocation.NewEngine(database, pm, allocation.DefaultConfig(), nil),
	}
}

// produce runs orders through production and returns the accepted units.
func (h *harness) produce(t *testing.T, quantity int, orders ...*model.Order) []model.Unit {
	t.Helper()
	ctx := context.Background()

	var r *model.ProductionRequest
	if len(orders) > 0 {
		var ids []int64
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
		requests, err := h.production.CreateOrExtend(ctx, ids)
		if err != nil {
			t.Fatalf("CreateOrExtend() error: %v", err)
		}
		r = &requests[0]
	} else {
		var err error
		r, err = h.production.Create(ctx, sku.SKU{Style: "ST", Waist: 32, Shape: "X", Length: 36, Wash: sku.WashRaw}, quantity)
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}
	if quantity > r.Quantity {
		if _, err := h.production.Modify(ctx, r.ID, production.Modification{Quantity: &quantity}); err != nil {
			t.Fatalf("Modify() error: %v", err)
		}
	}
	acc, err := h.production.Accept(ctx, r.ID)
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	return acc.Units
}

func (h *harness) scan(t *testing.T, unitID int64, typ model.ScanType, binQR string) *Result {
	t.Helper()
	res, err := h.lifecycle.ApplyScan(context.Background(), Scan{UnitID: unitID, Type: typ, BinQR: binQR})
	if err != nil {
		t.Fatalf("%s scan error: %v", typ, err)
	}
	return res
}

func (h *harness) orderStage(t *testing.T, id int64) (model.OrderStatus, model.Stage) {
	t.Helper()
	o, err := h.db.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrder() error: %v", err)
	}
	return o.Status, o.Stage
}

func TestCommittedUnitToFulfilled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	storage := testutil.Bin(t, h.db, "STORAGE-A", model.BinStorage, 10, "")
	indigo := testutil.Bin(t, h.db, "WASH-IND-001", model.BinWash, 50, sku.WashIndigo)
	stardust := testutil.Bin(t, h.db, "WASH-STA-001", model.BinWash, 50, sku.WashStardust)

	o := testutil.Order(t, h.db, testutil.Target)
	units := h.produce(t, 1, o)
	u := units[0]

	res := h.scan(t, u.ID, model.ScanActivation, "")
	if res.Stage != model.StageWashQueue || res.Commitment != model.Assigned {
		t.Fatalf("after activation = %s/%s", res.Commitment, res.Stage)
	}
	if res.NextAction.Type != ActionMoveToWash || res.NextAction.BinQR != stardust.QRCode {
		t.Errorf("next action = %+v", res.NextAction)
	}
	if status, stage := h.orderStage(t, o.ID); status != model.OrderAssigned || stage != model.StageWashQueue {
		t.Errorf("order = %s/%s", status, stage)
	}

	// Wrong bins are rejected and audited.
	_, err := h.lifecycle.ApplyScan(ctx, Scan{UnitID: u.ID, Type: model.ScanMovement, BinQR: storage.QRCode})
	if !errors.Is(err, apperr.InvalidBinType) {
		t.Errorf("storage bin error = %v, want InvalidBinType", err)
	}
	_, err = h.lifecycle.ApplyScan(ctx, Scan{UnitID: u.ID, Type: model.ScanMovement, BinQR: indigo.QRCode})
	if !errors.Is(err, apperr.BinMismatch) {
		t.Errorf("indigo bin error = %v, want BinMismatch", err)
	}

	res = h.scan(t, u.ID, model.ScanMovement, stardust.QRCode)
	if res.Stage != model.StageWashing || res.Unit.Location != stardust.QRCode {
		t.Fatalf("after wash movement = %s at %s", res.Stage, res.Unit.Location)
	}
	b, _ := h.db.GetBin(ctx, stardust.ID)
	if b.CurrentCount != 1 {
		t.Errorf("wash bin count = %d, want 1", b.CurrentCount)
	}

	out, err := h.lifecycle.ScanOutWashBin(ctx, stardust.QRCode)
	if err != nil {
		t.Fatalf("ScanOutWashBin() error: %v", err)
	}
	if len(out.Units) != 1 || out.Units[0].Stage != model.StageLaundry || out.Bin.CurrentCount != 0 {
		t.Errorf("scan out = %+v", out)
	}

	steps := []struct {
		scan  model.ScanType
		stage model.Stage
	}{
		{model.ScanReactivateFromLaundry, model.StageQC},
		{model.ScanQCComplete, model.StageFinishing},
		{model.ScanFinishingComplete, model.StagePacking},
		{model.ScanPackingComplete, model.StageShipping},
		{model.ScanShippingComplete, model.StageFulfilled},
	}
	for _, step := range steps {
		res = h.scan(t, u.ID, step.scan, "")
		if res.Stage != step.stage {
			t.Fatalf("%s -> %s, want %s", step.scan, res.Stage, step.stage)
		}
		if _, stage := h.orderStage(t, o.ID); stage != step.stage {
			t.Errorf("order stage = %s, want %s", stage, step.stage)
		}
	}
	if res.Unit.Location != model.LocationShipped || res.NextAction.Type != ActionDone {
		t.Errorf("fulfilled unit = %s, next %+v", res.Unit.Location, res.NextAction)
	}

	events, err := h.db.ListScanEvents(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListScanEvents() error: %v", err)
	}
	// activation, two failures, movement, scan-out, five completions
	if len(events) != 10 {
		t.Fatalf("got %d scan events, want 10", len(events))
	}
	failures := 0
	for _, ev := range events {
		if !ev.Success {
			failures++
			if ev.Metadata["errorKind"] == "" || ev.Metadata["before"] == nil {
				t.Errorf("failure event missing audit fields: %+v", ev.Metadata)
			}
			continue
		}
		if ev.Metadata["before"] == nil || ev.Metadata["after"] == nil {
			t.Errorf("%s event missing snapshots: %+v", ev.Type, ev.Metadata)
		}
	}
	if failures != 2 {
		t.Errorf("failures = %d, want 2", failures)
	}
}

func TestUncommittedUnitToStockThenAllocated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	full := testutil.Bin(t, h.db, "STORAGE-A", model.BinStorage, 1, "")
	testutil.Stock(t, h.db, sku.SKU{Style: "ST", Waist: 30, Shape: "X", Length: 32, Wash: sku.WashOnyx}, full)
	empty := testutil.Bin(t, h.db, "STORAGE-B", model.BinStorage, 5, "")
	other := testutil.Bin(t, h.db, "STORAGE-C", model.BinStorage, 5, "")

	u := h.produce(t, 1)[0]

	res := h.scan(t, u.ID, model.ScanActivation, "")
	if res.Stage != model.StageStorageQueue || res.Commitment != model.Uncommitted {
		t.Fatalf("after activation = %s/%s", res.Commitment, res.Stage)
	}
	if res.NextAction.Type != ActionAwaitDestination || res.NextAction.BinQR != empty.QRCode {
		t.Errorf("activation next action = %+v, want bin %s", res.NextAction, empty.QRCode)
	}

	res = h.scan(t, u.ID, model.ScanMovement, "")
	if res.Stage != model.StageStorageQueue || res.NextAction.BinQR != empty.QRCode {
		t.Errorf("movement step one = %s, %+v", res.Stage, res.NextAction)
	}

	_, err := h.lifecycle.ApplyScan(ctx, Scan{UnitID: u.ID, Type: model.ScanMovement, BinQR: other.QRCode})
	if !errors.Is(err, apperr.BinMismatch) {
		t.Errorf("wrong bin error = %v, want BinMismatch", err)
	}

	res = h.scan(t, u.ID, model.ScanMovement, empty.QRCode)
	if res.Stage != model.StageStock || res.Commitment != model.Uncommitted {
		t.Fatalf("after storage = %s/%s", res.Commitment, res.Stage)
	}
	if res.Unit.BinID == nil || *res.Unit.BinID != empty.ID || res.Unit.PendingBinID != nil {
		t.Errorf("bin binding = %v pending %v", res.Unit.BinID, res.Unit.PendingBinID)
	}
	b, _ := h.db.GetBin(ctx, empty.ID)
	if b.CurrentCount != 1 {
		t.Errorf("bin count = %d, want 1", b.CurrentCount)
	}
	if res.NextAction.Type != ActionNextScan || res.NextAction.Message != "Unit is in STOCK, waiting for allocation" {
		t.Errorf("stocked next action = %+v", res.NextAction)
	}

	// The stocked raw unit satisfies a shorter light-wash order.
	o := testutil.Order(t, h.db, testutil.Target)
	alloc, err := h.allocation.AllocateOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("AllocateOrder() error: %v", err)
	}
	if len(alloc.BoundUnits) != 1 || alloc.BoundUnits[0].ID != u.ID {
		t.Fatalf("bound = %+v, want unit %d", alloc.BoundUnits, u.ID)
	}
	b, _ = h.db.GetBin(ctx, empty.ID)
	if b.CurrentCount != 0 {
		t.Errorf("bin count after allocation = %d, want 0", b.CurrentCount)
	}

	wash := testutil.Bin(t, h.db, "WASH-STA-001", model.BinWash, 50, sku.WashStardust)
	res = h.scan(t, u.ID, model.ScanMovement, wash.QRCode)
	if res.Stage != model.StageWashing {
		t.Errorf("allocated stock unit stage = %s, want WASHING", res.Stage)
	}
}

func TestCommittedUnitBindsFirstWaitlistedOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r, err := h.production.Create(ctx, sku.SKU{Style: "ST", Waist: 32, Shape: "X", Length: 36, Wash: sku.WashRaw}, 2)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	first := testutil.Order(t, h.db, testutil.Target)
	second := testutil.Order(t, h.db, testutil.Target)
	for _, o := range []*model.Order{first, second} {
		if _, err := h.db.AddWaitlistEntry(ctx, r.ID, o.ID); err != nil {
			t.Fatalf("AddWaitlistEntry() error: %v", err)
		}
	}

	u := &model.Unit{
		QRCode:              "loose-committed",
		SKU:                 r.SKU,
		Commitment:          model.Committed,
		Stage:               model.StageProduction,
		Location:            model.LocationProductionFloor,
		ProductionRequestID: r.ID,
	}
	if err := h.db.CreateUnit(ctx, u); err != nil {
		t.Fatalf("CreateUnit() error: %v", err)
	}

	res := h.scan(t, u.ID, model.ScanActivation, "")
	if res.Unit.OrderID == nil || *res.Unit.OrderID != first.ID {
		t.Fatalf("bound order = %v, want %d", res.Unit.OrderID, first.ID)
	}
	if _, err := h.db.GetWaitlistEntryByOrder(ctx, first.ID); err == nil {
		t.Error("first waitlist entry still present")
	}
	if _, err := h.db.GetWaitlistEntryByOrder(ctx, second.ID); err != nil {
		t.Errorf("second waitlist entry missing: %v", err)
	}
	if status, stage := h.orderStage(t, first.ID); status != model.OrderAssigned || stage != model.StageWashQueue {
		t.Errorf("order = %s/%s", status, stage)
	}
}

func TestInvalidScansLeaveUnitUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.produce(t, 1)[0]

	tests := []struct {
		name string
		scan model.ScanType
	}{
		{name: "completion in production", scan: model.ScanQCComplete},
		{name: "movement in production", scan: model.ScanMovement},
		{name: "scan out in production", scan: model.ScanWashScanOut},
		{name: "allocation is not a physical scan", scan: model.ScanAllocation},
		{name: "unknown scan", scan: "TELEPORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.lifecycle.ApplyScan(ctx, Scan{UnitID: u.ID, Type: tt.scan})
			if !errors.Is(err, apperr.InvalidStageForScanType) {
				t.Fatalf("error = %v, want InvalidStageForScanType", err)
			}
			got, _ := h.db.GetUnit(ctx, u.ID)
			if got.Stage != model.StageProduction || got.Commitment != model.Uncommitted {
				t.Errorf("unit changed: %s/%s", got.Commitment, got.Stage)
			}
		})
	}

	events, _ := h.db.ListScanEvents(ctx, u.ID)
	if len(events) != len(tests) {
		t.Fatalf("got %d events, want %d", len(events), len(tests))
	}
	for _, ev := range events {
		if ev.Success || ev.Metadata["errorKind"] != string(apperr.InvalidStageForScanType) {
			t.Errorf("event = %+v", ev)
		}
		after, ok := ev.Metadata["after"].(map[string]any)
		if !ok || after["stage"] != string(model.StageProduction) || after["commitment"] != string(model.Uncommitted) {
			t.Errorf("failed event after = %v, want the unchanged unit", ev.Metadata["after"])
		}
	}
}

func TestActivationTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	testutil.Bin(t, h.db, "STORAGE-A", model.BinStorage, 10, "")
	u := h.produce(t, 1)[0]

	h.scan(t, u.ID, model.ScanActivation, "")
	_, err := h.lifecycle.ApplyScan(ctx, Scan{UnitQR: u.QRCode, Type: model.ScanActivation})
	if !errors.Is(err, apperr.AlreadyActivated) {
		t.Errorf("error = %v, want AlreadyActivated", err)
	}
	if !errors.Is(err, apperr.InvalidStageForScanType) {
		t.Errorf("error = %v, want it to also be InvalidStageForScanType", err)
	}
}

func TestStorageBinFilledBeforeConfirmation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bin := testutil.Bin(t, h.db, "STORAGE-A", model.BinStorage, 1, "")
	units := h.produce(t, 2)

	for _, u := range units {
		res := h.scan(t, u.ID, model.ScanActivation, "")
		if res.NextAction.BinQR != bin.QRCode {
			t.Fatalf("unit %d directed to %q", u.ID, res.NextAction.BinQR)
		}
	}

	h.scan(t, units[0].ID, model.ScanMovement, bin.QRCode)
	_, err := h.lifecycle.ApplyScan(ctx, Scan{UnitID: units[1].ID, Type: model.ScanMovement, BinQR: bin.QRCode})
	if !errors.Is(err, apperr.BinAtCapacity) {
		t.Errorf("error = %v, want BinAtCapacity", err)
	}
	b, _ := h.db.GetBin(ctx, bin.ID)
	if b.CurrentCount != 1 {
		t.Errorf("bin count = %d, want 1", b.CurrentCount)
	}

	_, err = h.lifecycle.ApplyScan(ctx, Scan{UnitID: units[1].ID, Type: model.ScanMovement})
	if !errors.Is(err, apperr.NoCapacity) {
		t.Errorf("step one with all bins full error = %v, want NoCapacity", err)
	}
}

func TestDefectFromStock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bin := testutil.Bin(t, h.db, "STORAGE-A", model.BinStorage, 5, "")
	u := testutil.Stock(t, h.db, testutil.Target, bin)

	res := h.scan(t, u.ID, model.ScanDefect, "")
	if res.Stage != model.StageDefect || res.Unit.Location != model.LocationDefectArea || res.Unit.BinID != nil {
		t.Fatalf("defect unit = %+v", res.Unit)
	}
	if res.NextAction.Type != ActionDefectReport {
		t.Errorf("next action = %+v", res.NextAction)
	}
	b, _ := h.db.GetBin(ctx, bin.ID)
	if b.CurrentCount != 0 {
		t.Errorf("bin count = %d, want 0", b.CurrentCount)
	}

	events, _ := h.db.ListScanEvents(ctx, u.ID)
	if got := events[len(events)-1].Metadata["requiresDefectReport"]; got != true {
		t.Errorf("requiresDefectReport = %v", got)
	}

	_, err := h.lifecycle.ApplyScan(ctx, Scan{UnitID: u.ID, Type: model.ScanDefect})
	if !errors.Is(err, apperr.InvalidStageForScanType) {
		t.Errorf("second defect error = %v, want InvalidStageForScanType", err)
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.produce(t, 1)[0]

	res := h.scan(t, u.ID, model.ScanLookup, "")
	if res.Stage != model.StageProduction || res.ScanEventID == 0 {
		t.Errorf("lookup = %+v", res)
	}
	if res.NextAction.Type != ActionNextScan {
		t.Errorf("next action = %+v", res.NextAction)
	}
	got, _ := h.db.GetUnit(ctx, u.ID)
	if !got.UpdatedAt.Equal(u.UpdatedAt) {
		t.Error("lookup modified the unit")
	}
}

func TestUnitNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.lifecycle.ApplyScan(context.Background(), Scan{UnitQR: "nope", Type: model.ScanLookup})
	if !errors.Is(err, apperr.UnitNotFound) {
		t.Errorf("error = %v, want UnitNotFound", err)
	}
	_, err = h.lifecycle.ApplyScan(context.Background(), Scan{Type: model.ScanLookup})
	if !errors.Is(err, apperr.InvalidInput) {
		t.Errorf("error = %v, want InvalidInput", err)
	}
}

func TestPerUnitWashScanOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wash := testutil.Bin(t, h.db, "WASH-STA-001", model.BinWash, 50, sku.WashStardust)

	a := testutil.Order(t, h.db, testutil.Target)
	b := testutil.Order(t, h.db, testutil.Target)
	units := h.produce(t, 2, a, b)
	for _, u := range units {
		h.scan(t, u.ID, model.ScanActivation, "")
		h.scan(t, u.ID, model.ScanMovement, wash.QRCode)
	}

	res := h.scan(t, units[0].ID, model.ScanWashScanOut, "")
	if res.Stage != model.StageLaundry || res.Unit.BinID != nil {
		t.Errorf("scanned out unit = %+v", res.Unit)
	}
	bin, _ := h.db.GetBin(ctx, wash.ID)
	if bin.CurrentCount != 1 {
		t.Errorf("bin count = %d, want 1", bin.CurrentCount)
	}

	out, err := h.lifecycle.ScanOutWashBin(ctx, wash.QRCode)
	if err != nil {
		t.Fatalf("ScanOutWashBin() error: %v", err)
	}
	if len(out.Units) != 1 || out.Units[0].ID != units[1].ID {
		t.Errorf("scan out moved %+v", out.Units)
	}

	if _, err := h.lifecycle.ScanOutWashBin(ctx, "WASH-NONE"); !errors.Is(err, apperr.BinNotFound) {
		t.Errorf("missing bin error = %v, want BinNotFound", err)
	}
	storage := testutil.Bin(t, h.db, "STORAGE-A", model.BinStorage, 5, "")
	if _, err := h.lifecycle.ScanOutWashBin(ctx, storage.QRCode); !errors.Is(err, apperr.InvalidBinType) {
		t.Errorf("storage bin error = %v, want InvalidBinType", err)
	}
}

var errBinOffline = errors.New("bin offline")

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

func TestBinReleaseErrorKeepsCause(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewDB(t)
	e := NewEngine(&binFaultStore{DB: database}, nil)
	bin := testutil.Bin(t, database, "STORAGE-A", model.BinStorage, 5, "")
	u := testutil.Stock(t, database, testutil.Target, bin)

	_, err := e.ApplyScan(ctx, Scan{UnitID: u.ID, Type: model.ScanDefect})
	if !errors.Is(err, errBinOffline) {
		t.Fatalf("ApplyScan() error = %v, want wrapped errBinOffline", err)
	}
	got, _ := database.GetUnit(ctx, u.ID)
	if got.Stage != model.StageStock || got.BinID == nil {
		t.Errorf("unit = %s in bin %v, want rollback to STOCK", got.Stage, got.BinID)
	}
}
