// Package lifecycle applies scan events to units: it validates the scan
// against the unit's stage, performs the side effects of the transition and
// appends the audit record.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/binalloc"
	"github.com/buildtall-systems/denimtrack/internal/fsm"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// Next action types returned to the scanning station.
const (
	ActionAwaitDestination = "AWAIT_DESTINATION"
	ActionMoveToWash       = "MOVE_TO_WASH"
	ActionNextScan         = "NEXT_SCAN"
	ActionDefectReport     = "DEFECT_REPORT"
	ActionDone             = "DONE"
)

// locations is where a unit sits after entering a stage. STOCK and WASHING
// take the bin's QR code instead.
var locations = map[model.Stage]string{
	model.StageStorageQueue: model.LocationStorageStaging,
	model.StageWashQueue:    model.LocationWashStaging,
	model.StageLaundry:      model.LocationLaundry,
	model.StageQC:           model.LocationQCArea,
	model.StageFinishing:    model.LocationFinishingArea,
	model.StagePacking:      model.LocationPackingArea,
	model.StageShipping:     model.LocationShippingArea,
	model.StageFulfilled:    model.LocationShipped,
	model.StageDefect:       model.LocationDefectArea,
}

// Scan is one physical or operator scan. Either UnitID or UnitQR identifies
// the unit. BinQR is the destination bin for MOVEMENT.
type Scan struct {
	UnitID   int64          `json:"unitId,omitempty"`
	UnitQR   string         `json:"unitQr,omitempty"`
	Type     model.ScanType `json:"type"`
	Location string         `json:"location,omitempty"`
	BinQR    string         `json:"binQr,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NextAction tells the operator what to do after a scan.
type NextAction struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	BinQR   string `json:"binQr,omitempty"`
}

// Result is the unit after a successful scan.
type Result struct {
	Unit        *model.Unit      `json:"unit"`
	Stage       model.Stage      `json:"stage"`
	Commitment  model.Commitment `json:"commitment"`
	ScanEventID int64            `json:"scanEventId"`
	NextAction  *NextAction      `json:"nextAction,omitempty"`
}

// BinScanOut is the result of scanning a whole wash bin out to laundry.
type BinScanOut struct {
	Bin   *model.Bin   `json:"bin"`
	Units []model.Unit `json:"units"`
}

// Engine applies scans.
type Engine struct {
	store       store.Store
	logger      *zap.Logger
	stages      *fsm.StageStateMachine
	commitments *fsm.CommitmentStateMachine
	orders      *fsm.OrderStateMachine
}

func NewEngine(s store.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       s,
		logger:      logger,
		stages:      fsm.NewStageStateMachine(),
		commitments: fsm.NewCommitmentStateMachine(),
		orders:      fsm.NewOrderStateMachine(),
	}
}

func (e *Engine) resolveUnit(ctx context.Context, repo store.Repository, scan Scan) (*model.Unit, error) {
	var (
		u   *model.Unit
		err error
	)
	switch {
	case scan.UnitID != 0:
		u, err = repo.GetUnit(ctx, scan.UnitID)
	case scan.UnitQR != "":
		u, err = repo.GetUnitByQR(ctx, scan.UnitQR)
	default:
		return nil, apperr.New(apperr.InvalidInput, "scan names no unit")
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.UnitNotFound, "unit %s not found", unitRef(scan))
	}
	return u, err
}

func unitRef(scan Scan) string {
	if scan.UnitID != 0 {
		return fmt.Sprintf("%d", scan.UnitID)
	}
	return fmt.Sprintf("%q", scan.UnitQR)
}

// ApplyScan validates scan against the unit's stage and applies it in one
// transaction. Every attempt is audited: a failed attempt is rolled back and
// then recorded with its error kind.
func (e *Engine) ApplyScan(ctx context.Context, scan Scan) (*Result, error) {
	unit, err := e.resolveUnit(ctx, e.store, scan)
	if err != nil {
		return nil, err
	}

	var out *Result
	err = e.store.WithTx(ctx, func(tx store.Repository) error {
		u, err := tx.GetUnit(ctx, unit.ID)
		if err != nil {
			return err
		}
		out, err = e.apply(ctx, tx, u, scan)
		return err
	})
	if err != nil {
		e.recordFailure(ctx, unit, scan, err)
		return nil, err
	}

	e.logger.Info("scan applied",
		zap.Int64("unit_id", out.Unit.ID),
		zap.String("scan", string(scan.Type)),
		zap.String("stage", string(out.Stage)),
		zap.String("commitment", string(out.Commitment)))
	return out, nil
}

// recordFailure appends the failed attempt outside the rolled back
// transaction.
func (e *Engine) recordFailure(ctx context.Context, u *model.Unit, scan Scan, cause error) {
	meta := mergeMetadata(scan.Metadata)
	meta["before"] = u.Snapshot()
	meta["after"] = u.Snapshot()
	meta["errorKind"] = string(apperr.KindOf(cause))
	meta["error"] = cause.Error()
	if scan.BinQR != "" {
		meta["binQr"] = scan.BinQR
	}

	event := &model.ScanEvent{
		UnitID:   u.ID,
		Type:     scan.Type,
		Location: eventLocation(scan, u.Location),
		Success:  false,
		Metadata: meta,
	}
	if err := e.store.AppendScanEvent(ctx, event); err != nil {
		e.logger.Error("recording failed scan", zap.Int64("unit_id", u.ID), zap.Error(err))
		return
	}
	e.logger.Warn("scan rejected",
		zap.Int64("unit_id", u.ID),
		zap.String("scan", string(scan.Type)),
		zap.String("kind", string(apperr.KindOf(cause))),
		zap.Error(cause))
}

func mergeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func eventLocation(scan Scan, fallback string) string {
	if scan.Location != "" {
		return scan.Location
	}
	return fallback
}

// change is what a scan handler decided. The caller writes it.
type change struct {
	next   *NextAction
	meta   map[string]any
	status model.OrderStatus // order commitment change, empty if none
}

func (e *Engine) apply(ctx context.Context, tx store.Repository, u *model.Unit, scan Scan) (*Result, error) {
	if scan.Type == model.ScanLookup {
		return e.lookup(ctx, tx, u, scan)
	}

	expect := u.State()
	before := u.Snapshot()
	previousBin := u.BinID

	var (
		c   *change
		err error
	)
	switch scan.Type {
	case model.ScanActivation:
		c, err = e.activate(ctx, tx, u)
	case model.ScanMovement:
		c, err = e.move(ctx, tx, u, scan)
	default:
		c, err = e.advance(ctx, u, scan.Type)
	}
	if err != nil {
		return nil, err
	}

	if !model.ValidCombination(u.Commitment, u.Stage) {
		return nil, apperr.New(apperr.InvalidStageForScanType,
			"%s scan would leave unit %d %s in %s", scan.Type, u.ID, u.Commitment, u.Stage)
	}
	if err := tx.UpdateUnit(ctx, u, expect); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Wrap(apperr.InvalidStageForScanType, err, "unit %d changed while the scan was applied", u.ID)
		}
		return nil, err
	}
	if previousBin != nil && (u.BinID == nil || *u.BinID != *previousBin) {
		if err := tx.DecrementBin(ctx, *previousBin); err != nil {
			return nil, fmt.Errorf("removing unit %d from bin %d: %w", u.ID, *previousBin, err)
		}
	}
	if err := e.mirrorOrder(ctx, tx, u, expect.Stage, c.status); err != nil {
		return nil, err
	}

	meta := mergeMetadata(scan.Metadata)
	for k, v := range c.meta {
		meta[k] = v
	}
	meta["before"] = before
	meta["after"] = u.Snapshot()

	event := &model.ScanEvent{
		UnitID:   u.ID,
		Type:     scan.Type,
		Location: eventLocation(scan, u.Location),
		Success:  true,
		Metadata: meta,
	}
	if err := tx.AppendScanEvent(ctx, event); err != nil {
		return nil, err
	}

	next := c.next
	if next == nil {
		next = e.hint(u.Stage)
	}
	return &Result{
		Unit:        u,
		Stage:       u.Stage,
		Commitment:  u.Commitment,
		ScanEventID: event.ID,
		NextAction:  next,
	}, nil
}

// mirrorOrder copies the unit's stage onto its bound order, applying a
// commitment change when the scan produced one.
func (e *Engine) mirrorOrder(ctx context.Context, tx store.Repository, u *model.Unit, from model.Stage, status model.OrderStatus) error {
	if u.OrderID == nil {
		return nil
	}
	if status != "" {
		o, err := tx.GetOrder(ctx, *u.OrderID)
		if err != nil {
			return fmt.Errorf("loading order %d: %w", *u.OrderID, err)
		}
		if err := tx.UpdateOrder(ctx, o.ID, o.Status, store.OrderUpdate{Status: status, Stage: u.Stage}); err != nil {
			return fmt.Errorf("assigning order %d: %w", o.ID, err)
		}
		return nil
	}
	if u.Stage == from {
		return nil
	}
	if err := tx.SetOrderStage(ctx, *u.OrderID, u.Stage); err != nil {
		return fmt.Errorf("updating order %d stage: %w", *u.OrderID, err)
	}
	return nil
}

func (e *Engine) lookup(ctx context.Context, tx store.Repository, u *model.Unit, scan Scan) (*Result, error) {
	meta := mergeMetadata(scan.Metadata)
	meta["current"] = u.Snapshot()
	meta["expectedScans"] = scanNames(e.stages.ExpectedScans(u.Stage))

	event := &model.ScanEvent{
		UnitID:   u.ID,
		Type:     model.ScanLookup,
		Location: eventLocation(scan, u.Location),
		Success:  true,
		Metadata: meta,
	}
	if err := tx.AppendScanEvent(ctx, event); err != nil {
		return nil, err
	}
	return &Result{
		Unit:        u,
		Stage:       u.Stage,
		Commitment:  u.Commitment,
		ScanEventID: event.ID,
		NextAction:  e.hint(u.Stage),
	}, nil
}

func (e *Engine) activate(ctx context.Context, tx store.Repository, u *model.Unit) (*change, error) {
	activated, err := tx.HasSuccessfulScan(ctx, u.ID, model.ScanActivation)
	if err != nil {
		return nil, err
	}
	if activated {
		return nil, apperr.Wrap(apperr.AlreadyActivated,
			apperr.New(apperr.InvalidStageForScanType, "unit %d is in %s", u.ID, u.Stage),
			"unit %d was already activated", u.ID)
	}

	next, err := e.stages.Next(ctx, u.Stage, model.ScanActivation, u.Commitment)
	if err != nil {
		return nil, err
	}

	if u.Commitment != model.Committed {
		u.Stage = next
		u.Location = locations[next]
		return e.preselectBin(ctx, tx, u)
	}

	c := &change{meta: map[string]any{}}
	if u.OrderID == nil {
		entry, err := tx.FirstWaitlistEntry(ctx, u.ProductionRequestID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.OrderNotFound, "committed unit %d has no order and request %d has no waitlist", u.ID, u.ProductionRequestID)
		}
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
			return nil, fmt.Errorf("resolving waitlist entry %d: %w", entry.ID, err)
		}
		u.OrderID = &entry.OrderID
		c.meta["waitlistPosition"] = entry.Position
	}

	o, err := tx.GetOrder(ctx, *u.OrderID)
	if err != nil {
		return nil, fmt.Errorf("loading order %d: %w", *u.OrderID, err)
	}
	status, err := e.orders.Transition(ctx, o.Status, fsm.OrderEventAssign)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidStageForScanType, err, "order %d is %s", o.ID, o.Status)
	}
	commitment, err := e.commitments.Transition(ctx, u.Commitment, fsm.CommitmentEventAssign)
	if err != nil {
		return nil, err
	}

	u.Commitment = commitment
	u.Stage = next
	u.Location = locations[next]
	c.status = status
	c.meta["orderId"] = o.ID
	c.next = e.washHint(ctx, tx, o)
	return c, nil
}

// preselectBin stores the allocator's choice as the unit's pending bin. A
// unit may enter the storage queue with no bin chosen; the first movement
// scan retries the allocator.
func (e *Engine) preselectBin(ctx context.Context, tx store.Repository, u *model.Unit) (*change, error) {
	bin, err := binalloc.Select(ctx, tx, u.SKU)
	if errors.Is(err, apperr.NoCapacity) {
		u.PendingBinID = nil
		return &change{next: &NextAction{
			Type:    ActionAwaitDestination,
			Message: "No storage bin has room; move the unit to storage staging",
		}}, nil
	}
	if err != nil {
		return nil, err
	}
	u.PendingBinID = &bin.ID
	return &change{
		meta: map[string]any{"pendingBinId": bin.ID},
		next: &NextAction{
			Type:    ActionAwaitDestination,
			Message: fmt.Sprintf("Move to storage bin %s", bin.QRCode),
			BinQR:   bin.QRCode,
		},
	}, nil
}

// washHint suggests an active wash bin with room for the order's wash.
func (e *Engine) washHint(ctx context.Context, tx store.Repository, o *model.Order) *NextAction {
	next := &NextAction{Type: ActionMoveToWash, Message: fmt.Sprintf("Scan a %s wash bin", o.Target.Wash)}
	bins, err := tx.ListBins(ctx, store.BinFilter{Type: model.BinWash, ActiveOnly: true})
	if err != nil {
		e.logger.Warn("listing wash bins", zap.Error(err))
		return next
	}
	for _, b := range bins {
		if b.Free() > 0 && (b.Wash == "" || b.Wash == o.Target.Wash) {
			next.BinQR = b.QRCode
			next.Message = fmt.Sprintf("Move to wash bin %s", b.QRCode)
			break
		}
	}
	return next
}

func (e *Engine) move(ctx context.Context, tx store.Repository, u *model.Unit, scan Scan) (*change, error) {
	next, err := e.stages.Next(ctx, u.Stage, model.ScanMovement, u.Commitment)
	if err != nil {
		return nil, err
	}

	if u.Stage == model.StageStorageQueue && scan.BinQR == "" {
		c, err := e.preselectBin(ctx, tx, u)
		if err != nil {
			return nil, err
		}
		if u.PendingBinID == nil {
			return nil, apperr.New(apperr.NoCapacity, "no active storage bin has room for %s", u.SKU)
		}
		c.meta["requiresDestinationScan"] = true
		return c, nil
	}
	if scan.BinQR == "" {
		return nil, apperr.New(apperr.InvalidInput, "movement from %s needs a destination bin", u.Stage)
	}

	bin, err := tx.GetBinByQR(ctx, scan.BinQR)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.BinNotFound, "bin %q not found", scan.BinQR)
	}
	if err != nil {
		return nil, err
	}
	if !bin.Active {
		return nil, apperr.New(apperr.InvalidBinType, "bin %s is inactive", bin.QRCode)
	}

	switch u.Stage {
	case model.StageStorageQueue:
		if bin.Type != model.BinStorage {
			return nil, apperr.New(apperr.InvalidBinType, "unit %d needs a STORAGE bin, %s is %s", u.ID, bin.QRCode, bin.Type)
		}
		if u.PendingBinID == nil || *u.PendingBinID != bin.ID {
			return nil, apperr.New(apperr.BinMismatch, "unit %d was not directed to bin %s", u.ID, bin.QRCode)
		}
	case model.StageWashQueue:
		if bin.Type != model.BinWash {
			return nil, apperr.New(apperr.InvalidBinType, "unit %d needs a WASH bin, %s is %s", u.ID, bin.QRCode, bin.Type)
		}
		if bin.Wash != "" && u.OrderID != nil {
			o, err := tx.GetOrder(ctx, *u.OrderID)
			if err != nil {
				return nil, fmt.Errorf("loading order %d: %w", *u.OrderID, err)
			}
			if o.Target.Wash != bin.Wash {
				return nil, apperr.New(apperr.BinMismatch, "order %d needs %s wash, bin %s is %s", o.ID, o.Target.Wash, bin.QRCode, bin.Wash)
			}
		}
	}

	if err := tx.IncrementBin(ctx, bin.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.New(apperr.BinAtCapacity, "bin %s is full", bin.QRCode)
		}
		return nil, err
	}

	u.Stage = next
	u.Location = bin.QRCode
	u.BinID = &bin.ID
	u.PendingBinID = nil
	return &change{meta: map[string]any{"binId": bin.ID, "binQr": bin.QRCode, "movementComplete": true}}, nil
}

// advance handles the scans that only move the stage forward.
func (e *Engine) advance(ctx context.Context, u *model.Unit, scan model.ScanType) (*change, error) {
	next, err := e.stages.Next(ctx, u.Stage, scan, u.Commitment)
	if err != nil {
		return nil, err
	}

	c := &change{meta: map[string]any{}}
	u.Stage = next
	u.Location = locations[next]
	u.BinID = nil
	u.PendingBinID = nil
	if next == model.StageDefect {
		c.meta["requiresDefectReport"] = true
		c.next = &NextAction{Type: ActionDefectReport, Message: fmt.Sprintf("File a defect report for unit %s", u.QRCode)}
	}
	return c, nil
}

func (e *Engine) hint(stage model.Stage) *NextAction {
	if stage.IsTerminal() {
		return &NextAction{Type: ActionDone, Message: fmt.Sprintf("Unit is %s", stage)}
	}
	var names []string
	for _, s := range e.stages.ExpectedScans(stage) {
		if s != model.ScanDefect {
			names = append(names, string(s))
		}
	}
	if len(names) == 0 {
		// Only allocation moves a unit out of STOCK.
		return &NextAction{Type: ActionNextScan, Message: fmt.Sprintf("Unit is in %s, waiting for allocation", stage)}
	}
	return &NextAction{Type: ActionNextScan, Message: "Expected scan: " + strings.Join(names, " or ")}
}

func scanNames(in []model.ScanType) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// ScanOutWashBin moves every WASHING unit in a wash bin to LAUNDRY and
// empties the bin.
func (e *Engine) ScanOutWashBin(ctx context.Context, binQR string) (*BinScanOut, error) {
	var out *BinScanOut
	err := e.store.WithTx(ctx, func(tx store.Repository) error {
		bin, err := tx.GetBinByQR(ctx, binQR)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.BinNotFound, "bin %q not found", binQR)
		}
		if err != nil {
			return err
		}
		if bin.Type != model.BinWash {
			return apperr.New(apperr.InvalidBinType, "bin %s is %s, only WASH bins scan out", bin.QRCode, bin.Type)
		}

		units, err := tx.ListUnitsInBin(ctx, bin.ID, model.StageWashing)
		if err != nil {
			return err
		}
		out = &BinScanOut{Bin: bin, Units: make([]model.Unit, 0, len(units))}
		for i := range units {
			u := &units[i]
			expect := u.State()
			before := u.Snapshot()
			next, err := e.stages.Next(ctx, u.Stage, model.ScanWashScanOut, u.Commitment)
			if err != nil {
				return err
			}
			u.Stage = next
			u.Location = locations[next]
			u.BinID = nil
			if err := tx.UpdateUnit(ctx, u, expect); err != nil {
				return fmt.Errorf("scanning out unit %d: %w", u.ID, err)
			}
			if err := e.mirrorOrder(ctx, tx, u, expect.Stage, ""); err != nil {
				return err
			}
			event := &model.ScanEvent{
				UnitID:   u.ID,
				Type:     model.ScanWashScanOut,
				Location: bin.QRCode,
				Success:  true,
				Metadata: map[string]any{
					"before":   before,
					"after":    u.Snapshot(),
					"binQr":    bin.QRCode,
					"wholeBin": true,
				},
			}
			if err := tx.AppendScanEvent(ctx, event); err != nil {
				return err
			}
			out.Units = append(out.Units, *u)
		}

		if err := tx.ResetBin(ctx, bin.ID); err != nil {
			return fmt.Errorf("emptying bin %s: %w", bin.QRCode, err)
		}
		bin.CurrentCount = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("wash bin scanned out", zap.String("bin", binQR), zap.Int("units", len(out.Units)))
	return out, nil
}
