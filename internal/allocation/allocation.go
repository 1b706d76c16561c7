// Package allocation matches orders to existing stock and hands any
// shortfall to production.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/fsm"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// errClaimLost marks an attempt that lost a unit or order to a concurrent
// writer. Only these attempts are retried.
var errClaimLost = errors.New("claimed by a concurrent allocation")

// Enqueuer waitlists an order for production inside the caller's transaction.
type Enqueuer interface {
	EnqueueOrder(ctx context.Context, tx store.Repository, o *model.Order) (*model.ProductionRequest, *model.WaitlistEntry, error)
}

// Config tunes conflict retries.
type Config struct {
	MaxRetries uint64
	Backoff    time.Duration
}

// DefaultConfig retries a lost claim three times, 10ms apart.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Backoff: 10 * time.Millisecond}
}

// Engine binds stock units to orders.
type Engine struct {
	store    store.Store
	enqueuer Enqueuer
	cfg      Config
	logger   *zap.Logger
	orders   *fsm.OrderStateMachine
}

func NewEngine(s store.Store, enqueuer Enqueuer, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Millisecond
	}
	return &Engine{
		store:    s,
		enqueuer: enqueuer,
		cfg:      cfg,
		logger:   logger,
		orders:   fsm.NewOrderStateMachine(),
	}
}

// Request asks for Quantity units of Target for an order.
type Request struct {
	OrderID  int64   `json:"orderId"`
	Target   sku.SKU `json:"target"`
	Quantity int     `json:"quantity"`
}

// Result reports what was bound and what was sent to production.
type Result struct {
	BoundUnits        []model.Unit             `json:"boundUnits"`
	Shortfall         int                      `json:"shortfall"`
	ProductionRequest *model.ProductionRequest `json:"productionRequest,omitempty"`
	Waitlist          *model.WaitlistEntry     `json:"waitlist,omitempty"`
}

// Availability is matching stock found without binding it.
type Availability struct {
	Units     []model.Unit `json:"units"`
	Exact     int          `json:"exact"`
	Shortfall int          `json:"shortfall"`
}

func validate(target sku.SKU, quantity int) error {
	if quantity <= 0 {
		return apperr.New(apperr.InvalidQuantity, "quantity must be positive, got %d", quantity)
	}
	return target.ValidateTarget()
}

// findCandidates returns up to quantity stock units for target, exact
// matches first, then universal matches, each oldest first. exact is the
// number of exact matches at the front of the slice.
func findCandidates(ctx context.Context, repo store.Repository, target sku.SKU, quantity int) (units []model.Unit, exact int, err error) {
	units, err = repo.FindStock(ctx, store.StockQuery{SKU: &target, Limit: quantity})
	if err != nil {
		return nil, 0, fmt.Errorf("finding exact stock: %w", err)
	}
	exact = len(units)
	if exact >= quantity {
		return units, exact, nil
	}

	universal, err := repo.FindStock(ctx, store.StockQuery{
		Style:     target.Style,
		Waist:     target.Waist,
		Shape:     target.Shape,
		Washes:    []sku.Wash{sku.WashRaw, sku.WashBrown},
		MinLength: target.Length,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("finding universal stock: %w", err)
	}
	for _, u := range universal {
		if len(units) == quantity {
			break
		}
		if sku.IsUniversalMatch(target, u.SKU) {
			units = append(units, u)
		}
	}
	return units, exact, nil
}

// Available reports the stock that would satisfy target without binding it.
func (e *Engine) Available(ctx context.Context, target sku.SKU, quantity int) (*Availability, error) {
	if err := validate(target, quantity); err != nil {
		return nil, err
	}
	units, exact, err := findCandidates(ctx, e.store, target, quantity)
	if err != nil {
		return nil, err
	}
	if units == nil {
		units = []model.Unit{}
	}
	return &Availability{Units: units, Exact: exact, Shortfall: quantity - len(units)}, nil
}

// Allocate binds stock to the request's order, or waitlists the order for
// production when stock runs short. Validation happens before any write. A
// claim lost to a concurrent allocation retries the whole attempt; once
// retries run out the call fails with apperr.AllocationConflict.
func (e *Engine) Allocate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req.Target, req.Quantity); err != nil {
		return nil, err
	}
	if req.OrderID == 0 {
		return nil, apperr.New(apperr.InvalidInput, "allocation requires an order")
	}
	if req.Quantity != 1 {
		return nil, apperr.New(apperr.InvalidInput, "an order is one garment, got quantity %d", req.Quantity)
	}

	var out *Result
	attempts := 0
	backoff := retry.WithMaxRetries(e.cfg.MaxRetries, retry.NewConstant(e.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		res, err := e.attempt(ctx, req)
		if errors.Is(err, errClaimLost) {
			e.logger.Debug("allocation conflict, retrying",
				zap.Int64("order_id", req.OrderID), zap.Int("attempt", attempts), zap.Error(err))
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if errors.Is(err, errClaimLost) {
		return nil, apperr.Wrap(apperr.AllocationConflict, err, "order %d: gave up after %d attempts", req.OrderID, attempts)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("order allocated",
		zap.Int64("order_id", req.OrderID),
		zap.Stringer("target", req.Target),
		zap.Int("bound", len(out.BoundUnits)),
		zap.Int("shortfall", out.Shortfall))
	return out, nil
}

func (e *Engine) attempt(ctx context.Context, req Request) (*Result, error) {
	var out *Result
	err := e.store.WithTx(ctx, func(tx store.Repository) error {
		out = &Result{BoundUnits: []model.Unit{}}

		o, err := tx.GetOrder(ctx, req.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.New(apperr.OrderNotFound, "order %d not found", req.OrderID)
			}
			return err
		}
		if o.Target != req.Target {
			return apperr.New(apperr.InvalidInput, "order %d targets %s, not %s", o.ID, o.Target, req.Target)
		}
		if o.Status != model.OrderCreated {
			return apperr.New(apperr.InvalidInput, "order %d is already %s", o.ID, o.Status)
		}
		if _, err := tx.GetWaitlistEntryByOrder(ctx, o.ID); err == nil {
			return apperr.New(apperr.InvalidInput, "order %d is already waitlisted", o.ID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		candidates, _, err := findCandidates(ctx, tx, req.Target, req.Quantity)
		if err != nil {
			return err
		}
		for i := range candidates {
			u, err := e.claim(ctx, tx, candidates[i], o)
			if err != nil {
				return err
			}
			out.BoundUnits = append(out.BoundUnits, *u)
		}

		out.Shortfall = req.Quantity - len(out.BoundUnits)
		if out.Shortfall > 0 {
			r, entry, err := e.enqueuer.EnqueueOrder(ctx, tx, o)
			if err != nil {
				return fmt.Errorf("enqueueing order %d: %w", o.ID, err)
			}
			out.ProductionRequest = r
			out.Waitlist = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// claim binds one stock unit to o and sends it to the wash queue. The unit
// leaves its storage bin.
func (e *Engine) claim(ctx context.Context, tx store.Repository, u model.Unit, o *model.Order) (*model.Unit, error) {
	before := u.Snapshot()
	status, err := e.orders.Transition(ctx, o.Status, fsm.OrderEventAssign)
	if err != nil {
		return nil, fmt.Errorf("assigning order %d: %w", o.ID, err)
	}

	err = tx.ClaimStockUnit(ctx, u.ID, o.ID, model.StageWashQueue, model.LocationWashStaging)
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("unit %d: %w", u.ID, errClaimLost)
	}
	if err != nil {
		return nil, err
	}
	if u.BinID != nil {
		if err := tx.DecrementBin(ctx, *u.BinID); err != nil {
			return nil, fmt.Errorf("removing unit %d from bin %d: %w", u.ID, *u.BinID, err)
		}
	}

	err = tx.UpdateOrder(ctx, o.ID, o.Status, store.OrderUpdate{Status: status, Stage: model.StageWashQueue})
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("order %d: %w", o.ID, errClaimLost)
	}
	if err != nil {
		return nil, err
	}
	o.Status = status
	o.Stage = model.StageWashQueue

	u.Commitment = model.Assigned
	u.Stage = model.StageWashQueue
	u.Location = model.LocationWashStaging
	u.OrderID = &o.ID
	u.BinID = nil
	u.PendingBinID = nil

	event := &model.ScanEvent{
		UnitID:   u.ID,
		Type:     model.ScanAllocation,
		Location: u.Location,
		Success:  true,
		Metadata: map[string]any{
			"before":  before,
			"after":   u.Snapshot(),
			"orderId": o.ID,
		},
	}
	if err := tx.AppendScanEvent(ctx, event); err != nil {
		return nil, err
	}
	return &u, nil
}

// AllocateOrder allocates one unit for an existing order. An order that is
// already bound or waitlisted is returned as it stands.
func (e *Engine) AllocateOrder(ctx context.Context, orderID int64) (*Result, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.OrderNotFound, "order %d not found", orderID)
		}
		return nil, err
	}

	existing, err := e.existing(ctx, o)
	if err != nil || existing != nil {
		return existing, err
	}
	return e.Allocate(ctx, Request{OrderID: o.ID, Target: o.Target, Quantity: 1})
}

// existing returns the current binding of an order that has already been
// processed, or nil if the order still needs allocation.
func (e *Engine) existing(ctx context.Context, o *model.Order) (*Result, error) {
	out := &Result{BoundUnits: []model.Unit{}}

	u, err := e.store.GetUnitByOrder(ctx, o.ID)
	switch {
	case err == nil:
		out.BoundUnits = append(out.BoundUnits, *u)
		return out, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	entry, err := e.store.GetWaitlistEntryByOrder(ctx, o.ID)
	switch {
	case err == nil:
		r, err := e.store.GetProductionRequest(ctx, entry.ProductionRequestID)
		if err != nil {
			return nil, err
		}
		out.Shortfall = 1
		out.ProductionRequest = r
		out.Waitlist = entry
		return out, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if o.Status != model.OrderCreated {
		return out, nil
	}
	return nil, nil
}
