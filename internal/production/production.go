// Package production manages production requests: waitlist consolidation,
// modification, and acceptance into physical units.
package production

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/fsm"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// Manager owns production request state.
type Manager struct {
	store       store.Store
	logger      *zap.Logger
	requests    *fsm.RequestStateMachine
	orders      *fsm.OrderStateMachine
	commitments *fsm.CommitmentStateMachine
	newID       func() string
}

func NewManager(s store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       s,
		logger:      logger,
		requests:    fsm.NewRequestStateMachine(),
		orders:      fsm.NewOrderStateMachine(),
		commitments: fsm.NewCommitmentStateMachine(),
		newID:       uuid.NewString,
	}
}

// Modification lists the fields to change. Nil fields are left alone.
type Modification struct {
	Quantity *int `json:"quantity,omitempty"`
	Length   *int `json:"length,omitempty"`
}

// Acceptance is the result of accepting a request.
type Acceptance struct {
	Request *model.ProductionRequest `json:"request"`
	BatchID string                   `json:"batchId"`
	Units   []model.Unit             `json:"units"`
}

// Detail is a request with its current waitlist.
type Detail struct {
	Request  *model.ProductionRequest `json:"request"`
	Waitlist []model.WaitlistEntry    `json:"waitlist"`
}

func requestNotFound(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.ProductionRequestNotFound, "production request %d not found", id)
	}
	return err
}

func orderNotFound(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.OrderNotFound, "order %d not found", id)
	}
	return err
}

// Get returns a request and its waitlist in position order.
func (m *Manager) Get(ctx context.Context, id int64) (*Detail, error) {
	r, err := m.store.GetProductionRequest(ctx, id)
	if err != nil {
		return nil, requestNotFound(id, err)
	}
	waitlist, err := m.store.ListWaitlist(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Request: r, Waitlist: waitlist}, nil
}

// List returns requests with the given status, or all of them.
func (m *Manager) List(ctx context.Context, status model.ProductionStatus) ([]model.ProductionRequest, error) {
	return m.store.ListProductionRequests(ctx, status)
}

// Create opens a PENDING request for an explicit SKU with an empty waitlist.
func (m *Manager) Create(ctx context.Context, s sku.SKU, quantity int) (*model.ProductionRequest, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, apperr.New(apperr.InvalidQuantity, "quantity %d must be positive", quantity)
	}
	r := &model.ProductionRequest{SKU: s, Quantity: quantity}
	if err := m.store.CreateProductionRequest(ctx, r); err != nil {
		return nil, err
	}
	m.logger.Info("production request created",
		zap.Int64("request_id", r.ID), zap.Stringer("sku", r.SKU), zap.Int("quantity", r.Quantity))
	return r, nil
}

// CreateOrExtend groups orders by universal SKU. Each group extends the
// PENDING request with that universal SKU or founds a new one.
func (m *Manager) CreateOrExtend(ctx context.Context, orderIDs []int64) ([]model.ProductionRequest, error) {
	if len(orderIDs) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "at least one order is required")
	}

	var out []model.ProductionRequest
	err := m.store.WithTx(ctx, func(tx store.Repository) error {
		out = nil
		type group struct {
			universal sku.SKU
			orders    []*model.Order
		}
		var keys []string
		groups := make(map[string]*group)
		seen := make(map[int64]bool)

		for _, id := range orderIDs {
			if seen[id] {
				return apperr.New(apperr.InvalidInput, "order %d listed twice", id)
			}
			seen[id] = true

			o, err := tx.GetOrder(ctx, id)
			if err != nil {
				return orderNotFound(id, err)
			}
			if err := m.checkQueueable(ctx, tx, o); err != nil {
				return err
			}
			u, err := sku.Universalize(o.Target)
			if err != nil {
				return err
			}
			key := u.String()
			g, ok := groups[key]
			if !ok {
				g = &group{universal: u}
				groups[key] = g
				keys = append(keys, key)
			}
			g.orders = append(g.orders, o)
		}

		for _, key := range keys {
			g := groups[key]
			r, err := m.extendOrCreate(ctx, tx, g.universal, len(g.orders))
			if err != nil {
				return err
			}
			for _, o := range g.orders {
				if _, err := tx.AddWaitlistEntry(ctx, r.ID, o.ID); err != nil {
					return fmt.Errorf("waitlisting order %d: %w", o.ID, err)
				}
			}
			out = append(out, *r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range out {
		m.logger.Info("production request extended",
			zap.Int64("request_id", r.ID), zap.Stringer("sku", r.SKU), zap.Int("quantity", r.Quantity))
	}
	return out, nil
}

func (m *Manager) extendOrCreate(ctx context.Context, tx store.Repository, universal sku.SKU, n int) (*model.ProductionRequest, error) {
	existing, err := tx.FindPendingRequests(ctx, store.RequestQuery{SKU: &universal})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		r := existing[0]
		r.Quantity += n
		if err := tx.UpdatePendingRequest(ctx, &r); err != nil {
			return nil, fmt.Errorf("extending production request %d: %w", r.ID, err)
		}
		return &r, nil
	}

	r := &model.ProductionRequest{SKU: universal, Quantity: n}
	if err := tx.CreateProductionRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// checkQueueable rejects orders that are already bound or waitlisted.
func (m *Manager) checkQueueable(ctx context.Context, tx store.Repository, o *model.Order) error {
	if !m.orders.CanTransition(o.Status, fsm.OrderEventCommit) {
		return apperr.New(apperr.InvalidModification, "order %d is %s and cannot be queued for production", o.ID, o.Status)
	}
	_, err := tx.GetWaitlistEntryByOrder(ctx, o.ID)
	if err == nil {
		return apperr.New(apperr.InvalidModification, "order %d is already waitlisted", o.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// FindMatchingRequest returns the PENDING request that would satisfy
// target: an exact SKU request first, else the oldest request in the
// target's universal family long enough for it. Returns nil when none match.
func (m *Manager) FindMatchingRequest(ctx context.Context, repo store.Repository, target sku.SKU) (*model.ProductionRequest, error) {
	exact, err := repo.FindPendingRequests(ctx, store.RequestQuery{SKU: &target})
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return &exact[0], nil
	}

	universal, err := sku.Universalize(target)
	if err != nil {
		return nil, err
	}
	family, err := repo.FindPendingRequests(ctx, store.RequestQuery{
		Style: universal.Style,
		Waist: universal.Waist,
		Shape: universal.Shape,
		Wash:  universal.Wash,
	})
	if err != nil {
		return nil, err
	}
	for i := range family {
		if sku.IsUniversalMatch(target, family[i].SKU) {
			return &family[i], nil
		}
	}
	return nil, nil
}

// EnqueueOrder waitlists o on a matching PENDING request, creating one at
// the universal SKU if none matches. It runs inside the caller's
// transaction. The request's quantity grows only when the waitlist would
// outnumber it.
func (m *Manager) EnqueueOrder(ctx context.Context, tx store.Repository, o *model.Order) (*model.ProductionRequest, *model.WaitlistEntry, error) {
	if err := m.checkQueueable(ctx, tx, o); err != nil {
		return nil, nil, err
	}

	r, err := m.FindMatchingRequest(ctx, tx, o.Target)
	if err != nil {
		return nil, nil, err
	}

	if r == nil {
		universal, err := sku.Universalize(o.Target)
		if err != nil {
			return nil, nil, err
		}
		r = &model.ProductionRequest{SKU: universal, Quantity: 1}
		if err := tx.CreateProductionRequest(ctx, r); err != nil {
			return nil, nil, err
		}
	} else {
		waitlist, err := tx.ListWaitlist(ctx, r.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(waitlist)+1 > r.Quantity {
			r.Quantity = len(waitlist) + 1
			if err := tx.UpdatePendingRequest(ctx, r); err != nil {
				return nil, nil, fmt.Errorf("extending production request %d: %w", r.ID, err)
			}
		}
	}

	entry, err := tx.AddWaitlistEntry(ctx, r.ID, o.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("waitlisting order %d: %w", o.ID, err)
	}

	m.logger.Debug("order waitlisted",
		zap.Int64("order_id", o.ID), zap.Int64("request_id", r.ID), zap.Int("position", entry.Position))
	return r, entry, nil
}

// Modify raises quantity and/or length of a PENDING request.
func (m *Manager) Modify(ctx context.Context, id int64, mod Modification) (*model.ProductionRequest, error) {
	if mod.Quantity == nil && mod.Length == nil {
		return nil, apperr.New(apperr.InvalidModification, "nothing to modify")
	}

	var out *model.ProductionRequest
	err := m.store.WithTx(ctx, func(tx store.Repository) error {
		r, err := tx.GetProductionRequest(ctx, id)
		if err != nil {
			return requestNotFound(id, err)
		}
		if !m.requests.CanTransition(r.Status, fsm.RequestEventModify) {
			return apperr.New(apperr.InvalidModification, "request %d is %s; only PENDING requests can be modified", id, r.Status)
		}

		if mod.Quantity != nil {
			if *mod.Quantity <= r.Quantity {
				return apperr.New(apperr.InvalidModification, "quantity %d must exceed current quantity %d", *mod.Quantity, r.Quantity)
			}
			r.Quantity = *mod.Quantity
		}

		if mod.Length != nil {
			floor, err := tx.MaxWaitlistedLength(ctx, id)
			if err != nil {
				return err
			}
			length := *mod.Length
			switch {
			case length < floor:
				return apperr.New(apperr.InvalidModification, "length %d is below the longest waitlisted order length %d", length, floor)
			case length <= r.SKU.Length:
				return apperr.New(apperr.InvalidModification, "length %d must exceed current length %d", length, r.SKU.Length)
			case length > sku.UniversalLength:
				return apperr.New(apperr.InvalidModification, "length %d exceeds maximum production length %d", length, sku.UniversalLength)
			}
			r.SKU.Length = length
		}

		if err := tx.UpdatePendingRequest(ctx, r); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.InvalidModification, "request %d is no longer PENDING", id)
			}
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("production request modified",
		zap.Int64("request_id", out.ID), zap.Stringer("sku", out.SKU), zap.Int("quantity", out.Quantity))
	return out, nil
}

// Accept materializes the request's units in one transaction. The first
// min(waitlist, quantity) units, in waitlist position order, are committed
// to their orders. Orders left on the waitlist are moved to another
// PENDING request.
func (m *Manager) Accept(ctx context.Context, id int64) (*Acceptance, error) {
	var out *Acceptance
	err := m.store.WithTx(ctx, func(tx store.Repository) error {
		r, err := tx.GetProductionRequest(ctx, id)
		if err != nil {
			return requestNotFound(id, err)
		}
		next, err := m.requests.Transition(ctx, r.Status, fsm.RequestEventAccept)
		if err != nil {
			return apperr.Wrap(apperr.InvalidModification, err, "request %d is %s; only PENDING requests can be accepted", id, r.Status)
		}

		batch := &model.Batch{ID: m.newID(), ProductionRequestID: r.ID}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}

		units := make([]model.Unit, r.Quantity)
		for i := range units {
			units[i] = model.Unit{
				QRCode:              m.newID(),
				SKU:                 r.SKU,
				Commitment:          model.Uncommitted,
				Stage:               model.StageProduction,
				Location:            model.LocationProductionFloor,
				BatchID:             batch.ID,
				ProductionRequestID: r.ID,
			}
			if err := tx.CreateUnit(ctx, &units[i]); err != nil {
				return err
			}
		}

		waitlist, err := tx.ListWaitlist(ctx, r.ID)
		if err != nil {
			return err
		}

		var leftovers []*model.Order
		bound := 0
		for _, entry := range waitlist {
			o, err := tx.GetOrder(ctx, entry.OrderID)
			if err != nil {
				return orderNotFound(entry.OrderID, err)
			}
			if err := tx.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
				return err
			}
			if bound >= len(units) || !sku.Matches(o.Target, r.SKU) {
				leftovers = append(leftovers, o)
				continue
			}
			if err := m.commitUnit(ctx, tx, &units[bound], o); err != nil {
				return err
			}
			bound++
		}

		if err := tx.SetRequestStatus(ctx, r.ID, r.Status, next); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.InvalidModification, "request %d was accepted concurrently", id)
			}
			return err
		}
		r.Status = next

		for _, o := range leftovers {
			moved, entry, err := m.EnqueueOrder(ctx, tx, o)
			if err != nil {
				return fmt.Errorf("re-queueing order %d: %w", o.ID, err)
			}
			m.logger.Info("order moved to another production request",
				zap.Int64("order_id", o.ID), zap.Int64("from_request_id", r.ID),
				zap.Int64("to_request_id", moved.ID), zap.Int("position", entry.Position))
		}

		out = &Acceptance{Request: r, BatchID: batch.ID, Units: units}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("production request accepted",
		zap.Int64("request_id", out.Request.ID), zap.String("batch_id", out.BatchID), zap.Int("units", len(out.Units)))
	return out, nil
}

func (m *Manager) commitUnit(ctx context.Context, tx store.Repository, u *model.Unit, o *model.Order) error {
	expect := u.State()
	commitment, err := m.commitments.Transition(ctx, u.Commitment, fsm.CommitmentEventCommit)
	if err != nil {
		return fmt.Errorf("committing unit %d: %w", u.ID, err)
	}
	status, err := m.orders.Transition(ctx, o.Status, fsm.OrderEventCommit)
	if err != nil {
		return apperr.Wrap(apperr.InvalidModification, err, "order %d is %s and cannot be committed", o.ID, o.Status)
	}

	u.Commitment = commitment
	u.OrderID = &o.ID
	if err := tx.UpdateUnit(ctx, u, expect); err != nil {
		return fmt.Errorf("binding unit %d to order %d: %w", u.ID, o.ID, err)
	}
	if err := tx.UpdateOrder(ctx, o.ID, o.Status, store.OrderUpdate{Status: status, Stage: model.StageProduction}); err != nil {
		return fmt.Errorf("committing order %d: %w", o.ID, err)
	}
	return nil
}

// Complete closes an IN_PROGRESS request once none of its units remain in
// PRODUCTION.
func (m *Manager) Complete(ctx context.Context, id int64) (*model.ProductionRequest, error) {
	var out *model.ProductionRequest
	err := m.store.WithTx(ctx, func(tx store.Repository) error {
		r, err := tx.GetProductionRequest(ctx, id)
		if err != nil {
			return requestNotFound(id, err)
		}
		next, err := m.requests.Transition(ctx, r.Status, fsm.RequestEventComplete)
		if err != nil {
			return apperr.Wrap(apperr.InvalidModification, err, "request %d is %s; only IN_PROGRESS requests can be completed", id, r.Status)
		}
		remaining, err := tx.CountUnitsInStage(ctx, id, model.StageProduction)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return apperr.New(apperr.InvalidModification, "request %d still has %d units in PRODUCTION", id, remaining)
		}
		if err := tx.SetRequestStatus(ctx, id, r.Status, next); err != nil {
			return err
		}
		r.Status = next
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("production request completed", zap.Int64("request_id", id))
	return out, nil
}
