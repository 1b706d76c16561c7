package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

const requestColumns = `id, style, waist, shape, length, wash, quantity, status, next_position,
	created_at, updated_at`

func scanRequest(s scanner) (*model.ProductionRequest, error) {
	var r model.ProductionRequest
	err := s.Scan(&r.ID, &r.SKU.Style, &r.SKU.Waist, &r.SKU.Shape, &r.SKU.Length, &r.SKU.Wash,
		&r.Quantity, &r.Status, &r.NextPosition, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) listRequests(ctx context.Context, query string, args ...any) ([]model.ProductionRequest, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying production requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []model.ProductionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning production request: %w", err)
		}
		requests = append(requests, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating production requests: %w", err)
	}
	return requests, nil
}

// CreateProductionRequest inserts a PENDING request.
func (q *queries) CreateProductionRequest(ctx context.Context, r *model.ProductionRequest) error {
	now := q.now()
	r.Status = model.ProductionPending
	r.NextPosition = 1

	result, err := q.q.ExecContext(ctx, `
		INSERT INTO production_requests (style, waist, shape, length, wash, quantity, status,
			next_position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SKU.Style, r.SKU.Waist, r.SKU.Shape, r.SKU.Length, r.SKU.Wash, r.Quantity, r.Status,
		r.NextPosition, now, now)
	if err != nil {
		return fmt.Errorf("creating production request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting production request id: %w", err)
	}
	r.ID, r.CreatedAt, r.UpdatedAt = id, now, now
	return nil
}

func (q *queries) GetProductionRequest(ctx context.Context, id int64) (*model.ProductionRequest, error) {
	r, err := scanRequest(q.q.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM production_requests WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying production request: %w", err)
	}
	return r, nil
}

// ListProductionRequests returns requests oldest first. An empty status
// returns all of them.
func (q *queries) ListProductionRequests(ctx context.Context, status model.ProductionStatus) ([]model.ProductionRequest, error) {
	if status == "" {
		return q.listRequests(ctx, `
			SELECT `+requestColumns+` FROM production_requests ORDER BY created_at, id
		`)
	}
	return q.listRequests(ctx, `
		SELECT `+requestColumns+` FROM production_requests WHERE status = ? ORDER BY created_at, id
	`, status)
}

// FindPendingRequests returns PENDING requests matching rq, oldest first.
func (q *queries) FindPendingRequests(ctx context.Context, rq store.RequestQuery) ([]model.ProductionRequest, error) {
	where := []string{`status = ?`}
	args := []any{model.ProductionPending}

	if rq.SKU != nil {
		where = append(where, `style = ?`, `waist = ?`, `shape = ?`, `length = ?`, `wash = ?`)
		args = append(args, rq.SKU.Style, rq.SKU.Waist, rq.SKU.Shape, rq.SKU.Length, rq.SKU.Wash)
	} else {
		where = append(where, `style = ?`, `waist = ?`, `shape = ?`, `wash = ?`)
		args = append(args, rq.Style, rq.Waist, rq.Shape, rq.Wash)
	}

	return q.listRequests(ctx, `
		SELECT `+requestColumns+` FROM production_requests
		WHERE `+strings.Join(where, ` AND `)+`
		ORDER BY created_at, id
	`, args...)
}

// UpdatePendingRequest writes SKU and quantity. Returns store.ErrConflict if
// the request left PENDING.
func (q *queries) UpdatePendingRequest(ctx context.Context, r *model.ProductionRequest) error {
	now := q.now()
	result, err := q.q.ExecContext(ctx, `
		UPDATE production_requests
		SET style = ?, waist = ?, shape = ?, length = ?, wash = ?, quantity = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, r.SKU.Style, r.SKU.Waist, r.SKU.Shape, r.SKU.Length, r.SKU.Wash, r.Quantity, now,
		r.ID, model.ProductionPending)
	if err != nil {
		return fmt.Errorf("updating production request: %w", err)
	}
	if err := checkAffected(result, store.ErrConflict); err != nil {
		return err
	}
	r.UpdatedAt = now
	return nil
}

// SetRequestStatus flips status from one value to another.
func (q *queries) SetRequestStatus(ctx context.Context, id int64, from, to model.ProductionStatus) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE production_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, q.now(), id, from)
	if err != nil {
		return fmt.Errorf("setting production request status: %w", err)
	}
	return checkAffected(result, store.ErrConflict)
}

// AddWaitlistEntry takes the request's next position and bumps the counter
// in the same statement sequence. Callers run it inside a transaction. An
// order that is already waitlisted is rejected before the counter moves.
func (q *queries) AddWaitlistEntry(ctx context.Context, requestID, orderID int64) (*model.WaitlistEntry, error) {
	var waitlisted bool
	err := q.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM waitlist_entries WHERE order_id = ?)`,
		orderID,
	).Scan(&waitlisted)
	if err != nil {
		return nil, fmt.Errorf("checking waitlist: %w", err)
	}
	if waitlisted {
		return nil, store.ErrConflict
	}

	var position int
	err = q.q.QueryRowContext(ctx, `
		UPDATE production_requests
		SET next_position = next_position + 1
		WHERE id = ?
		RETURNING next_position - 1
	`, requestID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("allocating waitlist position: %w", err)
	}

	now := q.now()
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO waitlist_entries (order_id, production_request_id, position, created_at)
		VALUES (?, ?, ?, ?)
	`, orderID, requestID, position, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("creating waitlist entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting waitlist entry id: %w", err)
	}
	return &model.WaitlistEntry{
		ID:                  id,
		OrderID:             orderID,
		ProductionRequestID: requestID,
		Position:            position,
		CreatedAt:           now,
	}, nil
}

const waitlistColumns = `id, order_id, production_request_id, position, created_at`

func scanWaitlistEntry(s scanner) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	if err := s.Scan(&e.ID, &e.OrderID, &e.ProductionRequestID, &e.Position, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListWaitlist returns a request's waitlist in position order.
func (q *queries) ListWaitlist(ctx context.Context, requestID int64) ([]model.WaitlistEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE production_request_id = ? ORDER BY position ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("querying waitlist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning waitlist entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating waitlist: %w", err)
	}
	return entries, nil
}

// FirstWaitlistEntry returns the lowest-position entry of a request.
func (q *queries) FirstWaitlistEntry(ctx context.Context, requestID int64) (*model.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(q.q.QueryRowContext(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE production_request_id = ? ORDER BY position ASC LIMIT 1
	`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying waitlist: %w", err)
	}
	return e, nil
}

func (q *queries) GetWaitlistEntryByOrder(ctx context.Context, orderID int64) (*model.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(q.q.QueryRowContext(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries WHERE order_id = ?
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying waitlist entry: %w", err)
	}
	return e, nil
}

func (q *queries) DeleteWaitlistEntry(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting waitlist entry: %w", err)
	}
	return checkAffected(result, store.ErrConflict)
}

// MaxWaitlistedLength returns the longest target length queued on a request,
// or 0 for an empty waitlist.
func (q *queries) MaxWaitlistedLength(ctx context.Context, requestID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(o.length), 0)
		FROM waitlist_entries w JOIN orders o ON o.id = w.order_id
		WHERE w.production_request_id = ?
	`, requestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("querying waitlisted lengths: %w", err)
	}
	return n, nil
}

func (q *queries) CreateBatch(ctx context.Context, b *model.Batch) error {
	now := q.now()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO batches (id, production_request_id, created_at) VALUES (?, ?, ?)
	`, b.ID, b.ProductionRequestID, now)
	if err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	b.CreatedAt = now
	return nil
}
