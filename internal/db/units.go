package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

const unitColumns = `id, qr_code, style, waist, shape, length, wash, commitment, stage, location,
	COALESCE(batch_id, ''), COALESCE(production_request_id, 0), order_id, bin_id, pending_bin_id,
	created_at, updated_at`

func scanUnit(s scanner) (*model.Unit, error) {
	var u model.Unit
	var orderID, binID, pendingBinID sql.NullInt64
	err := s.Scan(&u.ID, &u.QRCode,
		&u.SKU.Style, &u.SKU.Waist, &u.SKU.Shape, &u.SKU.Length, &u.SKU.Wash,
		&u.Commitment, &u.Stage, &u.Location, &u.BatchID, &u.ProductionRequestID,
		&orderID, &binID, &pendingBinID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.OrderID = intPtr(orderID)
	u.BinID = intPtr(binID)
	u.PendingBinID = intPtr(pendingBinID)
	return &u, nil
}

func (q *queries) listUnits(ctx context.Context, query string, args ...any) ([]model.Unit, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []model.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating units: %w", err)
	}
	return units, nil
}

func (q *queries) getUnit(ctx context.Context, where string, arg any) (*model.Unit, error) {
	u, err := scanUnit(q.q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying unit: %w", err)
	}
	return u, nil
}

// CreateUnit inserts u and fills in its ID and timestamps.
func (q *queries) CreateUnit(ctx context.Context, u *model.Unit) error {
	now := q.now()
	var batchID sql.NullString
	if u.BatchID != "" {
		batchID = sql.NullString{String: u.BatchID, Valid: true}
	}
	var requestID sql.NullInt64
	if u.ProductionRequestID != 0 {
		requestID = sql.NullInt64{Int64: u.ProductionRequestID, Valid: true}
	}

	result, err := q.q.ExecContext(ctx, `
		INSERT INTO units (qr_code, style, waist, shape, length, wash, commitment, stage, location,
			batch_id, production_request_id, order_id, bin_id, pending_bin_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.QRCode, u.SKU.Style, u.SKU.Waist, u.SKU.Shape, u.SKU.Length, u.SKU.Wash,
		u.Commitment, u.Stage, u.Location, batchID, requestID,
		nullInt(u.OrderID), nullInt(u.BinID), nullInt(u.PendingBinID), now, now)
	if err != nil {
		return fmt.Errorf("creating unit: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting unit id: %w", err)
	}
	u.ID, u.CreatedAt, u.UpdatedAt = id, now, now
	return nil
}

func (q *queries) GetUnit(ctx context.Context, id int64) (*model.Unit, error) {
	return q.getUnit(ctx, `id = ?`, id)
}

func (q *queries) GetUnitByQR(ctx context.Context, qr string) (*model.Unit, error) {
	return q.getUnit(ctx, `qr_code = ?`, qr)
}

func (q *queries) GetUnitByOrder(ctx context.Context, orderID int64) (*model.Unit, error) {
	return q.getUnit(ctx, `order_id = ?`, orderID)
}

// FindStock returns UNCOMMITTED units in STOCK matching q, oldest first.
func (q *queries) FindStock(ctx context.Context, sq store.StockQuery) ([]model.Unit, error) {
	where := []string{`commitment = ?`, `stage = ?`, `order_id IS NULL`}
	args := []any{model.Uncommitted, model.StageStock}

	if sq.SKU != nil {
		where = append(where, `style = ?`, `waist = ?`, `shape = ?`, `length = ?`, `wash = ?`)
		args = append(args, sq.SKU.Style, sq.SKU.Waist, sq.SKU.Shape, sq.SKU.Length, sq.SKU.Wash)
	} else {
		where = append(where, `style = ?`, `waist = ?`, `shape = ?`, `length >= ?`)
		args = append(args, sq.Style, sq.Waist, sq.Shape, sq.MinLength)
		if len(sq.Washes) > 0 {
			where = append(where, `wash IN (?`+strings.Repeat(`, ?`, len(sq.Washes)-1)+`)`)
			for _, w := range sq.Washes {
				args = append(args, w)
			}
		}
	}

	query := `SELECT ` + unitColumns + ` FROM units WHERE ` + strings.Join(where, ` AND `) + ` ORDER BY created_at, id`
	if sq.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, sq.Limit)
	}
	return q.listUnits(ctx, query, args...)
}

// ListUnits returns units matching f, most recently created first.
func (q *queries) ListUnits(ctx context.Context, f store.UnitFilter) ([]model.Unit, error) {
	var where []string
	var args []any
	if f.Stage != "" {
		where = append(where, `stage = ?`)
		args = append(args, f.Stage)
	}
	if f.Commitment != "" {
		where = append(where, `commitment = ?`)
		args = append(args, f.Commitment)
	}
	if f.Location != "" {
		where = append(where, `location = ?`)
		args = append(args, f.Location)
	}

	query := `SELECT ` + unitColumns + ` FROM units`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	return q.listUnits(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
}

// ClaimStockUnit binds an available STOCK unit to an order and moves it to
// stage. The unit leaves its bin. Returns store.ErrConflict if another
// allocation claimed it first.
func (q *queries) ClaimStockUnit(ctx context.Context, unitID, orderID int64, stage model.Stage, location string) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE units
		SET commitment = ?, order_id = ?, stage = ?, location = ?, bin_id = NULL, pending_bin_id = NULL,
		    updated_at = ?
		WHERE id = ? AND commitment = ? AND stage = ? AND order_id IS NULL
	`, model.Assigned, orderID, stage, location, q.now(),
		unitID, model.Uncommitted, model.StageStock)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("claiming unit: %w", err)
	}
	return checkAffected(result, store.ErrConflict)
}

// UpdateUnit writes u's mutable fields if the stored unit is still at expect.
func (q *queries) UpdateUnit(ctx context.Context, u *model.Unit, expect model.UnitState) error {
	now := q.now()
	result, err := q.q.ExecContext(ctx, `
		UPDATE units
		SET commitment = ?, stage = ?, location = ?, order_id = ?, bin_id = ?, pending_bin_id = ?,
		    updated_at = ?
		WHERE id = ? AND commitment = ? AND stage = ?
	`, u.Commitment, u.Stage, u.Location, nullInt(u.OrderID), nullInt(u.BinID), nullInt(u.PendingBinID), now,
		u.ID, expect.Commitment, expect.Stage)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("updating unit: %w", err)
	}
	if err := checkAffected(result, store.ErrConflict); err != nil {
		return err
	}
	u.UpdatedAt = now
	return nil
}

// ListUnitsInBin returns the units in a bin at stage, oldest first.
func (q *queries) ListUnitsInBin(ctx context.Context, binID int64, stage model.Stage) ([]model.Unit, error) {
	return q.listUnits(ctx, `
		SELECT `+unitColumns+` FROM units WHERE bin_id = ? AND stage = ? ORDER BY created_at, id
	`, binID, stage)
}

// ListUnitsByRequest returns the units materialized for a production request.
func (q *queries) ListUnitsByRequest(ctx context.Context, requestID int64) ([]model.Unit, error) {
	return q.listUnits(ctx, `
		SELECT `+unitColumns+` FROM units WHERE production_request_id = ? ORDER BY id
	`, requestID)
}

func (q *queries) CountUnitsInStage(ctx context.Context, requestID int64, stage model.Stage) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM units WHERE production_request_id = ? AND stage = ?
	`, requestID, stage).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}

// BinSKUs returns the distinct SKUs stocked in each bin.
func (q *queries) BinSKUs(ctx context.Context) (map[int64][]sku.SKU, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT DISTINCT bin_id, style, waist, shape, length, wash
		FROM units WHERE bin_id IS NOT NULL AND stage = ?
		ORDER BY bin_id
	`, model.StageStock)
	if err != nil {
		return nil, fmt.Errorf("querying bin contents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64][]sku.SKU)
	for rows.Next() {
		var binID int64
		var s sku.SKU
		if err := rows.Scan(&binID, &s.Style, &s.Waist, &s.Shape, &s.Length, &s.Wash); err != nil {
			return nil, fmt.Errorf("scanning bin contents: %w", err)
		}
		out[binID] = append(out[binID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bin contents: %w", err)
	}
	return out, nil
}
