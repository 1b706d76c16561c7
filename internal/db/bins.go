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

// ErrBinExists indicates a bin with the same QR code already exists.
var ErrBinExists = errors.New("bin already exists")

const binColumns = `id, qr_code, name, type, zone, capacity, current_count, active, wash, created_at`

func scanBin(s scanner) (*model.Bin, error) {
	var b model.Bin
	err := s.Scan(&b.ID, &b.QRCode, &b.Name, &b.Type, &b.Zone, &b.Capacity, &b.CurrentCount,
		&b.Active, &b.Wash, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBin inserts b. Returns ErrBinExists on a duplicate QR code.
func (q *queries) CreateBin(ctx context.Context, b *model.Bin) error {
	now := q.now()
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO bins (qr_code, name, type, zone, capacity, current_count, active, wash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.QRCode, b.Name, b.Type, b.Zone, b.Capacity, b.CurrentCount, b.Active, b.Wash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBinExists
		}
		return fmt.Errorf("creating bin: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting bin id: %w", err)
	}
	b.ID, b.CreatedAt = id, now
	return nil
}

func (q *queries) getBin(ctx context.Context, where string, arg any) (*model.Bin, error) {
	b, err := scanBin(q.q.QueryRowContext(ctx, `SELECT `+binColumns+` FROM bins WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bin: %w", err)
	}
	return b, nil
}

func (q *queries) GetBin(ctx context.Context, id int64) (*model.Bin, error) {
	return q.getBin(ctx, `id = ?`, id)
}

func (q *queries) GetBinByQR(ctx context.Context, qr string) (*model.Bin, error) {
	return q.getBin(ctx, `qr_code = ?`, qr)
}

// ListBins returns bins in creation order.
func (q *queries) ListBins(ctx context.Context, f store.BinFilter) ([]model.Bin, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, `type = ?`)
		args = append(args, f.Type)
	}
	if f.ActiveOnly {
		where = append(where, `active = 1`)
	}
	query := `SELECT ` + binColumns + ` FROM bins`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bins []model.Bin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bin: %w", err)
		}
		bins = append(bins, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bins: %w", err)
	}
	return bins, nil
}

// IncrementBin re-checks capacity at write time. Returns store.ErrConflict if
// the bin is already full.
func (q *queries) IncrementBin(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE bins SET current_count = current_count + 1
		WHERE id = ? AND current_count < capacity
	`, id)
	if err != nil {
		return fmt.Errorf("incrementing bin: %w", err)
	}
	return checkAffected(result, store.ErrConflict)
}

func (q *queries) DecrementBin(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE bins SET current_count = current_count - 1
		WHERE id = ? AND current_count > 0
	`, id)
	if err != nil {
		return fmt.Errorf("decrementing bin: %w", err)
	}
	return checkAffected(result, store.ErrConflict)
}

func (q *queries) ResetBin(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, `UPDATE bins SET current_count = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resetting bin: %w", err)
	}
	return checkAffected(result, store.ErrNotFound)
}
