package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/buildtall-systems/denimtrack/internal/model"
)

// AppendScanEvent writes an audit record. The table rejects updates and
// deletes.
func (q *queries) AppendScanEvent(ctx context.Context, e *model.ScanEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = q.now()
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding scan metadata: %w", err)
	}

	result, err := q.q.ExecContext(ctx, `
		INSERT INTO scan_events (unit_id, type, timestamp, location, success, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.UnitID, e.Type, e.Timestamp, e.Location, e.Success, string(raw))
	if err != nil {
		return fmt.Errorf("recording scan event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting scan event id: %w", err)
	}
	e.ID = id
	return nil
}

// ListScanEvents returns a unit's scan history in insertion order.
func (q *queries) ListScanEvents(ctx context.Context, unitID int64) ([]model.ScanEvent, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, unit_id, type, timestamp, location, success, metadata
		FROM scan_events WHERE unit_id = ? ORDER BY id
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("querying scan events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.ScanEvent
	for rows.Next() {
		var e model.ScanEvent
		var raw string
		if err := rows.Scan(&e.ID, &e.UnitID, &e.Type, &e.Timestamp, &e.Location, &e.Success, &raw); err != nil {
			return nil, fmt.Errorf("scanning scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding scan metadata: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scan events: %w", err)
	}
	return events, nil
}

func (q *queries) HasSuccessfulScan(ctx context.Context, unitID int64, t model.ScanType) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM scan_events WHERE unit_id = ? AND type = ? AND success = 1)
	`, unitID, t).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying scan events: %w", err)
	}
	return exists, nil
}
