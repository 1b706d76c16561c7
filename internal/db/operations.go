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

// ErrCustomerExists indicates a customer with the same email is registered.
var ErrCustomerExists = errors.New("customer already exists")

const customerColumns = `id, name, email, phone, created_at, updated_at`

func scanCustomer(s scanner) (*model.Customer, error) {
	var c model.Customer
	if err := s.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCustomer registers a new customer and fills in its ID and timestamps.
func (q *queries) CreateCustomer(ctx context.Context, c *model.Customer) error {
	now := q.now()
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO customers (name, email, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.Name, c.Email, c.Phone, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCustomerExists
		}
		return fmt.Errorf("creating customer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting customer id: %w", err)
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
	return nil
}

// GetCustomer returns a customer by ID.
func (q *queries) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	c, err := scanCustomer(q.q.QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return c, nil
}

// ListCustomers returns every customer ordered by name.
func (q *queries) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var customers []model.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating customers: %w", err)
	}
	return customers, nil
}

// UpdateCustomerContact replaces the non-empty contact fields.
func (q *queries) UpdateCustomerContact(ctx context.Context, id int64, name, email, phone string) (*model.Customer, error) {
	result, err := q.q.ExecContext(ctx, `
		UPDATE customers
		SET name = COALESCE(NULLIF(?, ''), name),
		    email = COALESCE(NULLIF(?, ''), email),
		    phone = COALESCE(NULLIF(?, ''), phone),
		    updated_at = ?
		WHERE id = ?
	`, name, email, phone, q.now(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCustomerExists
		}
		return nil, fmt.Errorf("updating customer: %w", err)
	}
	if err := checkAffected(result, store.ErrNotFound); err != nil {
		return nil, err
	}
	return q.GetCustomer(ctx, id)
}

const orderColumns = `id, customer_id, style, waist, shape, length, wash, hem_type, button_color,
	status, stage, created_at, updated_at`

func scanOrder(s scanner) (*model.Order, error) {
	var o model.Order
	err := s.Scan(&o.ID, &o.CustomerID,
		&o.Target.Style, &o.Target.Waist, &o.Target.Shape, &o.Target.Length, &o.Target.Wash,
		&o.HemType, &o.ButtonColor, &o.Status, &o.Stage, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder inserts a CREATED / PENDING order.
func (q *queries) CreateOrder(ctx context.Context, o *model.Order) error {
	if o.HemType == "" {
		o.HemType = model.DefaultHemType
	}
	if o.ButtonColor == "" {
		o.ButtonColor = model.DefaultButtonColor
	}
	o.Status = model.OrderCreated
	o.Stage = model.StagePending
	now := q.now()

	result, err := q.q.ExecContext(ctx, `
		INSERT INTO orders (customer_id, style, waist, shape, length, wash, hem_type, button_color,
			status, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.CustomerID, o.Target.Style, o.Target.Waist, o.Target.Shape, o.Target.Length, o.Target.Wash,
		o.HemType, o.ButtonColor, o.Status, o.Stage, now, now)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting order id: %w", err)
	}
	o.ID, o.CreatedAt, o.UpdatedAt = id, now, now
	return nil
}

// GetOrder returns an order by ID.
func (q *queries) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(q.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return o, nil
}

// ListOrders returns every order, oldest first.
func (q *queries) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return orders, nil
}

// UpdateOrder moves an order off expect. Returns store.ErrConflict if the
// order has already moved.
func (q *queries) UpdateOrder(ctx context.Context, id int64, expect model.OrderStatus, to store.OrderUpdate) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE orders SET status = ?, stage = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to.Status, to.Stage, q.now(), id, expect)
	if err != nil {
		return fmt.Errorf("updating order: %w", err)
	}
	return checkAffected(result, store.ErrConflict)
}

// SetOrderStage mirrors a unit stage onto its bound order.
func (q *queries) SetOrderStage(ctx context.Context, id int64, stage model.Stage) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE orders SET stage = ?, updated_at = ? WHERE id = ?
	`, stage, q.now(), id)
	if err != nil {
		return fmt.Errorf("updating order stage: %w", err)
	}
	return checkAffected(result, store.ErrNotFound)
}

// isUniqueViolation checks if the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	// SQLite unique constraint error contains "UNIQUE constraint failed"
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
