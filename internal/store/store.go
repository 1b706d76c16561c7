// Package store defines the repository the engines run against. The SQLite
// implementation lives in internal/db.
package store

import (
	"context"
	"errors"

	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no row because
// another writer changed it first.
var ErrConflict = errors.New("concurrent update conflict")

// StockQuery filters available stock: UNCOMMITTED units in STOCK.
type StockQuery struct {
	SKU *sku.SKU // exact SKU match

	// Family match used for universal candidates when SKU is nil.
	Style     string
	Waist     int
	Shape     string
	Washes    []sku.Wash
	MinLength int

	Limit int
}

// RequestQuery filters PENDING production requests.
type RequestQuery struct {
	SKU *sku.SKU // exact SKU match

	Style string
	Waist int
	Shape string
	Wash  sku.Wash
}

// BinFilter narrows ListBins.
type BinFilter struct {
	Type       model.BinType
	ActiveOnly bool
}

// UnitFilter narrows ListUnits. Zero fields match everything.
type UnitFilter struct {
	Stage      model.Stage
	Commitment model.Commitment
	Location   string
}

// OrderUpdate is the mutable part of an order.
type OrderUpdate struct {
	Status model.OrderStatus
	Stage  model.Stage
}

// Repository is the set of reads and conditional writes the engines need.
type Repository interface {
	CreateCustomer(ctx context.Context, c *model.Customer) error
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	UpdateCustomerContact(ctx context.Context, id int64, name, email, phone string) (*model.Customer, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	// UpdateOrder writes status and stage only if the order is still at expect.
	UpdateOrder(ctx context.Context, id int64, expect model.OrderStatus, to OrderUpdate) error
	SetOrderStage(ctx context.Context, id int64, stage model.Stage) error

	CreateUnit(ctx context.Context, u *model.Unit) error
	GetUnit(ctx context.Context, id int64) (*model.Unit, error)
	GetUnitByQR(ctx context.Context, qr string) (*model.Unit, error)
	GetUnitByOrder(ctx context.Context, orderID int64) (*model.Unit, error)
	FindStock(ctx context.Context, q StockQuery) ([]model.Unit, error)
	// ClaimStockUnit binds a STOCK unit to an order. ErrConflict if the unit
	// is no longer available.
	ClaimStockUnit(ctx context.Context, unitID, orderID int64, stage model.Stage, location string) error
	// UpdateUnit writes u's mutable fields only if the stored row is still at
	// expect.
	UpdateUnit(ctx context.Context, u *model.Unit, expect model.UnitState) error
	// ListUnits returns matching units, newest first.
	ListUnits(ctx context.Context, f UnitFilter) ([]model.Unit, error)
	ListUnitsInBin(ctx context.Context, binID int64, stage model.Stage) ([]model.Unit, error)
	ListUnitsByRequest(ctx context.Context, requestID int64) ([]model.Unit, error)
	CountUnitsInStage(ctx context.Context, requestID int64, stage model.Stage) (int, error)
	// BinSKUs returns the distinct SKUs currently stored in each bin.
	BinSKUs(ctx context.Context) (map[int64][]sku.SKU, error)

	CreateProductionRequest(ctx context.Context, r *model.ProductionRequest) error
	GetProductionRequest(ctx context.Context, id int64) (*model.ProductionRequest, error)
	ListProductionRequests(ctx context.Context, status model.ProductionStatus) ([]model.ProductionRequest, error)
	FindPendingRequests(ctx context.Context, q RequestQuery) ([]model.ProductionRequest, error)
	// UpdatePendingRequest writes SKU and quantity only while the request is PENDING.
	UpdatePendingRequest(ctx context.Context, r *model.ProductionRequest) error
	// SetRequestStatus moves a request from one status to another, ErrConflict
	// if it is no longer at from.
	SetRequestStatus(ctx context.Context, id int64, from, to model.ProductionStatus) error

	// AddWaitlistEntry appends orderID to the request's waitlist using the
	// request's position counter.
	AddWaitlistEntry(ctx context.Context, requestID, orderID int64) (*model.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, requestID int64) ([]model.WaitlistEntry, error)
	FirstWaitlistEntry(ctx context.Context, requestID int64) (*model.WaitlistEntry, error)
	GetWaitlistEntryByOrder(ctx context.Context, orderID int64) (*model.WaitlistEntry, error)
	DeleteWaitlistEntry(ctx context.Context, id int64) error
	MaxWaitlistedLength(ctx context.Context, requestID int64) (int, error)

	CreateBatch(ctx context.Context, b *model.Batch) error

	CreateBin(ctx context.Context, b *model.Bin) error
	GetBin(ctx context.Context, id int64) (*model.Bin, error)
	GetBinByQR(ctx context.Context, qr string) (*model.Bin, error)
	ListBins(ctx context.Context, f BinFilter) ([]model.Bin, error)
	// IncrementBin adds one unit, ErrConflict if the bin is full.
	IncrementBin(ctx context.Context, id int64) error
	DecrementBin(ctx context.Context, id int64) error
	ResetBin(ctx context.Context, id int64) error

	AppendScanEvent(ctx context.Context, e *model.ScanEvent) error
	ListScanEvents(ctx context.Context, unitID int64) ([]model.ScanEvent, error)
	HasSuccessfulScan(ctx context.Context, unitID int64, t model.ScanType) (bool, error)
}

// Store is a Repository that can run a function inside one transaction. The
// Repository passed to fn must be used for every read and write in fn.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}
