// Package model holds the persisted records shared by the engines.
package model

import (
	"time"

	"github.com/buildtall-systems/denimtrack/internal/sku"
)

// Commitment is the unit axis that tracks whether a unit is promised to an
// order.
type Commitment string

const (
	Uncommitted Commitment = "UNCOMMITTED"
	Committed   Commitment = "COMMITTED"
	Assigned    Commitment = "ASSIGNED"
)

// IsValid reports whether c is a known commitment.
func (c Commitment) IsValid() bool {
	switch c {
	case Uncommitted, Committed, Assigned:
		return true
	}
	return false
}

// Stage is the physical processing step a unit occupies.
type Stage string

const (
	StagePending      Stage = "PENDING" // orders only, before a unit is bound
	StageProduction   Stage = "PRODUCTION"
	StageStorageQueue Stage = "STORAGE_QUEUE"
	StageWashQueue    Stage = "WASH_QUEUE"
	StageStock        Stage = "STOCK"
	StageWashing      Stage = "WASHING"
	StageLaundry      Stage = "LAUNDRY"
	StageQC           Stage = "QC"
	StageFinishing    Stage = "FINISHING"
	StagePacking      Stage = "PACKING"
	StageShipping     Stage = "SHIPPING"
	StageFulfilled    Stage = "FULFILLED"
	StageDefect       Stage = "DEFECT"
)

// UnitStages lists every stage a unit can occupy.
var UnitStages = []Stage{
	StageProduction, StageStorageQueue, StageWashQueue, StageStock, StageWashing,
	StageLaundry, StageQC, StageFinishing, StagePacking, StageShipping,
	StageFulfilled, StageDefect,
}

// IsUnitStage reports whether s is a unit stage.
func (s Stage) IsUnitStage() bool {
	for _, st := range UnitStages {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further scan can move a unit out of s.
func (s Stage) IsTerminal() bool {
	return s == StageFulfilled || s == StageDefect
}

// UnitState is a unit's position on both status axes.
type UnitState struct {
	Commitment Commitment
	Stage      Stage
}

// ValidCombination reports whether the commitment and stage pair can occur.
// Units in STORAGE_QUEUE or STOCK are anonymous; units past the wash step are
// always bound to an order.
func ValidCombination(c Commitment, s Stage) bool {
	if !c.IsValid() || !s.IsUnitStage() {
		return false
	}
	switch s {
	case StageProduction:
		return c == Uncommitted || c == Committed
	case StageStorageQueue, StageStock:
		return c == Uncommitted
	case StageWashQueue, StageWashing, StageLaundry, StageQC, StageFinishing,
		StagePacking, StageShipping, StageFulfilled:
		return c == Assigned
	case StageDefect:
		return true
	}
	return false
}

// OrderStatus is the commitment axis of an order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderCommitted OrderStatus = "COMMITTED"
	OrderAssigned  OrderStatus = "ASSIGNED"
)

// ProductionStatus is the status of a production request.
type ProductionStatus string

const (
	ProductionPending    ProductionStatus = "PENDING"
	ProductionInProgress ProductionStatus = "IN_PROGRESS"
	ProductionCompleted  ProductionStatus = "COMPLETED"
)

// BinType distinguishes storage shelving from wash containers.
type BinType string

const (
	BinStorage BinType = "STORAGE"
	BinWash    BinType = "WASH"
)

// ScanType identifies a physical or system scan.
type ScanType string

const (
	ScanActivation            ScanType = "ACTIVATION"
	ScanMovement              ScanType = "MOVEMENT"
	ScanWashScanOut           ScanType = "WASH_SCAN_OUT"
	ScanReactivateFromLaundry ScanType = "REACTIVATE_FROM_LAUNDRY"
	ScanQCComplete            ScanType = "QC_COMPLETE"
	ScanFinishingComplete     ScanType = "FINISHING_COMPLETE"
	ScanPackingComplete       ScanType = "PACKING_COMPLETE"
	ScanShippingComplete      ScanType = "SHIPPING_COMPLETE"
	ScanDefect                ScanType = "DEFECT"
	ScanLookup                ScanType = "LOOKUP"
	// ScanAllocation records a stock unit being claimed for an order.
	ScanAllocation ScanType = "ALLOCATION"
)

// Locations written to units as they move.
const (
	LocationProductionFloor = "PRODUCTION_FLOOR"
	LocationWashStaging     = "WASH_STAGING"
	LocationStorageStaging  = "STORAGE_STAGING"
	LocationLaundry         = "LAUNDRY"
	LocationQCArea          = "QC_AREA"
	LocationFinishingArea   = "FINISHING_AREA"
	LocationPackingArea     = "PACKING_AREA"
	LocationShippingArea    = "SHIPPING_AREA"
	LocationShipped         = "SHIPPED"
	LocationDefectArea      = "DEFECT_AREA"
)

// Defaults for order finishing attributes.
const (
	DefaultHemType     = "ORL"
	DefaultButtonColor = "WHITE"
)

// Customer is an account that places orders.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Order is a request for one garment built to Target.
type Order struct {
	ID          int64       `json:"id"`
	CustomerID  int64       `json:"customerId"`
	Target      sku.SKU     `json:"target"`
	HemType     string      `json:"hemType"`
	ButtonColor string      `json:"buttonColor"`
	Status      OrderStatus `json:"status"`
	Stage       Stage       `json:"stage"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ProductionRequest asks for Quantity units of SKU.
type ProductionRequest struct {
	ID           int64            `json:"id"`
	SKU          sku.SKU          `json:"sku"`
	Quantity     int              `json:"quantity"`
	Status       ProductionStatus `json:"status"`
	NextPosition int              `json:"-"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// WaitlistEntry queues an order against a production request.
type WaitlistEntry struct {
	ID                  int64     `json:"id"`
	OrderID             int64     `json:"orderId"`
	ProductionRequestID int64     `json:"productionRequestId"`
	Position            int       `json:"position"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Batch groups the units materialized by one accepted request.
type Batch struct {
	ID                  string    `json:"id"`
	ProductionRequestID int64     `json:"productionRequestId"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Unit is one physical garment.
type Unit struct {
	ID                  int64      `json:"id"`
	QRCode              string     `json:"qrCode"`
	SKU                 sku.SKU    `json:"sku"`
	Commitment          Commitment `json:"commitment"`
	Stage               Stage      `json:"stage"`
	Location            string     `json:"location"`
	BatchID             string     `json:"batchId"`
	ProductionRequestID int64      `json:"productionRequestId"`
	OrderID             *int64     `json:"orderId,omitempty"`
	BinID               *int64     `json:"binId,omitempty"`
	PendingBinID        *int64     `json:"pendingBinId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// State returns the unit's position on both axes.
func (u *Unit) State() UnitState {
	return UnitState{Commitment: u.Commitment, Stage: u.Stage}
}

// Snapshot returns the audit view of the unit written into scan metadata.
func (u *Unit) Snapshot() map[string]any {
	snap := map[string]any{
		"commitment": string(u.Commitment),
		"stage":      string(u.Stage),
		"location":   u.Location,
	}
	if u.BinID != nil {
		snap["binId"] = *u.BinID
	}
	if u.OrderID != nil {
		snap["orderId"] = *u.OrderID
	}
	return snap
}

// ScanEvent is an append-only audit record.
type ScanEvent struct {
	ID        int64          `json:"id"`
	UnitID    int64          `json:"unitId"`
	Type      ScanType       `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Location  string         `json:"location"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Bin is a storage shelf or wash container.
type Bin struct {
	ID           int64     `json:"id"`
	QRCode       string    `json:"qrCode"`
	Name         string    `json:"name"`
	Type         BinType   `json:"type"`
	Zone         string    `json:"zone"`
	Capacity     int       `json:"capacity"`
	CurrentCount int       `json:"currentCount"`
	Active       bool      `json:"active"`
	Wash         sku.Wash  `json:"wash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Free returns the remaining capacity.
func (b *Bin) Free() int {
	return b.Capacity - b.CurrentCount
}
