// Package fsm holds the transition tables for units, orders and production
// requests. Each machine is stateless from the caller's point of view: the
// current state is loaded from a row, validated, and the resulting state is
// written back by the caller.
package fsm

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Unit stage events. ACTIVATION is split by commitment so that one event
// name maps to one destination.
const (
	StageEventActivateCommitted   = "activate_committed"
	StageEventActivateUncommitted = "activate_uncommitted"
	StageEventMovement            = "MOVEMENT"
	StageEventWashScanOut         = "WASH_SCAN_OUT"
	StageEventReactivate          = "REACTIVATE_FROM_LAUNDRY"
	StageEventQCComplete          = "QC_COMPLETE"
	StageEventFinishingComplete   = "FINISHING_COMPLETE"
	StageEventPackingComplete     = "PACKING_COMPLETE"
	StageEventShippingComplete    = "SHIPPING_COMPLETE"
	StageEventDefect              = "DEFECT"
)

// Unit commitment events.
const (
	CommitmentEventCommit = "commit"
	CommitmentEventAssign = "assign"
)

// Order status events.
const (
	OrderEventCommit = "commit"
	OrderEventAssign = "assign"
)

// Production request events.
const (
	RequestEventModify   = "modify"
	RequestEventAccept   = "accept"
	RequestEventComplete = "complete"
)

// machine serializes access to one looplab FSM that is reset to the
// caller's state before every check.
type machine struct {
	fsm *fsm.FSM
	mu  sync.Mutex
}

func newMachine(initial string, events fsm.Events) *machine {
	return &machine{fsm: fsm.NewFSM(initial, events, fsm.Callbacks{})}
}

func (m *machine) can(current, event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fsm.SetState(current)
	return m.fsm.Can(event)
}

func (m *machine) transition(ctx context.Context, current, event string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fsm.SetState(current)
	if err := m.fsm.Event(ctx, event); err != nil {
		return "", err
	}
	return m.fsm.Current(), nil
}

func (m *machine) available(current string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fsm.SetState(current)
	return m.fsm.AvailableTransitions()
}
