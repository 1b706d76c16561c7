package fsm

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/buildtall-systems/denimtrack/internal/model"
)

// OrderStateMachine guards the order commitment axis.
type OrderStateMachine struct {
	m *machine
}

func NewOrderStateMachine() *OrderStateMachine {
	return &OrderStateMachine{m: newMachine(
		string(model.OrderCreated),
		fsm.Events{
			{Name: OrderEventCommit, Src: []string{string(model.OrderCreated)}, Dst: string(model.OrderCommitted)},
			{Name: OrderEventAssign, Src: []string{string(model.OrderCreated), string(model.OrderCommitted)}, Dst: string(model.OrderAssigned)},
		},
	)}
}

func (o *OrderStateMachine) CanTransition(current model.OrderStatus, event string) bool {
	return o.m.can(string(current), event)
}

func (o *OrderStateMachine) Transition(ctx context.Context, current model.OrderStatus, event string) (model.OrderStatus, error) {
	next, err := o.m.transition(ctx, string(current), event)
	if err != nil {
		return "", err
	}
	return model.OrderStatus(next), nil
}

// CommitmentStateMachine guards the unit commitment axis. Stock units jump
// straight from UNCOMMITTED to ASSIGNED.
type CommitmentStateMachine struct {
	m *machine
}

func NewCommitmentStateMachine() *CommitmentStateMachine {
	return &CommitmentStateMachine{m: newMachine(
		string(model.Uncommitted),
		fsm.Events{
			{Name: CommitmentEventCommit, Src: []string{string(model.Uncommitted)}, Dst: string(model.Committed)},
			{Name: CommitmentEventAssign, Src: []string{string(model.Uncommitted), string(model.Committed)}, Dst: string(model.Assigned)},
		},
	)}
}

func (c *CommitmentStateMachine) CanTransition(current model.Commitment, event string) bool {
	return c.m.can(string(current), event)
}

func (c *CommitmentStateMachine) Transition(ctx context.Context, current model.Commitment, event string) (model.Commitment, error) {
	next, err := c.m.transition(ctx, string(current), event)
	if err != nil {
		return "", err
	}
	return model.Commitment(next), nil
}

// RequestStateMachine guards production request status.
type RequestStateMachine struct {
	m *machine
}

func NewRequestStateMachine() *RequestStateMachine {
	pending := string(model.ProductionPending)
	return &RequestStateMachine{m: newMachine(
		pending,
		fsm.Events{
			{Name: RequestEventModify, Src: []string{pending}, Dst: pending},
			{Name: RequestEventAccept, Src: []string{pending}, Dst: string(model.ProductionInProgress)},
			{Name: RequestEventComplete, Src: []string{string(model.ProductionInProgress)}, Dst: string(model.ProductionCompleted)},
		},
	)}
}

// CanTransition reports whether event is allowed. The modify event is a
// self loop and is only ever checked, never fired.
func (r *RequestStateMachine) CanTransition(current model.ProductionStatus, event string) bool {
	return r.m.can(string(current), event)
}

func (r *RequestStateMachine) Transition(ctx context.Context, current model.ProductionStatus, event string) (model.ProductionStatus, error) {
	next, err := r.m.transition(ctx, string(current), event)
	if err != nil {
		return "", err
	}
	return model.ProductionStatus(next), nil
}
