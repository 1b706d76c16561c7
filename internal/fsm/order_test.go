package fsm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/looplab/fsm"

	"github.com/buildtall-systems/denimtrack/internal/model"
)

func TestOrderStateMachine_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current model.OrderStatus
		event   string
		want    model.OrderStatus
	}{
		{name: "created to committed on acceptance", current: model.OrderCreated, event: OrderEventCommit, want: model.OrderCommitted},
		{name: "created to assigned from stock", current: model.OrderCreated, event: OrderEventAssign, want: model.OrderAssigned},
		{name: "committed to assigned on activation", current: model.OrderCommitted, event: OrderEventAssign, want: model.OrderAssigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			osm := NewOrderStateMachine()
			got, err := osm.Transition(context.Background(), tt.current, tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOrderStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current model.OrderStatus
		event   string
	}{
		{name: "committed cannot commit again", current: model.OrderCommitted, event: OrderEventCommit},
		{name: "assigned is terminal for commit", current: model.OrderAssigned, event: OrderEventCommit},
		{name: "assigned is terminal for assign", current: model.OrderAssigned, event: OrderEventAssign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			osm := NewOrderStateMachine()
			_, err := osm.Transition(context.Background(), tt.current, tt.event)

			var invalidErr fsm.InvalidEventError
			if !errors.As(err, &invalidErr) {
				t.Errorf("expected InvalidEventError, got %T: %v", err, err)
			}
		})
	}
}

func TestCommitmentStateMachine(t *testing.T) {
	csm := NewCommitmentStateMachine()

	tests := []struct {
		current model.Commitment
		event   string
		want    bool
	}{
		{model.Uncommitted, CommitmentEventCommit, true},
		{model.Uncommitted, CommitmentEventAssign, true},
		{model.Committed, CommitmentEventAssign, true},
		{model.Committed, CommitmentEventCommit, false},
		{model.Assigned, CommitmentEventAssign, false},
		{model.Assigned, CommitmentEventCommit, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.current)+"_"+tt.event, func(t *testing.T) {
			if got := csm.CanTransition(tt.current, tt.event); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.current, tt.event, got, tt.want)
			}
		})
	}
}

func TestRequestStateMachine(t *testing.T) {
	rsm := NewRequestStateMachine()
	ctx := context.Background()

	if !rsm.CanTransition(model.ProductionPending, RequestEventModify) {
		t.Error("pending request should be modifiable")
	}
	if rsm.CanTransition(model.ProductionInProgress, RequestEventModify) {
		t.Error("in-progress request should not be modifiable")
	}

	got, err := rsm.Transition(ctx, model.ProductionPending, RequestEventAccept)
	if err != nil || got != model.ProductionInProgress {
		t.Fatalf("accept = %q, %v", got, err)
	}
	got, err = rsm.Transition(ctx, got, RequestEventComplete)
	if err != nil || got != model.ProductionCompleted {
		t.Fatalf("complete = %q, %v", got, err)
	}
	if _, err := rsm.Transition(ctx, model.ProductionCompleted, RequestEventAccept); err == nil {
		t.Error("expected error accepting a completed request")
	}
}

func TestOrderStateMachine_ConcurrentAccess(t *testing.T) {
	osm := NewOrderStateMachine()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			osm.CanTransition(model.OrderCreated, OrderEventCommit)
			_, _ = osm.Transition(ctx, model.OrderCreated, OrderEventCommit)
			_, _ = osm.Transition(ctx, model.OrderCommitted, OrderEventAssign)
		}()
	}

	wg.Wait()
}

func TestOrderStateMachine_UnknownEvent(t *testing.T) {
	osm := NewOrderStateMachine()

	_, err := osm.Transition(context.Background(), model.OrderCreated, "unknown_event")

	var unknownErr fsm.UnknownEventError
	if !errors.As(err, &unknownErr) {
		t.Errorf("expected UnknownEventError, got %T: %v", err, err)
	}
}
