package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/model"
)

func stages(s ...model.Stage) []string {
	out := make([]string, len(s))
	for i, st := range s {
		out[i] = string(st)
	}
	return out
}

// StageStateMachine validates scans against a unit's processing stage.
type StageStateMachine struct {
	m *machine
}

func NewStageStateMachine() *StageStateMachine {
	nonTerminal := stages(
		model.StageProduction, model.StageStorageQueue, model.StageWashQueue, model.StageStock,
		model.StageWashing, model.StageLaundry, model.StageQC, model.StageFinishing,
		model.StagePacking, model.StageShipping,
	)
	return &StageStateMachine{m: newMachine(
		string(model.StageProduction),
		fsm.Events{
			{Name: StageEventActivateCommitted, Src: stages(model.StageProduction), Dst: string(model.StageWashQueue)},
			{Name: StageEventActivateUncommitted, Src: stages(model.StageProduction), Dst: string(model.StageStorageQueue)},
			{Name: StageEventMovement, Src: stages(model.StageStorageQueue), Dst: string(model.StageStock)},
			{Name: StageEventMovement, Src: stages(model.StageWashQueue), Dst: string(model.StageWashing)},
			{Name: StageEventWashScanOut, Src: stages(model.StageWashing), Dst: string(model.StageLaundry)},
			{Name: StageEventReactivate, Src: stages(model.StageLaundry), Dst: string(model.StageQC)},
			{Name: StageEventQCComplete, Src: stages(model.StageQC), Dst: string(model.StageFinishing)},
			{Name: StageEventFinishingComplete, Src: stages(model.StageFinishing), Dst: string(model.StagePacking)},
			{Name: StageEventPackingComplete, Src: stages(model.StagePacking), Dst: string(model.StageShipping)},
			{Name: StageEventShippingComplete, Src: stages(model.StageShipping), Dst: string(model.StageFulfilled)},
			{Name: StageEventDefect, Src: nonTerminal, Dst: string(model.StageDefect)},
		},
	)}
}

// EventFor maps a scan to the stage event it fires. ACTIVATION routes on
// the unit's commitment.
func EventFor(scan model.ScanType, commitment model.Commitment) string {
	if scan == model.ScanActivation {
		if commitment == model.Committed {
			return StageEventActivateCommitted
		}
		return StageEventActivateUncommitted
	}
	return string(scan)
}

// CanScan reports whether scan is accepted in stage.
func (s *StageStateMachine) CanScan(stage model.Stage, scan model.ScanType, commitment model.Commitment) bool {
	return s.m.can(string(stage), EventFor(scan, commitment))
}

// Next returns the stage a unit moves to when scan is applied. A scan that
// the stage does not accept fails with apperr.InvalidStageForScanType.
func (s *StageStateMachine) Next(ctx context.Context, stage model.Stage, scan model.ScanType, commitment model.Commitment) (model.Stage, error) {
	next, err := s.m.transition(ctx, string(stage), EventFor(scan, commitment))
	if err != nil {
		return "", scanError(stage, scan, err)
	}
	return model.Stage(next), nil
}

// ExpectedScans lists the scan types accepted in stage.
func (s *StageStateMachine) ExpectedScans(stage model.Stage) []model.ScanType {
	var out []model.ScanType
	seen := make(map[model.ScanType]bool)
	for _, ev := range s.m.available(string(stage)) {
		st := model.ScanType(ev)
		if ev == StageEventActivateCommitted || ev == StageEventActivateUncommitted {
			st = model.ScanActivation
		}
		if !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	return out
}

func scanError(stage model.Stage, scan model.ScanType, err error) error {
	var invalid fsm.InvalidEventError
	var unknown fsm.UnknownEventError
	if errors.As(err, &invalid) || errors.As(err, &unknown) {
		return apperr.Wrap(apperr.InvalidStageForScanType, err, "%s scan not allowed in stage %s", scan, stage)
	}
	return err
}
