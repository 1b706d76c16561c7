package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/model"
)

func TestStageStateMachine_ValidTransitions(t *testing.T) {
	tests := []struct {
		name       string
		stage      model.Stage
		scan       model.ScanType
		commitment model.Commitment
		want       model.Stage
	}{
		{name: "committed activation heads to wash", stage: model.StageProduction, scan: model.ScanActivation, commitment: model.Committed, want: model.StageWashQueue},
		{name: "uncommitted activation heads to storage", stage: model.StageProduction, scan: model.ScanActivation, commitment: model.Uncommitted, want: model.StageStorageQueue},
		{name: "storage movement to stock", stage: model.StageStorageQueue, scan: model.ScanMovement, commitment: model.Uncommitted, want: model.StageStock},
		{name: "wash movement to washing", stage: model.StageWashQueue, scan: model.ScanMovement, commitment: model.Assigned, want: model.StageWashing},
		{name: "scan out to laundry", stage: model.StageWashing, scan: model.ScanWashScanOut, commitment: model.Assigned, want: model.StageLaundry},
		{name: "reactivate to qc", stage: model.StageLaundry, scan: model.ScanReactivateFromLaundry, commitment: model.Assigned, want: model.StageQC},
		{name: "qc to finishing", stage: model.StageQC, scan: model.ScanQCComplete, commitment: model.Assigned, want: model.StageFinishing},
		{name: "finishing to packing", stage: model.StageFinishing, scan: model.ScanFinishingComplete, commitment: model.Assigned, want: model.StagePacking},
		{name: "packing to shipping", stage: model.StagePacking, scan: model.ScanPackingComplete, commitment: model.Assigned, want: model.StageShipping},
		{name: "shipping to fulfilled", stage: model.StageShipping, scan: model.ScanShippingComplete, commitment: model.Assigned, want: model.StageFulfilled},
		{name: "defect from stock", stage: model.StageStock, scan: model.ScanDefect, commitment: model.Uncommitted, want: model.StageDefect},
		{name: "defect from qc", stage: model.StageQC, scan: model.ScanDefect, commitment: model.Assigned, want: model.StageDefect},
	}

	ssm := NewStageStateMachine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ssm.Next(context.Background(), tt.stage, tt.scan, tt.commitment)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// Every stage accepts exactly its designated scan types; everything else is
// rejected with InvalidStageForScanType.
func TestStageStateMachine_RejectsOtherScans(t *testing.T) {
	allowed := map[model.Stage][]model.ScanType{
		model.StageProduction:   {model.ScanActivation, model.ScanDefect},
		model.StageStorageQueue: {model.ScanMovement, model.ScanDefect},
		model.StageWashQueue:    {model.ScanMovement, model.ScanDefect},
		model.StageStock:        {model.ScanDefect},
		model.StageWashing:      {model.ScanWashScanOut, model.ScanDefect},
		model.StageLaundry:      {model.ScanReactivateFromLaundry, model.ScanDefect},
		model.StageQC:           {model.ScanQCComplete, model.ScanDefect},
		model.StageFinishing:    {model.ScanFinishingComplete, model.ScanDefect},
		model.StagePacking:      {model.ScanPackingComplete, model.ScanDefect},
		model.StageShipping:     {model.ScanShippingComplete, model.ScanDefect},
		model.StageFulfilled:    {},
		model.StageDefect:       {},
	}
	scans := []model.ScanType{
		model.ScanActivation, model.ScanMovement, model.ScanWashScanOut, model.ScanReactivateFromLaundry,
		model.ScanQCComplete, model.ScanFinishingComplete, model.ScanPackingComplete,
		model.ScanShippingComplete, model.ScanDefect, model.ScanAllocation,
	}

	ssm := NewStageStateMachine()
	for stage, ok := range allowed {
		for _, scan := range scans {
			isAllowed := false
			for _, a := range ok {
				if a == scan {
					isAllowed = true
				}
			}
			if ssm.CanScan(stage, scan, model.Assigned) != isAllowed {
				t.Errorf("CanScan(%s, %s) = %v, want %v", stage, scan, !isAllowed, isAllowed)
			}
			if isAllowed {
				continue
			}
			_, err := ssm.Next(context.Background(), stage, scan, model.Assigned)
			if !errors.Is(err, apperr.InvalidStageForScanType) {
				t.Errorf("Next(%s, %s) error = %v, want InvalidStageForScanType", stage, scan, err)
			}
		}
	}
}

func TestStageStateMachine_ExpectedScans(t *testing.T) {
	ssm := NewStageStateMachine()

	got := ssm.ExpectedScans(model.StageProduction)
	if len(got) != 2 {
		t.Fatalf("ExpectedScans(PRODUCTION) = %v, want ACTIVATION and DEFECT", got)
	}
	if len(ssm.ExpectedScans(model.StageFulfilled)) != 0 {
		t.Error("FULFILLED should accept no scans")
	}
}
