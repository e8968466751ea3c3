package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

func noopHandler(ctx context.Context, snap *models.PipelineSnapshot, hint *models.RoutingHint) error {
	return nil
}

func TestRegisterRejectsDuplicatesAndUnknownStages(t *testing.T) {
	d := NewDispatcher()
	if err := d.Register(models.StageIdle, noopHandler); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := d.Register(models.StageIdle, noopHandler); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := d.Register(models.Stage("bogus"), noopHandler); err == nil {
		t.Error("unknown stage registration should fail")
	}
	if err := d.Register(models.StageError, nil); err == nil {
		t.Error("nil handler registration should fail")
	}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	d := NewDispatcher()
	var gotStage models.Stage
	var gotSession string
	err := d.Register(models.StageWorkflowComplete, func(ctx context.Context, snap *models.PipelineSnapshot, hint *models.RoutingHint) error {
		gotStage = snap.Stage
		gotSession = snap.SessionID
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	snap := &models.PipelineSnapshot{SessionID: "sess-1", Stage: models.StageWorkflowComplete}
	if err := d.Dispatch(context.Background(), models.StageWorkflowComplete, snap, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotStage != models.StageWorkflowComplete || gotSession != "sess-1" {
		t.Errorf("handler received stage=%s session=%s", gotStage, gotSession)
	}
}

func TestDispatchUnmappedStage(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), models.StageIdle, nil, nil)
	if !errors.Is(err, ErrUnmappedStage) {
		t.Errorf("expected ErrUnmappedStage, got %v", err)
	}
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	d := NewDispatcher()
	handlerErr := errors.New("render failed")
	if err := d.Register(models.StageIdle, func(ctx context.Context, snap *models.PipelineSnapshot, hint *models.RoutingHint) error {
		return handlerErr
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Dispatch(context.Background(), models.StageIdle, nil, nil); !errors.Is(err, handlerErr) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestValidateReportsMissingStages(t *testing.T) {
	d := NewDispatcher()
	if err := d.Validate(); err == nil {
		t.Error("empty dispatcher should fail validation")
	}

	for _, stage := range models.ReachableStages() {
		if err := d.Register(stage, noopHandler); err != nil {
			t.Fatalf("Register(%s): %v", stage, err)
		}
	}
	if err := d.Validate(); err != nil {
		t.Errorf("fully covered dispatcher failed validation: %v", err)
	}
}

func TestValidateNamesTheGap(t *testing.T) {
	d := NewDispatcher()
	for _, stage := range models.ReachableStages() {
		if stage == models.StageAwaitingImageUpload {
			continue
		}
		if err := d.Register(stage, noopHandler); err != nil {
			t.Fatalf("Register(%s): %v", stage, err)
		}
	}
	err := d.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if want := string(models.StageAwaitingImageUpload); !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name missing stage %q", err, want)
	}
}
