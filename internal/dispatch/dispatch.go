// Package dispatch maps workflow stages to the handlers a frontend runs when
// the controller lands on them. The registry is populated once at startup and
// validated against the reachable stage set before use.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

// ErrUnmappedStage is returned when Dispatch is asked to handle a stage no
// handler was registered for.
var ErrUnmappedStage = errors.New("no handler registered for stage")

// Handler reacts to the workflow arriving at one stage. The snapshot and
// routing hint are the controller's current ones and must be treated as
// read-only.
type Handler func(ctx context.Context, snap *models.PipelineSnapshot, hint *models.RoutingHint) error

// Dispatcher routes stage arrivals to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.Stage]Handler
}

// NewDispatcher creates an empty stage dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[models.Stage]Handler)}
}

// Register binds a handler to a stage. Registering the same stage twice or an
// unknown stage is a programming error and returns one.
func (d *Dispatcher) Register(stage models.Stage, h Handler) error {
	if !models.IsValidStage(stage) {
		return fmt.Errorf("cannot register handler for unknown stage %q", stage)
	}
	if h == nil {
		return fmt.Errorf("cannot register nil handler for stage %s", stage)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[stage]; exists {
		return fmt.Errorf("handler already registered for stage %s", stage)
	}
	d.handlers[stage] = h
	slog.Debug("Dispatcher.Register: handler registered", "stage", stage)
	return nil
}

// Dispatch invokes the handler for the given stage.
func (d *Dispatcher) Dispatch(ctx context.Context, stage models.Stage, snap *models.PipelineSnapshot, hint *models.RoutingHint) error {
	d.mu.RLock()
	h, ok := d.handlers[stage]
	d.mu.RUnlock()
	if !ok {
		slog.Error("Dispatcher.Dispatch: unmapped stage", "stage", stage)
		return fmt.Errorf("%w: %s", ErrUnmappedStage, stage)
	}
	slog.Debug("Dispatcher.Dispatch: invoking handler", "stage", stage)
	return h(ctx, snap, hint)
}

// Validate checks that every stage reachable from idle has a handler.
// Frontends call it once after registration so a forgotten stage fails at
// startup instead of mid-session.
func (d *Dispatcher) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var missing []models.Stage
	for _, stage := range models.ReachableStages() {
		if _, ok := d.handlers[stage]; !ok {
			missing = append(missing, stage)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("stages without handlers: %v", missing)
	}
	return nil
}
