// Package workflow implements the client-resident state machine that tracks
// an in-progress diagnosis session, decides which pipeline node to run next,
// and recovers from partial failures without losing session continuity.
//
// A Controller holds the current snapshot and routing hint and exposes one
// operation per pipeline node plus a generic Advance. Every operation either
// fully succeeds (snapshot and stage replaced wholesale) or fully fails
// (snapshot and stage untouched, error recorded); there is no partial state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

// Gateway defines the backend transport the controller depends on, one
// function per pipeline node. Implementations own no workflow state.
type Gateway interface {
	StartTextualAnalysis(ctx context.Context, symptoms, sessionID string) (*models.NodeResult, error)
	FollowupQuestions(ctx context.Context, sessionID string, prev *models.PipelineSnapshot, answers map[string]string) (*models.NodeResult, error)
	ImageAnalysis(ctx context.Context, sessionID string, prev *models.PipelineSnapshot, image io.Reader, filename string) (*models.NodeResult, error)
	OverallAnalysis(ctx context.Context, sessionID string, prev *models.PipelineSnapshot) (*models.NodeResult, error)
	MedicalReport(ctx context.Context, sessionID string, prev *models.PipelineSnapshot) (*models.NodeResult, error)
}

// Error variables for controller failure modes.
var (
	// ErrOperationInFlight is returned when a second operation is attempted
	// while a backend call is pending. The controller does not queue.
	ErrOperationInFlight = errors.New("another operation is already in flight")
	// ErrInvalidStage is returned when an operation is attempted from a stage
	// it is not valid in.
	ErrInvalidStage = errors.New("operation not valid from current stage")
	// ErrNoSession is returned when an operation requires an established
	// session and none is held.
	ErrNoSession = errors.New("no active diagnosis session")
	// ErrUnknownTransition is recorded when Advance receives a routing hint
	// it cannot classify; the controller enters the terminal error stage.
	ErrUnknownTransition = errors.New("no next step could be determined")
	// ErrSessionReset is returned to an operation whose response arrived
	// after the session was reset; no state was mutated.
	ErrSessionReset = errors.New("session was reset while the operation was in flight")
	// ErrSessionMismatch is recorded when a response carries a different
	// session id than the one the controller holds.
	ErrSessionMismatch = errors.New("response session id does not match the active session")
	// ErrStageRegression is recorded when a response reports a stage that is
	// not forward of the current one.
	ErrStageRegression = errors.New("response stage moves backward in the workflow graph")
)

// Controller is the diagnosis workflow state machine. One Controller owns one
// session; it is safe for concurrent use, though the workflow itself is a
// single logical thread of control gated by the loading flag.
type Controller struct {
	mu         sync.Mutex
	gateway    Gateway
	snapshot   *models.PipelineSnapshot
	routing    *models.RoutingHint
	stage      models.Stage
	loading    bool
	lastErr    error
	generation uint64 // bumped by Reset; stale responses from older generations are discarded
}

// NewController creates a workflow controller with an injected gateway.
func NewController(gw Gateway) *Controller {
	slog.Debug("Controller.NewController: creating controller")
	return &Controller{gateway: gw, stage: models.StageIdle}
}

// Stage returns the current workflow stage.
func (c *Controller) Stage() models.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Loading reports whether a backend call is in flight. Callers are
// responsible for checking it before invoking an operation.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the error recorded by the last failed operation, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the backend-assigned session id, or empty before the
// first successful textual analysis.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return ""
	}
	return c.snapshot.SessionID
}

// Snapshot returns a copy of the snapshot from the last successful operation,
// or nil before one. Copies keep callers from mutating the held state.
func (c *Controller) Snapshot() *models.PipelineSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// Routing returns a copy of the routing hint from the last successful
// operation, or nil.
func (c *Controller) Routing() *models.RoutingHint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routing.Clone()
}

// SubmitSymptoms starts a session by sending symptom text to the
// textual-analysis node. Valid only from the idle stage; the backend mints
// the session id.
func (c *Controller) SubmitSymptoms(ctx context.Context, text string) error {
	if err := models.ValidateSymptomText(text); err != nil {
		return err
	}
	call, err := c.begin("SubmitSymptoms", models.StageTextualAnalysis, false, models.StageIdle)
	if err != nil {
		return err
	}
	res, err := c.gateway.StartTextualAnalysis(ctx, text, "")
	return c.finish("SubmitSymptoms", call, res, err)
}

// SubmitFollowupAnswers sends a complete round of follow-up answers. Valid
// only while awaiting follow-up responses. Answer completeness is the
// caller's contract (models.ValidateFollowupAnswers); only session presence
// is enforced here.
func (c *Controller) SubmitFollowupAnswers(ctx context.Context, answers map[string]string) error {
	call, err := c.begin("SubmitFollowupAnswers", "", true, models.StageAwaitingFollowupResponses)
	if err != nil {
		return err
	}
	res, err := c.gateway.FollowupQuestions(ctx, call.sessionID, call.snapshot, answers)
	return c.finish("SubmitFollowupAnswers", call, res, err)
}

// SubmitImage uploads a medical image to the image-analysis node. Valid only
// while awaiting an image upload. The image is optional; the node may
// short-circuit without one.
func (c *Controller) SubmitImage(ctx context.Context, image io.Reader, filename string) error {
	call, err := c.begin("SubmitImage", models.StageAnalyzingImage, true, models.StageAwaitingImageUpload)
	if err != nil {
		return err
	}
	res, err := c.gateway.ImageAnalysis(ctx, call.sessionID, call.snapshot, image, filename)
	return c.finish("SubmitImage", call, res, err)
}

// Advance runs whatever the last routing hint says comes next. It performs at
// most one state transition per invocation and never calls two nodes; callers
// invoke it again if further progression is desired.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrOperationInFlight
	}
	if c.snapshot == nil {
		c.mu.Unlock()
		return ErrNoSession
	}

	d := decideNext(c.snapshot, c.routing, c.stage)
	switch d.kind {
	case actionNone:
		c.mu.Unlock()
		slog.Debug("Controller.Advance: nothing to run", "reason", d.reason)
		return nil

	case actionAwaitImage:
		if c.stage != models.StageAwaitingImageUpload {
			slog.Info("Controller.Advance: awaiting image upload", "from", c.stage, "reason", d.reason)
			c.stage = models.StageAwaitingImageUpload
		}
		c.mu.Unlock()
		return nil

	case actionUnknown:
		err := fmt.Errorf("%w: %s", ErrUnknownTransition, d.reason)
		c.stage = models.StageError
		c.lastErr = err
		c.mu.Unlock()
		slog.Error("Controller.Advance: unknown transition", "error", err)
		return err
	}

	// actionCallEndpoint: one round trip to the named node.
	call := callToken{
		generation: c.generation,
		prevStage:  c.stage,
		sessionID:  c.snapshot.SessionID,
		snapshot:   c.snapshot,
	}
	c.loading = true
	if d.inFlight != "" {
		c.stage = d.inFlight
	}
	c.mu.Unlock()
	slog.Debug("Controller.Advance: calling node", "endpoint", d.endpoint, "from", call.prevStage)

	var res *models.NodeResult
	var err error
	switch d.endpoint {
	case models.EndpointFollowupQuestions:
		// Question-generation variant: no answers attached.
		res, err = c.gateway.FollowupQuestions(ctx, call.sessionID, call.snapshot, nil)
	case models.EndpointImageAnalysis:
		res, err = c.gateway.ImageAnalysis(ctx, call.sessionID, call.snapshot, nil, "")
	case models.EndpointOverallAnalysis:
		res, err = c.gateway.OverallAnalysis(ctx, call.sessionID, call.snapshot)
	case models.EndpointMedicalReport:
		res, err = c.gateway.MedicalReport(ctx, call.sessionID, call.snapshot)
	default:
		err = fmt.Errorf("%w: endpoint %q has no operation", ErrUnknownTransition, d.endpoint)
	}
	return c.finish("Advance", call, res, err)
}

// Reset discards the session, snapshot, and routing hint and returns the
// controller to idle. It always succeeds, never calls the backend, and is the
// only way to leave the error stage. Responses from operations still in
// flight are discarded when they resolve.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.snapshot = nil
	c.routing = nil
	c.stage = models.StageIdle
	c.lastErr = nil
	c.loading = false
	slog.Info("Controller.Reset: session discarded", "generation", c.generation)
}

// callToken captures the state an operation needs to resolve its response.
type callToken struct {
	generation uint64
	prevStage  models.Stage
	sessionID  string
	snapshot   *models.PipelineSnapshot
}

// begin gates an operation: rejects re-entry while loading, validates the
// current stage, optionally requires an established session, and switches to
// the in-flight stage.
func (c *Controller) begin(op string, inFlight models.Stage, requireSession bool, validFrom ...models.Stage) (callToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return callToken{}, ErrOperationInFlight
	}
	valid := false
	for _, s := range validFrom {
		if c.stage == s {
			valid = true
			break
		}
	}
	if !valid {
		return callToken{}, fmt.Errorf("%w: %s requires stage %v, current stage is %s", ErrInvalidStage, op, validFrom, c.stage)
	}
	if requireSession && (c.snapshot == nil || c.snapshot.SessionID == "") {
		return callToken{}, ErrNoSession
	}
	call := callToken{generation: c.generation, prevStage: c.stage, snapshot: c.snapshot}
	if c.snapshot != nil {
		call.sessionID = c.snapshot.SessionID
	}
	c.loading = true
	if inFlight != "" {
		c.stage = inFlight
	}
	slog.Debug("Controller operation started", "op", op, "from", call.prevStage, "inFlight", inFlight)
	return call, nil
}

// finish resolves an operation: on failure the pre-call stage is restored and
// the error recorded; on success the response snapshot replaces the held one
// wholesale. Responses from a generation older than the current one (a reset
// happened mid-flight) never mutate state.
func (c *Controller) finish(op string, call callToken, res *models.NodeResult, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call.generation != c.generation {
		slog.Debug("Controller discarding stale response", "op", op, "generation", call.generation, "current", c.generation)
		return ErrSessionReset
	}
	c.loading = false

	if err == nil {
		err = c.validateResult(call, res)
	}
	if err != nil {
		c.stage = call.prevStage
		c.lastErr = err
		slog.Error("Controller operation failed", "op", op, "stage", c.stage, "error", err)
		return err
	}

	c.snapshot = &res.Snapshot
	c.routing = res.Routing
	c.stage = res.Snapshot.Stage
	c.lastErr = nil
	slog.Info("Controller stage advanced", "op", op, "from", call.prevStage, "to", c.stage, "sessionID", res.SessionID)
	return nil
}

// validateResult enforces the session-identity and forward-only invariants on
// a successful response before it is adopted.
func (c *Controller) validateResult(call callToken, res *models.NodeResult) error {
	if call.sessionID != "" && res.SessionID != call.sessionID {
		return fmt.Errorf("%w: held %s, got %s", ErrSessionMismatch, call.sessionID, res.SessionID)
	}
	if !models.IsForward(call.prevStage, res.Snapshot.Stage) {
		return fmt.Errorf("%w: %s does not follow %s", ErrStageRegression, res.Snapshot.Stage, call.prevStage)
	}
	return nil
}
