package workflow

import (
	"fmt"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

// actionKind enumerates what Advance should do for the current snapshot and
// routing hint.
type actionKind int

const (
	// actionNone means there is nothing to run: the workflow is complete or
	// already waiting on the user.
	actionNone actionKind = iota
	// actionAwaitImage flips the stage to awaiting_image_upload without a
	// network call. This is the one transition that does not round-trip the
	// backend.
	actionAwaitImage
	// actionCallEndpoint performs exactly one round trip to the named node.
	actionCallEndpoint
	// actionUnknown means the routing hint could not be classified; the
	// controller enters the terminal error stage.
	actionUnknown
)

// decision is the outcome of the next-step policy.
type decision struct {
	kind     actionKind
	endpoint models.Endpoint
	inFlight models.Stage // stage shown while the endpoint call is pending; empty to keep the current stage
	reason   string
}

// decideNext classifies the held routing hint into exactly one action.
//
// Branch policy: the backend's flags are ground truth. The controller performs
// no confidence arithmetic of its own; it only reacts to the flags and
// endpoints the backend reports. Two flag checks take precedence over the
// hint's endpoint:
//   - after textual analysis, image_required wins over a follow-up request
//   - after a follow-up round, a detected skin-cancer risk overrides the
//     default route to overall analysis
//
// The caller guarantees snap is non-nil.
func decideNext(snap *models.PipelineSnapshot, hint *models.RoutingHint, stage models.Stage) decision {
	if stage == models.StageWorkflowComplete {
		return decision{kind: actionNone, reason: "workflow already complete"}
	}
	if stage == models.StageError {
		return decision{kind: actionNone, reason: "session is in the error stage; reset to continue"}
	}
	if hint != nil && hint.WorkflowComplete {
		return decision{kind: actionNone, reason: "routing hint reports workflow complete"}
	}

	if stage == models.StageTextualAnalysisComplete && snap.ImageRequired {
		return decision{kind: actionAwaitImage, reason: "image required after textual analysis"}
	}
	if stage == models.StageFollowupAnalysisComplete && snap.SkinCancerRiskDetected {
		return decision{kind: actionAwaitImage, reason: "skin cancer risk detected after follow-up"}
	}

	if hint == nil {
		return decision{kind: actionUnknown, reason: "no routing hint held"}
	}

	switch hint.NeedsUserInput {
	case models.UserInputImageUpload:
		return decision{kind: actionAwaitImage, reason: "routing hint requests image upload"}
	case models.UserInputFollowupQuestions:
		if stage == models.StageAwaitingFollowupResponses {
			// Questions already generated; nothing to run until answers arrive.
			return decision{kind: actionNone, reason: "already awaiting follow-up answers"}
		}
		return decision{
			kind:     actionCallEndpoint,
			endpoint: models.EndpointFollowupQuestions,
			reason:   "generating follow-up questions",
		}
	}

	if hint.NextEndpoint != "" {
		switch ep := models.NormalizeEndpoint(hint.NextEndpoint); ep {
		case models.EndpointOverallAnalysis:
			return decision{kind: actionCallEndpoint, endpoint: ep, inFlight: models.StagePerformingOverallAnalysis}
		case models.EndpointMedicalReport:
			return decision{kind: actionCallEndpoint, endpoint: ep, inFlight: models.StageGeneratingMedicalReport}
		case models.EndpointImageAnalysis:
			// The node tolerates a missing image; run it without one.
			return decision{kind: actionCallEndpoint, endpoint: ep, inFlight: models.StageAnalyzingImage}
		case models.EndpointFollowupQuestions:
			if stage == models.StageAwaitingFollowupResponses {
				return decision{kind: actionNone, reason: "already awaiting follow-up answers"}
			}
			return decision{kind: actionCallEndpoint, endpoint: ep}
		default:
			return decision{kind: actionUnknown, reason: fmt.Sprintf("unrecognized next endpoint %q", hint.NextEndpoint)}
		}
	}

	return decision{kind: actionUnknown, reason: "routing hint names no next step"}
}
