package models

import "strings"

// Endpoint identifies one backend pipeline node by its logical name.
type Endpoint string

// Endpoint constants for the diagnosis backend nodes.
const (
	// EndpointTextualAnalysis starts a session by analyzing symptom text.
	EndpointTextualAnalysis Endpoint = "start-textual-analysis"
	// EndpointFollowupQuestions generates questions or processes answers.
	// The node is idempotent: callable with or without answers.
	EndpointFollowupQuestions Endpoint = "followup-questions"
	// EndpointImageAnalysis classifies an uploaded medical image.
	EndpointImageAnalysis Endpoint = "image-analysis"
	// EndpointOverallAnalysis runs the comprehensive analysis node.
	EndpointOverallAnalysis Endpoint = "overall-analysis"
	// EndpointMedicalReport generates the final report.
	EndpointMedicalReport Endpoint = "medical-report"
)

// IsValidEndpoint checks if the given endpoint is a known pipeline node.
func IsValidEndpoint(e Endpoint) bool {
	switch e {
	case EndpointTextualAnalysis, EndpointFollowupQuestions, EndpointImageAnalysis,
		EndpointOverallAnalysis, EndpointMedicalReport:
		return true
	default:
		return false
	}
}

// endpointAliases maps backend URL paths to logical endpoint names. Older
// backend revisions report the raw route instead of the logical name.
var endpointAliases = map[string]Endpoint{
	"/patient/textual_analysis":   EndpointTextualAnalysis,
	"/patient/followup_questions": EndpointFollowupQuestions,
	"/patient/image_analysis":     EndpointImageAnalysis,
	"/patient/overall_analysis":   EndpointOverallAnalysis,
	"/patient/medical_report":     EndpointMedicalReport,
}

// NormalizeEndpoint resolves a routing-hint endpoint value to its logical
// name. Unknown values are returned unchanged so callers can report them.
func NormalizeEndpoint(raw Endpoint) Endpoint {
	trimmed := Endpoint(strings.TrimSpace(string(raw)))
	if alias, ok := endpointAliases[string(trimmed)]; ok {
		return alias
	}
	return trimmed
}

// UserInputKind tags the kind of user input a routing hint is waiting on.
type UserInputKind string

// User input kinds reported by the backend.
const (
	UserInputNone              UserInputKind = ""
	UserInputFollowupQuestions UserInputKind = "followup_questions"
	UserInputImageUpload       UserInputKind = "image_upload"
)

// RoutingHint is the backend-supplied instruction describing what the
// controller should do next. Hints are ephemeral: each is produced alongside
// one snapshot and consumed at most once.
type RoutingHint struct {
	CurrentStage        Stage         `json:"current_stage,omitempty"`
	NextEndpoint        Endpoint      `json:"next_endpoint,omitempty"`
	NeedsUserInput      UserInputKind `json:"needs_user_input,omitempty"`
	WorkflowComplete    bool          `json:"workflow_complete,omitempty"`
	NextStepDescription string        `json:"next_step_description,omitempty"`
	ShowNextButton      bool          `json:"show_next_button,omitempty"`
	ConfidenceScore     float64       `json:"confidence_score,omitempty"`
	ImageRequired       bool          `json:"image_required,omitempty"`
}

// Clone returns a copy of the routing hint.
func (h *RoutingHint) Clone() *RoutingHint {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}
