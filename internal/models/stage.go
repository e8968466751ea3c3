package models

// Stage represents the discrete position of a diagnosis session within the
// pipeline's directed stage graph.
type Stage string

// Stage constants for the diagnosis workflow.
const (
	// StageIdle is the sole initial stage, re-entered only via a controller reset.
	StageIdle Stage = "idle"
	// StageTextualAnalysis indicates the textual-analysis node call is in flight.
	StageTextualAnalysis Stage = "textual_analysis"
	// StageTextualAnalysisComplete indicates the textual-analysis node finished.
	StageTextualAnalysisComplete Stage = "textual_analysis_complete"
	// StageAwaitingFollowupResponses indicates the session is paused on follow-up answers.
	StageAwaitingFollowupResponses Stage = "awaiting_followup_responses"
	// StageFollowupAnalysisComplete indicates a follow-up round was processed.
	StageFollowupAnalysisComplete Stage = "followup_analysis_complete"
	// StageAwaitingImageUpload indicates the session is paused on an image upload.
	StageAwaitingImageUpload Stage = "awaiting_image_upload"
	// StageAnalyzingImage indicates the image-analysis node call is in flight.
	StageAnalyzingImage Stage = "analyzing_image"
	// StageImageAnalysisComplete indicates the image-analysis node finished.
	StageImageAnalysisComplete Stage = "image_analysis_complete"
	// StagePerformingOverallAnalysis indicates the overall-analysis node call is in flight.
	StagePerformingOverallAnalysis Stage = "performing_overall_analysis"
	// StageOverallAnalysisComplete indicates the overall-analysis node finished.
	StageOverallAnalysisComplete Stage = "overall_analysis_complete"
	// StageGeneratingMedicalReport indicates the medical-report node call is in flight.
	StageGeneratingMedicalReport Stage = "generating_medical_report"
	// StageWorkflowComplete is the successful terminal stage.
	StageWorkflowComplete Stage = "workflow_complete"
	// StageError is the failure terminal stage, enterable from any stage.
	StageError Stage = "error"
)

// StageInfo describes a stage in the diagnosis workflow graph.
type StageInfo struct {
	Name               string
	Description        string
	PossibleNextStages []Stage
	AwaitsUserInput    bool // session cannot proceed without user-supplied data
	InFlight           bool // a backend call is pending while this stage is shown
}

// StageInfoMap is the authoritative directed stage graph. StageError is not
// listed as a successor anywhere; it is reachable from every stage.
var StageInfoMap = map[Stage]StageInfo{
	StageIdle: {
		Name:               "Idle",
		Description:        "No active diagnosis session",
		PossibleNextStages: []Stage{StageTextualAnalysis},
	},
	StageTextualAnalysis: {
		Name:               "Textual Analysis",
		Description:        "Analyzing symptom text",
		PossibleNextStages: []Stage{StageTextualAnalysisComplete},
		InFlight:           true,
	},
	StageTextualAnalysisComplete: {
		Name:        "Textual Analysis Complete",
		Description: "Symptom analysis finished, next step pending",
		PossibleNextStages: []Stage{
			StageAwaitingFollowupResponses,
			StageAwaitingImageUpload,
			StagePerformingOverallAnalysis,
		},
	},
	StageAwaitingFollowupResponses: {
		Name:               "Awaiting Follow-up Responses",
		Description:        "Waiting for answers to follow-up questions",
		PossibleNextStages: []Stage{StageFollowupAnalysisComplete},
		AwaitsUserInput:    true,
	},
	StageFollowupAnalysisComplete: {
		Name:        "Follow-up Analysis Complete",
		Description: "Follow-up answers processed",
		PossibleNextStages: []Stage{
			StageAwaitingImageUpload,
			StagePerformingOverallAnalysis,
		},
	},
	StageAwaitingImageUpload: {
		Name:               "Awaiting Image Upload",
		Description:        "Waiting for a medical image",
		PossibleNextStages: []Stage{StageAnalyzingImage},
		AwaitsUserInput:    true,
	},
	StageAnalyzingImage: {
		Name:               "Analyzing Image",
		Description:        "Classifying the uploaded image",
		PossibleNextStages: []Stage{StageImageAnalysisComplete},
		InFlight:           true,
	},
	StageImageAnalysisComplete: {
		Name:               "Image Analysis Complete",
		Description:        "Image classification finished",
		PossibleNextStages: []Stage{StagePerformingOverallAnalysis},
	},
	StagePerformingOverallAnalysis: {
		Name:               "Performing Overall Analysis",
		Description:        "Running comprehensive analysis",
		PossibleNextStages: []Stage{StageOverallAnalysisComplete},
		InFlight:           true,
	},
	StageOverallAnalysisComplete: {
		Name:               "Overall Analysis Complete",
		Description:        "Comprehensive analysis finished",
		PossibleNextStages: []Stage{StageGeneratingMedicalReport},
	},
	StageGeneratingMedicalReport: {
		Name:               "Generating Medical Report",
		Description:        "Producing the final report",
		PossibleNextStages: []Stage{StageWorkflowComplete},
		InFlight:           true,
	},
	StageWorkflowComplete: {
		Name:        "Workflow Complete",
		Description: "Diagnosis session finished",
	},
	StageError: {
		Name:        "Error",
		Description: "Session failed; reset to start over",
	},
}

// IsValidStage checks if the given stage is defined in the workflow graph.
func IsValidStage(s Stage) bool {
	_, ok := StageInfoMap[s]
	return ok
}

// IsTerminalStage reports whether the stage has no successors.
func IsTerminalStage(s Stage) bool {
	info, ok := StageInfoMap[s]
	return ok && len(info.PossibleNextStages) == 0
}

// CanTransition reports whether to is a direct successor of from.
// StageError is reachable from every stage.
func CanTransition(from, to Stage) bool {
	if to == StageError {
		return IsValidStage(from)
	}
	info, ok := StageInfoMap[from]
	if !ok {
		return false
	}
	for _, next := range info.PossibleNextStages {
		if next == to {
			return true
		}
	}
	return false
}

// IsForward reports whether to equals from or is reachable from it by
// following successor edges. The backend may compress intermediate stages
// into a single response, so adoption checks use reachability rather than
// direct adjacency.
func IsForward(from, to Stage) bool {
	if !IsValidStage(from) || !IsValidStage(to) {
		return false
	}
	if to == StageError {
		return true
	}
	visited := make(map[Stage]bool)
	queue := []Stage{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		queue = append(queue, StageInfoMap[cur].PossibleNextStages...)
	}
	return false
}

// ReachableStages returns every stage reachable from StageIdle, including
// StageIdle itself and StageError. The dispatcher uses this set to verify
// full presentation coverage.
func ReachableStages() []Stage {
	visited := map[Stage]bool{StageError: true}
	order := []Stage{}
	var walk func(Stage)
	walk = func(s Stage) {
		if visited[s] {
			return
		}
		visited[s] = true
		order = append(order, s)
		for _, next := range StageInfoMap[s].PossibleNextStages {
			walk(next)
		}
	}
	walk(StageIdle)
	order = append(order, StageError)
	return order
}
