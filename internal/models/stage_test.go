package models

import "testing"

func TestStageGraphClosure(t *testing.T) {
	for stage, info := range StageInfoMap {
		for _, next := range info.PossibleNextStages {
			if !IsValidStage(next) {
				t.Errorf("stage %s lists unknown successor %s", stage, next)
			}
		}
	}
}

func TestTerminalStages(t *testing.T) {
	for stage, info := range StageInfoMap {
		isTerminal := stage == StageWorkflowComplete || stage == StageError
		if IsTerminalStage(stage) != isTerminal {
			t.Errorf("stage %s: terminal=%v, expected %v", stage, IsTerminalStage(stage), isTerminal)
		}
		if isTerminal && len(info.PossibleNextStages) != 0 {
			t.Errorf("terminal stage %s has successors %v", stage, info.PossibleNextStages)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		want bool
	}{
		{"idle to textual analysis", StageIdle, StageTextualAnalysis, true},
		{"textual complete to followup wait", StageTextualAnalysisComplete, StageAwaitingFollowupResponses, true},
		{"textual complete to image wait", StageTextualAnalysisComplete, StageAwaitingImageUpload, true},
		{"textual complete to overall", StageTextualAnalysisComplete, StagePerformingOverallAnalysis, true},
		{"followup complete skips image", StageFollowupAnalysisComplete, StagePerformingOverallAnalysis, true},
		{"no backward edge", StageTextualAnalysisComplete, StageIdle, false},
		{"no skip to report", StageTextualAnalysisComplete, StageGeneratingMedicalReport, false},
		{"error reachable from anywhere", StageAnalyzingImage, StageError, true},
		{"error from idle", StageIdle, StageError, true},
		{"nothing leaves workflow complete", StageWorkflowComplete, StageTextualAnalysis, false},
		{"unknown from stage", Stage("bogus"), StageTextualAnalysis, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsForward(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		want bool
	}{
		{"same stage", StageTextualAnalysisComplete, StageTextualAnalysisComplete, true},
		{"direct edge", StageIdle, StageTextualAnalysis, true},
		{"multi hop", StageIdle, StageWorkflowComplete, true},
		{"compressed followup round", StageAwaitingFollowupResponses, StageFollowupAnalysisComplete, true},
		{"followup round to overall complete", StageAwaitingFollowupResponses, StageOverallAnalysisComplete, true},
		{"backward", StageOverallAnalysisComplete, StageTextualAnalysisComplete, false},
		{"error is always forward", StageIdle, StageError, true},
		{"nothing follows workflow complete", StageWorkflowComplete, StageIdle, false},
		{"unknown stage", Stage("bogus"), StageIdle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsForward(tt.from, tt.to); got != tt.want {
				t.Errorf("IsForward(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestReachableStagesCoversGraph(t *testing.T) {
	reachable := ReachableStages()
	seen := make(map[Stage]bool, len(reachable))
	for _, s := range reachable {
		if seen[s] {
			t.Errorf("stage %s listed twice", s)
		}
		seen[s] = true
	}
	// Every defined stage is reachable from idle in this graph.
	for stage := range StageInfoMap {
		if !seen[stage] {
			t.Errorf("stage %s not reported reachable", stage)
		}
	}
	if reachable[0] != StageIdle {
		t.Errorf("expected walk to start at idle, got %s", reachable[0])
	}
}

func TestInFlightStagesAreMarked(t *testing.T) {
	inFlight := []Stage{StageTextualAnalysis, StageAnalyzingImage, StagePerformingOverallAnalysis, StageGeneratingMedicalReport}
	for _, s := range inFlight {
		if !StageInfoMap[s].InFlight {
			t.Errorf("stage %s should be marked in-flight", s)
		}
	}
	waiting := []Stage{StageAwaitingFollowupResponses, StageAwaitingImageUpload}
	for _, s := range waiting {
		if !StageInfoMap[s].AwaitsUserInput {
			t.Errorf("stage %s should be marked as awaiting user input", s)
		}
	}
}
