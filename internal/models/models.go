// Package models defines the core data structures for TriageFlow.
//
// It includes the pipeline snapshot and routing hint exchanged with the
// diagnosis backend, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxSymptomTextLength defines the maximum allowed length for symptom text
	MaxSymptomTextLength = 4096
	// MaxFollowupAnswerLength defines the maximum allowed length for a follow-up answer
	MaxFollowupAnswerLength = 1000
)

// Error variables for better error handling and testability
var (
	ErrEmptySymptoms       = errors.New("symptom text cannot be empty")
	ErrSymptomTextTooLong  = errors.New("symptom text exceeds maximum length")
	ErrNoFollowupQuestions = errors.New("no follow-up questions to answer")
	ErrMissingAnswer       = errors.New("every follow-up question requires a non-empty answer")
	ErrAnswerTooLong       = errors.New("follow-up answer exceeds maximum length")
	ErrUnknownAnswer       = errors.New("answer does not match any pending question")
)

// SymptomCandidate is one ranked diagnosis hypothesis from the textual-analysis
// node. Insertion order is ranking order and is never re-sorted client-side.
type SymptomCandidate struct {
	TextDiagnosis       string  `json:"text_diagnosis"`
	DiagnosisConfidence float64 `json:"diagnosis_confidence"` // confidence score between 0 and 1
}

// ImageAnalysisResult holds the output of the image-analysis node.
type ImageAnalysisResult struct {
	ImageDiagnosis   string             `json:"image_diagnosis"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
}

// OverallAnalysisResult holds the output of the overall-analysis node.
type OverallAnalysisResult struct {
	FinalDiagnosis           string  `json:"final_diagnosis"`
	FinalConfidence          float64 `json:"final_confidence"`
	FinalSeverity            string  `json:"final_severity"` // mild/moderate/severe/critical/emergency
	UserExplanation          string  `json:"user_explanation"`
	ClinicalReasoning        string  `json:"clinical_reasoning"`
	SpecialistRecommendation string  `json:"specialist_recommendation"`
}

// PipelineSnapshot is the authoritative record of a diagnosis session as last
// reported by the backend. Snapshots are immutable by convention: the
// controller replaces them wholesale and never edits individual fields.
type PipelineSnapshot struct {
	SessionID                string                 `json:"session_id"`
	Stage                    Stage                  `json:"current_workflow_stage"`
	SymptomCandidates        []SymptomCandidate     `json:"textual_analysis,omitempty"`
	AverageConfidence        float64                `json:"average_confidence,omitempty"` // backend-derived, never recomputed client-side
	ImageRequired            bool                   `json:"image_required"`
	RequiresUserInput        bool                   `json:"requires_user_input,omitempty"`
	FollowupQuestions        []string               `json:"followup_questions,omitempty"`
	FollowupAnswers          map[string]string      `json:"followup_response,omitempty"`
	SkinCancerRiskDetected   bool                   `json:"skin_cancer_risk_detected,omitempty"`
	ImageAnalysis            *ImageAnalysisResult   `json:"skin_lesion_analysis,omitempty"`
	OverallAnalysis          *OverallAnalysisResult `json:"overall_analysis,omitempty"`
	HealthcareRecommendation string                 `json:"healthcare_recommendation,omitempty"`
	MedicalReport            string                 `json:"medical_report,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *PipelineSnapshot) Clone() *PipelineSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.SymptomCandidates != nil {
		out.SymptomCandidates = make([]SymptomCandidate, len(s.SymptomCandidates))
		copy(out.SymptomCandidates, s.SymptomCandidates)
	}
	if s.FollowupQuestions != nil {
		out.FollowupQuestions = make([]string, len(s.FollowupQuestions))
		copy(out.FollowupQuestions, s.FollowupQuestions)
	}
	if s.FollowupAnswers != nil {
		out.FollowupAnswers = make(map[string]string, len(s.FollowupAnswers))
		for k, v := range s.FollowupAnswers {
			out.FollowupAnswers[k] = v
		}
	}
	if s.ImageAnalysis != nil {
		ia := *s.ImageAnalysis
		if s.ImageAnalysis.ConfidenceScores != nil {
			ia.ConfidenceScores = make(map[string]float64, len(s.ImageAnalysis.ConfidenceScores))
			for k, v := range s.ImageAnalysis.ConfidenceScores {
				ia.ConfidenceScores[k] = v
			}
		}
		out.ImageAnalysis = &ia
	}
	if s.OverallAnalysis != nil {
		oa := *s.OverallAnalysis
		out.OverallAnalysis = &oa
	}
	return &out
}

// PayloadTrusted reports whether a payload produced by the node whose
// completion tag is producedAt may be consumed. A payload fetched while the
// session still requires user input must be ignored, and a payload is only
// trusted once the snapshot's stage is at or past the producing node's
// completion tag.
func (s *PipelineSnapshot) PayloadTrusted(producedAt Stage) bool {
	if s == nil || s.RequiresUserInput {
		return false
	}
	return IsForward(producedAt, s.Stage)
}

// TrustedOverallAnalysis returns the overall-analysis payload, or nil if it
// is absent or not yet trustworthy at the current stage.
func (s *PipelineSnapshot) TrustedOverallAnalysis() *OverallAnalysisResult {
	if s == nil || s.OverallAnalysis == nil || !s.PayloadTrusted(StageOverallAnalysisComplete) {
		return nil
	}
	return s.OverallAnalysis
}

// TrustedImageAnalysis returns the image-analysis payload, or nil if it is
// absent or not yet trustworthy at the current stage.
func (s *PipelineSnapshot) TrustedImageAnalysis() *ImageAnalysisResult {
	if s == nil || s.ImageAnalysis == nil || !s.PayloadTrusted(StageImageAnalysisComplete) {
		return nil
	}
	return s.ImageAnalysis
}

// TrustedMedicalReport returns the generated report, or empty if it is absent
// or not yet trustworthy at the current stage.
func (s *PipelineSnapshot) TrustedMedicalReport() string {
	if s == nil || !s.PayloadTrusted(StageWorkflowComplete) {
		return ""
	}
	return s.MedicalReport
}

// ValidateSymptomText validates user-entered symptom text before submission.
func ValidateSymptomText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptySymptoms
	}
	if len(text) > MaxSymptomTextLength {
		return ErrSymptomTextTooLong
	}
	return nil
}

// ValidateFollowupAnswers enforces the caller-side contract that every pending
// question has a non-empty answer. The workflow controller does not re-run
// this check; presentation layers call it before submitting.
func ValidateFollowupAnswers(questions []string, answers map[string]string) error {
	if len(questions) == 0 {
		return ErrNoFollowupQuestions
	}
	for _, q := range questions {
		answer, ok := answers[q]
		if !ok || strings.TrimSpace(answer) == "" {
			return ErrMissingAnswer
		}
		if len(answer) > MaxFollowupAnswerLength {
			return ErrAnswerTooLong
		}
	}
	for q := range answers {
		known := false
		for _, pending := range questions {
			if pending == q {
				known = true
				break
			}
		}
		if !known {
			return ErrUnknownAnswer
		}
	}
	return nil
}

// NodeResult is the decoded outcome of one backend node call: the replacement
// snapshot plus the routing hint produced alongside it.
type NodeResult struct {
	SessionID string
	Snapshot  PipelineSnapshot
	Routing   *RoutingHint
}
