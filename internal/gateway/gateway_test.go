package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/SymptomLabs/TriageFlow/internal/models"
	"github.com/SymptomLabs/TriageFlow/internal/testutil"
)

func newTestClient(t *testing.T, fb *testutil.FakeBackend, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(fb.URL())}, opts...)
	client, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when base URL is missing")
	}
}

func TestStartTextualAnalysis(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	fb.QueueSnapshot("/patient/textual_analysis", models.PipelineSnapshot{
		SessionID:         "sess-1",
		Stage:             models.StageTextualAnalysisComplete,
		SymptomCandidates: []models.SymptomCandidate{{TextDiagnosis: "bronchitis", DiagnosisConfidence: 0.8}},
	}, &models.RoutingHint{NextEndpoint: models.EndpointOverallAnalysis})

	client := newTestClient(t, fb, WithAuthToken("tok-123"))
	res, err := client.StartTextualAnalysis(context.Background(), "persistent cough, fever", "")
	testutil.AssertNoError(t, err, "StartTextualAnalysis")

	if res.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", res.SessionID)
	}
	testutil.AssertStage(t, models.StageTextualAnalysisComplete, res.Snapshot.Stage, "result stage")
	if res.Routing == nil || res.Routing.NextEndpoint != models.EndpointOverallAnalysis {
		t.Errorf("Routing = %+v", res.Routing)
	}

	calls := fb.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Symptoms != "persistent cough, fever" {
		t.Errorf("symptoms field = %q", calls[0].Symptoms)
	}
	if calls[0].SessionID != "" {
		t.Errorf("session_id should be omitted on session start, got %q", calls[0].SessionID)
	}
	if calls[0].AuthHeader != "Bearer tok-123" {
		t.Errorf("auth header = %q", calls[0].AuthHeader)
	}
}

func TestFollowupQuestionsSendsAnswersOnlyWhenPresent(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	prev := &models.PipelineSnapshot{SessionID: "sess-1", Stage: models.StageTextualAnalysisComplete}

	fb.QueueSnapshot("/patient/followup_questions", models.PipelineSnapshot{
		SessionID: "sess-1", Stage: models.StageAwaitingFollowupResponses,
	}, nil)
	fb.QueueSnapshot("/patient/followup_questions", models.PipelineSnapshot{
		SessionID: "sess-1", Stage: models.StageFollowupAnalysisComplete,
	}, nil)

	client := newTestClient(t, fb)
	ctx := context.Background()

	_, err := client.FollowupQuestions(ctx, "sess-1", prev, nil)
	testutil.AssertNoError(t, err, "generation call")
	_, err = client.FollowupQuestions(ctx, "sess-1", prev, map[string]string{"Any chest pain?": "no"})
	testutil.AssertNoError(t, err, "answer call")

	calls := fb.Calls()
	if calls[0].Responses != "" {
		t.Errorf("generation call should carry no answers, got %q", calls[0].Responses)
	}
	var decoded map[string]string
	testutil.MustUnmarshalJSON(t, []byte(calls[1].Responses), &decoded)
	if decoded["Any chest pain?"] != "no" {
		t.Errorf("answers not transmitted: %q", calls[1].Responses)
	}

	// Both carry the prior snapshot.
	for i, call := range calls {
		var snap models.PipelineSnapshot
		testutil.MustUnmarshalJSON(t, []byte(call.PreviousState), &snap)
		if snap.SessionID != "sess-1" {
			t.Errorf("call %d previous_state session = %q", i, snap.SessionID)
		}
	}
}

func TestSessionCallsRequireSessionAndSnapshot(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	client := newTestClient(t, fb)
	ctx := context.Background()
	prev := &models.PipelineSnapshot{SessionID: "sess-1"}

	_, err := client.OverallAnalysis(ctx, "", prev)
	testutil.AssertErrorIs(t, err, ErrMissingSessionID, "missing session id")

	_, err = client.OverallAnalysis(ctx, "sess-1", nil)
	testutil.AssertErrorIs(t, err, ErrMissingSnapshot, "missing snapshot")

	if len(fb.Calls()) != 0 {
		t.Error("invalid calls must not reach the backend")
	}
}

func TestImageAnalysisUploadsFile(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	fb.QueueSnapshot("/patient/image_analysis", models.PipelineSnapshot{
		SessionID: "sess-1", Stage: models.StageImageAnalysisComplete,
	}, nil)

	client := newTestClient(t, fb)
	prev := &models.PipelineSnapshot{SessionID: "sess-1", Stage: models.StageAwaitingImageUpload}
	_, err := client.ImageAnalysis(context.Background(), "sess-1", prev, strings.NewReader("fake-png-bytes"), "lesion.png")
	testutil.AssertNoError(t, err, "ImageAnalysis")

	calls := fb.Calls()
	if !calls[0].HasImage || calls[0].ImageName != "lesion.png" {
		t.Errorf("image not transmitted: %+v", calls[0])
	}
}

func TestImageAnalysisWithoutImage(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	fb.QueueSnapshot("/patient/image_analysis", models.PipelineSnapshot{
		SessionID: "sess-1", Stage: models.StageImageAnalysisComplete,
	}, nil)

	client := newTestClient(t, fb)
	prev := &models.PipelineSnapshot{SessionID: "sess-1", Stage: models.StageAwaitingImageUpload}
	_, err := client.ImageAnalysis(context.Background(), "sess-1", prev, nil, "")
	testutil.AssertNoError(t, err, "ImageAnalysis without image")

	if fb.Calls()[0].HasImage {
		t.Error("no image part expected")
	}
}

func TestBackendErrorCarriesDetail(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	fb.Queue("/patient/medical_report", testutil.QueuedResponse{
		Status: http.StatusNotFound,
		Body:   `{"detail":"Session not found"}`,
	})

	client := newTestClient(t, fb)
	prev := &models.PipelineSnapshot{SessionID: "sess-1"}
	_, err := client.MedicalReport(context.Background(), "sess-1", prev)

	if !IsBackendError(err) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("errors.As failed on %v", err)
	}
	if be.StatusCode != http.StatusNotFound || be.Message != "Session not found" {
		t.Errorf("BackendError = %+v", be)
	}
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"success": tru`},
		{"missing result", `{"success": true, "session_id": "sess-1"}`},
		{"missing session id", `{"success": true, "result": {"current_workflow_stage": "textual_analysis_complete"}}`},
		{"unknown stage", `{"success": true, "session_id": "sess-1", "result": {"session_id": "sess-1", "current_workflow_stage": "warp_drive"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := testutil.NewFakeBackend()
			defer fb.Close()
			fb.Queue("/patient/overall_analysis", testutil.QueuedResponse{Status: http.StatusOK, Body: tt.body})

			client := newTestClient(t, fb)
			prev := &models.PipelineSnapshot{SessionID: "sess-1"}
			_, err := client.OverallAnalysis(context.Background(), "sess-1", prev)
			if !IsProtocolError(err) {
				t.Errorf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	fb := testutil.NewFakeBackend()
	url := fb.URL()
	fb.Close()

	client, err := NewClient(WithBaseURL(url), WithTimeout(2*time.Second))
	testutil.AssertNoError(t, err, "NewClient")
	_, err = client.StartTextualAnalysis(context.Background(), "cough", "")
	if !IsTransportError(err) {
		t.Errorf("expected TransportError against a closed server, got %v", err)
	}
}

func TestRetryOnlyRetriesTransportFailures(t *testing.T) {
	// A backend error must not be retried even with retry enabled.
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	fb.Queue("/patient/textual_analysis", testutil.QueuedResponse{
		Status: http.StatusBadRequest,
		Body:   `{"detail":"symptoms required"}`,
	})

	client := newTestClient(t, fb, WithRetry(3))
	_, err := client.StartTextualAnalysis(context.Background(), "cough", "")
	if !IsBackendError(err) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if n := fb.CallCount("/patient/textual_analysis"); n != 1 {
		t.Errorf("backend error retried: %d calls", n)
	}
}
