// Package testutil provides common test utilities and helpers for TriageFlow tests.
package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

// RecordedCall captures one request the fake backend received.
type RecordedCall struct {
	Path          string
	SessionID     string
	Symptoms      string
	PreviousState string
	Responses     string
	HasImage      bool
	ImageName     string
	AuthHeader    string
}

// QueuedResponse is one canned reply the fake backend serves, in FIFO order
// per path.
type QueuedResponse struct {
	Status   int
	Body     string                   // served verbatim when non-empty
	Snapshot *models.PipelineSnapshot // otherwise wrapped in the standard envelope
	Routing  *models.RoutingHint
}

// FakeBackend is an httptest server that mimics the diagnosis backend's node
// endpoints. Responses are queued per path; requests are recorded for
// assertions.
type FakeBackend struct {
	Server *httptest.Server

	mu     sync.Mutex
	queues map[string][]QueuedResponse
	calls  []RecordedCall
}

// NewFakeBackend starts a fake diagnosis backend. Callers must Close it.
func NewFakeBackend() *FakeBackend {
	fb := &FakeBackend{queues: make(map[string][]QueuedResponse)}
	fb.Server = httptest.NewServer(http.HandlerFunc(fb.handle))
	return fb
}

// URL returns the backend base URL.
func (fb *FakeBackend) URL() string { return fb.Server.URL }

// Close shuts down the server.
func (fb *FakeBackend) Close() { fb.Server.Close() }

// Queue appends a canned response for the given endpoint path, e.g.
// "/patient/textual_analysis".
func (fb *FakeBackend) Queue(path string, resp QueuedResponse) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.queues[path] = append(fb.queues[path], resp)
}

// QueueSnapshot queues a 200 response wrapping the given snapshot and routing
// hint in the standard node envelope.
func (fb *FakeBackend) QueueSnapshot(path string, snap models.PipelineSnapshot, hint *models.RoutingHint) {
	fb.Queue(path, QueuedResponse{Status: http.StatusOK, Snapshot: &snap, Routing: hint})
}

// Calls returns a copy of all recorded requests.
func (fb *FakeBackend) Calls() []RecordedCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]RecordedCall, len(fb.calls))
	copy(out, fb.calls)
	return out
}

// CallCount returns how many requests hit the given path.
func (fb *FakeBackend) CallCount(path string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, c := range fb.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (fb *FakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, `{"detail":"malformed multipart body"}`, http.StatusBadRequest)
		return
	}
	call := RecordedCall{
		Path:          r.URL.Path,
		SessionID:     r.FormValue("session_id"),
		Symptoms:      r.FormValue("user_symptoms"),
		PreviousState: r.FormValue("previous_state"),
		Responses:     r.FormValue("followup_responses"),
		AuthHeader:    r.Header.Get("Authorization"),
	}
	if file, header, err := r.FormFile("image_file"); err == nil {
		call.HasImage = true
		call.ImageName = header.Filename
		file.Close()
	}

	fb.mu.Lock()
	fb.calls = append(fb.calls, call)
	queue := fb.queues[r.URL.Path]
	var resp QueuedResponse
	if len(queue) > 0 {
		resp = queue[0]
		fb.queues[r.URL.Path] = queue[1:]
	} else {
		resp = QueuedResponse{Status: http.StatusInternalServerError, Body: `{"detail":"no response queued"}`}
	}
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
		return
	}
	envelope := map[string]interface{}{
		"success":    resp.Status < 300,
		"session_id": "",
		"result":     resp.Snapshot,
	}
	if resp.Snapshot != nil {
		envelope["session_id"] = resp.Snapshot.SessionID
	}
	if resp.Routing != nil {
		envelope["workflow_info"] = resp.Routing
	}
	json.NewEncoder(w).Encode(envelope)
}

// AssertStage fails the test if the stage doesn't match.
func AssertStage(t *testing.T, expected, actual models.Stage, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected stage %s, got %s", context, expected, actual)
	}
}

// AssertErrorIs fails the test if err does not wrap target.
func AssertErrorIs(t *testing.T, err, target error, context string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("%s: expected error %v, got %v", context, target, err)
	}
}

// AssertNoError fails the test immediately on a non-nil error.
func AssertNoError(t *testing.T, err error, context string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", context, err)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
