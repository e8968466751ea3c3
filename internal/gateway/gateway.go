// Package gateway provides the HTTP client for the stateless diagnosis
// backend, one function per pipeline node.
//
// The gateway owns no workflow state: every call sends the session id and the
// last known snapshot and returns the replacement snapshot plus routing hint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

// DefaultTimeout bounds each node call so a hung request surfaces as a
// TransportError instead of blocking the controller indefinitely.
const DefaultTimeout = 60 * time.Second

// endpointPaths maps logical endpoint names to backend routes.
var endpointPaths = map[models.Endpoint]string{
	models.EndpointTextualAnalysis:   "/patient/textual_analysis",
	models.EndpointFollowupQuestions: "/patient/followup_questions",
	models.EndpointImageAnalysis:     "/patient/image_analysis",
	models.EndpointOverallAnalysis:   "/patient/overall_analysis",
	models.EndpointMedicalReport:     "/patient/medical_report",
}

// Client is the BackendGateway: a thin, stateless transport to the diagnosis
// backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	maxTries   uint
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the backend base URL (scheme and host, no trailing slash).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithRetry enables retrying of transport failures, up to maxTries attempts
// total. Backend and protocol errors are never retried.
func WithRetry(maxTries uint) Option {
	return func(c *Client) { c.maxTries = maxTries }
}

// NewClient creates a diagnosis backend client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxTries:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("gateway base URL not configured")
	}
	if c.maxTries == 0 {
		c.maxTries = 1
	}
	slog.Debug("Gateway client created", "baseURL", c.baseURL, "timeout", c.httpClient.Timeout, "maxTries", c.maxTries)
	return c, nil
}

// StartTextualAnalysis submits symptom text to the textual-analysis node.
// A blank sessionID asks the backend to mint a new session.
func (c *Client) StartTextualAnalysis(ctx context.Context, symptoms, sessionID string) (*models.NodeResult, error) {
	fields := map[string]string{"user_symptoms": symptoms}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	return c.call(ctx, models.EndpointTextualAnalysis, fields, nil, "")
}

// FollowupQuestions invokes the follow-up node. With nil answers it only
// generates a new round of questions; with answers it processes them.
func (c *Client) FollowupQuestions(ctx context.Context, sessionID string, prev *models.PipelineSnapshot, answers map[string]string) (*models.NodeResult, error) {
	fields, err := sessionFields(sessionID, prev)
	if err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		encoded, err := json.Marshal(answers)
		if err != nil {
			return nil, fmt.Errorf("encoding followup answers: %w", err)
		}
		fields["followup_responses"] = string(encoded)
	}
	return c.call(ctx, models.EndpointFollowupQuestions, fields, nil, "")
}

// ImageAnalysis invokes the image-analysis node. The image is optional; the
// node may short-circuit without one per the backend's own policy.
func (c *Client) ImageAnalysis(ctx context.Context, sessionID string, prev *models.PipelineSnapshot, image io.Reader, filename string) (*models.NodeResult, error) {
	fields, err := sessionFields(sessionID, prev)
	if err != nil {
		return nil, err
	}
	var imageBytes []byte
	if image != nil {
		// Buffered up front so transport retries can resend the same payload.
		imageBytes, err = io.ReadAll(image)
		if err != nil {
			return nil, fmt.Errorf("reading image payload: %w", err)
		}
		if filename == "" {
			filename = "upload"
		}
	}
	return c.call(ctx, models.EndpointImageAnalysis, fields, imageBytes, filename)
}

// OverallAnalysis invokes the comprehensive-analysis node.
func (c *Client) OverallAnalysis(ctx context.Context, sessionID string, prev *models.PipelineSnapshot) (*models.NodeResult, error) {
	fields, err := sessionFields(sessionID, prev)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, models.EndpointOverallAnalysis, fields, nil, "")
}

// MedicalReport invokes the report-generation node.
func (c *Client) MedicalReport(ctx context.Context, sessionID string, prev *models.PipelineSnapshot) (*models.NodeResult, error) {
	fields, err := sessionFields(sessionID, prev)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, models.EndpointMedicalReport, fields, nil, "")
}

// sessionFields builds the common form fields every post-start node requires.
func sessionFields(sessionID string, prev *models.PipelineSnapshot) (map[string]string, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	if prev == nil {
		return nil, ErrMissingSnapshot
	}
	state, err := json.Marshal(prev)
	if err != nil {
		return nil, fmt.Errorf("encoding previous snapshot: %w", err)
	}
	return map[string]string{
		"session_id":     sessionID,
		"previous_state": string(state),
	}, nil
}

// call performs one node round trip, retrying transport failures when
// configured.
func (c *Client) call(ctx context.Context, endpoint models.Endpoint, fields map[string]string, imageBytes []byte, imageName string) (*models.NodeResult, error) {
	if c.maxTries <= 1 {
		return c.callOnce(ctx, endpoint, fields, imageBytes, imageName)
	}
	operation := func() (*models.NodeResult, error) {
		res, err := c.callOnce(ctx, endpoint, fields, imageBytes, imageName)
		if err != nil && !IsTransportError(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

// nodeEnvelope is the raw JSON body every node endpoint returns.
type nodeEnvelope struct {
	Success      bool                     `json:"success"`
	SessionID    string                   `json:"session_id"`
	Result       *models.PipelineSnapshot `json:"result"`
	WorkflowInfo *models.RoutingHint      `json:"workflow_info"`
}

// backendErrorBody is the structured error body on non-2xx responses.
type backendErrorBody struct {
	Detail string `json:"detail"`
}

func (c *Client) callOnce(ctx context.Context, endpoint models.Endpoint, fields map[string]string, imageBytes []byte, imageName string) (*models.NodeResult, error) {
	path, ok := endpointPaths[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("building form field %s: %w", key, err)
		}
	}
	if imageBytes != nil {
		part, err := writer.CreateFormFile("image_file", imageName)
		if err != nil {
			return nil, fmt.Errorf("building image part: %w", err)
		}
		if _, err := part.Write(imageBytes); err != nil {
			return nil, fmt.Errorf("writing image part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing form body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Request-ID", requestID)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	slog.Debug("Gateway call", "endpoint", endpoint, "requestID", requestID, "hasImage", imageBytes != nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Gateway transport failure", "endpoint", endpoint, "requestID", requestID, "error", err)
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Gateway response read failure", "endpoint", endpoint, "requestID", requestID, "error", err)
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := string(raw)
		var structured backendErrorBody
		if err := json.Unmarshal(raw, &structured); err == nil && structured.Detail != "" {
			message = structured.Detail
		}
		slog.Error("Gateway backend error", "endpoint", endpoint, "requestID", requestID, "status", resp.StatusCode, "message", message)
		return nil, &BackendError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: message}
	}

	var envelope nodeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: "malformed JSON body"}
	}
	if envelope.Result == nil {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: "response missing result"}
	}
	sessionID := envelope.SessionID
	if sessionID == "" {
		sessionID = envelope.Result.SessionID
	}
	if sessionID == "" {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: "response missing session_id"}
	}
	if !models.IsValidStage(envelope.Result.Stage) {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: fmt.Sprintf("unknown stage %q", envelope.Result.Stage)}
	}

	slog.Debug("Gateway call succeeded", "endpoint", endpoint, "requestID", requestID, "sessionID", sessionID, "stage", envelope.Result.Stage)
	return &models.NodeResult{
		SessionID: sessionID,
		Snapshot:  *envelope.Result,
		Routing:   envelope.WorkflowInfo,
	}, nil
}
