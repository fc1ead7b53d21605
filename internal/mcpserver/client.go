package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the BankShield platform.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	APIKey  string // API key, e.g. "sk_..."
	Channel string // Banking channel the key belongs to, e.g. "fraud-ops"
}

// StepupClient is a pure HTTP client for the BankShield step-up API.
type StepupClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewStepupClient creates a new client for the step-up platform.
func NewStepupClient(cfg Config) *StepupClient {
	return &StepupClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *StepupClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// PreviewRisk scores a signal set without creating a session.
func (c *StepupClient) PreviewRisk(ctx context.Context, signals json.RawMessage) (json.RawMessage, error) {
	body := map[string]json.RawMessage{"signals": signals}
	return c.doRequest(ctx, http.MethodPost, "/v1/risk/preview", nil, body)
}

// StartSession opens a step-up session for the configured channel. A nil
// signal set starts a demo session with the built-in signal profile.
func (c *StepupClient) StartSession(ctx context.Context, signals json.RawMessage) (json.RawMessage, error) {
	body := map[string]any{"channel": c.cfg.Channel}
	if signals != nil {
		body["signals"] = signals
	} else {
		body["demo"] = true
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/sessions", nil, body)
}

// GetSession returns a session snapshot.
func (c *StepupClient) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, nil)
}

// SubmitAnswer feeds a knowledge-challenge answer to a session.
func (c *StepupClient) SubmitAnswer(ctx context.Context, sessionID, answer string) (json.RawMessage, error) {
	body := map[string]string{"answer": answer}
	return c.doRequest(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/input", nil, body)
}

// AbandonSession cancels a pending session. It is recorded as denied.
func (c *StepupClient) AbandonSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil)
}

// ListAssessments returns the risk audit trail for a session.
func (c *StepupClient) ListAssessments(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sessions/"+sessionID+"/assessments", nil, nil)
}

// GetStats returns aggregate decision and tier counts.
func (c *StepupClient) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/stats", nil, nil)
}
