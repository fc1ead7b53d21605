package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *StepupClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *StepupClient) *Handlers {
	return &Handlers{client: client}
}

// parseSignalsArg validates the signals argument as a JSON array.
func parseSignalsArg(arg string) (json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(arg), &arr); err != nil {
		return nil, fmt.Errorf("signals must be a JSON array: %v", err)
	}
	return json.RawMessage(arg), nil
}

// HandleAssessRisk scores a signal set without opening a session.
func (h *Handlers) HandleAssessRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	signalsArg := req.GetString("signals", "")
	if signalsArg == "" {
		return mcp.NewToolResultError("signals is required"), nil
	}

	signals, err := parseSignalsArg(signalsArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := h.client.PreviewRisk(ctx, signals)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Risk preview failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleStartSession opens a step-up session.
func (h *Handlers) HandleStartSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var signals json.RawMessage
	if signalsArg := req.GetString("signals", ""); signalsArg != "" {
		parsed, err := parseSignalsArg(signalsArg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		signals = parsed
	}

	raw, err := h.client.StartSession(ctx, signals)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start session: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session started: %s\n", getString(resp, "sessionId"))
	if v, ok := getFloat(resp, "tier"); ok {
		fmt.Fprintf(&sb, "Tier: %.0f (%s)\n", v, getString(resp, "tierLabel"))
	}
	if v, ok := getFloat(resp, "score"); ok {
		fmt.Fprintf(&sb, "Risk score: %.3g\n", v)
	}
	writeFactors(&sb, resp)
	fmt.Fprintf(&sb, "Decision: %s\n", getString(resp, "decision"))
	if q := getString(resp, "question"); q != "" {
		fmt.Fprintf(&sb, "\nKnowledge challenge active:\n  Question: %s\n", q)
		if hint := getString(resp, "hint"); hint != "" {
			fmt.Fprintf(&sb, "  Hint: %s\n", hint)
		}
		sb.WriteString("\nUse submit_answer with this session ID to respond.")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetSession looks up a session snapshot.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSubmitAnswer answers an active knowledge challenge.
func (h *Handlers) HandleSubmitAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	answer := req.GetString("answer", "")
	if answer == "" {
		return mcp.NewToolResultError("answer is required"), nil
	}

	raw, err := h.client.SubmitAnswer(ctx, sessionID, answer)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit answer: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Outcome: %s\n", getString(resp, "stepOutcome"))
	fmt.Fprintf(&sb, "Decision: %s\n", getString(resp, "decision"))
	if used, ok := getFloat(resp, "attemptsUsed"); ok {
		if max, ok := getFloat(resp, "maxAttempts"); ok {
			fmt.Fprintf(&sb, "Attempts: %.0f/%.0f\n", used, max)
		}
	}
	if q := getString(resp, "question"); q != "" {
		fmt.Fprintf(&sb, "\nNext question: %s\n", q)
		if hint := getString(resp, "hint"); hint != "" {
			fmt.Fprintf(&sb, "Hint: %s\n", hint)
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAbandonSession cancels a pending session.
func (h *Handlers) HandleAbandonSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	_, err := h.client.AbandonSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to abandon session: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Session %s abandoned.\nDecision: denied", sessionID)), nil
}

// HandleListAssessments returns the risk audit trail for a session.
func (h *Handlers) HandleListAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.ListAssessments(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	text, err := formatAssessmentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetStats returns aggregate platform statistics.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func formatAssessment(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Risk Assessment:\n")
	if v, ok := getFloat(m, "trust"); ok {
		fmt.Fprintf(&sb, "  Trust score: %.3g\n", v)
	}
	if v, ok := getFloat(m, "score"); ok {
		fmt.Fprintf(&sb, "  Risk score: %.3g\n", v)
	}
	if v, ok := getFloat(m, "tier"); ok {
		fmt.Fprintf(&sb, "  Tier: %.0f (%s)\n", v, getString(m, "tierLabel"))
	}
	writeFactors(&sb, m)
	if plan, ok := m["plan"].([]any); ok {
		sb.WriteString("  Challenge plan:")
		if len(plan) == 0 {
			sb.WriteString(" (none)")
		}
		for _, step := range plan {
			if s, ok := step.(string); ok {
				fmt.Fprintf(&sb, " %s", s)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func writeFactors(sb *strings.Builder, m map[string]any) {
	factors, ok := m["factors"].([]any)
	if !ok || len(factors) == 0 {
		return
	}
	sb.WriteString("  Factors:\n")
	for _, f := range factors {
		if s, ok := f.(string); ok {
			fmt.Fprintf(sb, "    - %s\n", s)
		}
	}
}

func formatSession(raw json.RawMessage) (string, error) {
	var resp struct {
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Session == nil {
		return "", fmt.Errorf("unexpected session response format")
	}
	s := resp.Session

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s (%s)\n", getString(s, "id"), getString(s, "channel"))
	fmt.Fprintf(&sb, "  State: %s | Decision: %s\n", getString(s, "state"), getString(s, "decision"))

	if a, ok := s["assessment"].(map[string]any); ok {
		if v, ok := getFloat(a, "score"); ok {
			fmt.Fprintf(&sb, "  Risk score: %.3g | Tier: %s\n", v, getString(a, "tierLabel"))
		}
		writeFactors(&sb, a)
	}

	if results, ok := s["stepResults"].([]any); ok && len(results) > 0 {
		sb.WriteString("  Steps:\n")
		for _, r := range results {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			kind := ""
			if step, ok := m["step"].(map[string]any); ok {
				kind = getString(step, "kind")
			}
			fmt.Fprintf(&sb, "    - %s: %s", kind, getString(m, "outcome"))
			if detail := getString(m, "detail"); detail != "" {
				fmt.Fprintf(&sb, " (%s)", detail)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}

func formatAssessmentList(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessments []map[string]any `json:"assessments"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected assessments response format")
	}
	if len(resp.Assessments) == 0 {
		return "No assessments recorded for this session.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d assessment(s):\n\n", len(resp.Assessments))
	for i, a := range resp.Assessments {
		score, _ := getFloat(a, "score")
		tier, _ := getFloat(a, "tier")
		fmt.Fprintf(&sb, "%d. Risk %.3g, tier %.0f (%s)\n", i+1, score, tier, getString(a, "tierLabel"))
		writeFactors(&sb, a)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
