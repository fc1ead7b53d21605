package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the BankShield MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAssessRisk = mcp.NewTool("assess_risk",
	mcp.WithDescription(
		"Score a set of fraud signals against the live risk rules without opening a session. "+
			"Returns the trust score, risk score, tier (0-4), contributing factors, and the "+
			"challenge plan a session with these signals would face. Use this for what-if analysis."),
	mcp.WithString("signals",
		mcp.Required(),
		mcp.Description("JSON array of signals, e.g. "+
			`[{"id":"device","name":"Device Trust","confidence":92,"status":"safe","weight":25}]. `+
			"Status is 'safe', 'warning', or 'danger'; confidence and weight are 0-100.")),
)

var ToolStartSession = mcp.NewTool("start_session",
	mcp.WithDescription(
		"Open a step-up authentication session for the configured channel. "+
			"The signals are scored, the session is tiered, and its challenge plan starts executing. "+
			"Omit signals to start a demo session with the built-in signal profile."),
	mcp.WithString("signals",
		mcp.Description("JSON array of signals (same shape as assess_risk). Omit for a demo session.")),
)

var ToolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription(
		"Look up a step-up session by ID. Shows its state, risk assessment, challenge plan, "+
			"completed steps, and final decision (approved/denied/blocked) if reached."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID (e.g. 'ses_...')")),
)

var ToolSubmitAnswer = mcp.NewTool("submit_answer",
	mcp.WithDescription(
		"Submit an answer to a session's active knowledge challenge. "+
			"Returns the step outcome and, while attempts remain, the next question."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID (e.g. 'ses_...')")),
	mcp.WithString("answer",
		mcp.Required(),
		mcp.Description("The answer text")),
)

var ToolAbandonSession = mcp.NewTool("abandon_session",
	mcp.WithDescription(
		"Cancel a pending step-up session. The session is recorded as denied and any "+
			"outstanding verification is cancelled."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID (e.g. 'ses_...')")),
)

var ToolListAssessments = mcp.NewTool("list_assessments",
	mcp.WithDescription(
		"List the risk assessment audit trail for a session: every scoring pass with its "+
			"trust score, tier, and contributing factors."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID (e.g. 'ses_...')")),
)

var ToolGetStats = mcp.NewTool("get_stats",
	mcp.WithDescription(
		"Get aggregate step-up statistics: total sessions, pending count, and breakdowns "+
			"by decision and by risk tier."),
)
