package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all step-up tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("bankshield", "1.0.0")
	client := NewStepupClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAssessRisk, h.HandleAssessRisk)
	s.AddTool(ToolStartSession, h.HandleStartSession)
	s.AddTool(ToolGetSession, h.HandleGetSession)
	s.AddTool(ToolSubmitAnswer, h.HandleSubmitAnswer)
	s.AddTool(ToolAbandonSession, h.HandleAbandonSession)
	s.AddTool(ToolListAssessments, h.HandleListAssessments)
	s.AddTool(ToolGetStats, h.HandleGetStats)

	return s
}
