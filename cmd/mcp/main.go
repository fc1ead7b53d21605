// BankShield MCP Server - Exposes step-up authentication operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/bankshield/stepup/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("BANKSHIELD_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("BANKSHIELD_API_KEY"),
		Channel: envOrDefault("BANKSHIELD_CHANNEL", "fraud-ops"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "BANKSHIELD_API_KEY is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
