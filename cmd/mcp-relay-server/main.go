package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.Println("[MCP Relay Server] Starting Jira Relay MCP Server v1.0.0")
	log.Printf("[MCP Relay Server] Relay URL: %s", relayURL())

	// 1. Create MCP server
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "jira-relay-server",
		Version: "v1.0.0",
	}, nil)

	// 2. Register tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "post_activity_comments",
		Description: "Queue Jira comments for the given activity ids; activities naming the same issue are merged into one comment",
	}, HandlePostActivityComments)
	log.Println("[MCP Relay Server] Registered tool: post_activity_comments")

	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_ticket_key",
		Description: "Return the first Jira issue key (e.g. ABC-123) found in the given text",
	}, HandleExtractTicketKey)
	log.Println("[MCP Relay Server] Registered tool: extract_ticket_key")

	// 3. Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP Relay Server] Received shutdown signal")
		cancel()
	}()

	// 4. Start server with stdio transport
	log.Println("[MCP Relay Server] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("[MCP Relay Server] Server error: %v", err)
	}
	log.Println("[MCP Relay Server] Server stopped gracefully")
}
