package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/jira-relay/internal/ticket"
	"github.com/cexll/jira-relay/internal/web"
)

const defaultRelayURL = "http://localhost:8000"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// PostCommentsParams defines the input of post_activity_comments.
type PostCommentsParams struct {
	ActivityIDs []string `json:"activity_ids" jsonschema:"Activity ids whose comments should be posted"`
}

// ExtractKeyParams defines the input of extract_ticket_key.
type ExtractKeyParams struct {
	Text string `json:"text" jsonschema:"Text that may contain a Jira issue key"`
}

func relayURL() string {
	if v := strings.TrimSpace(os.Getenv("RELAY_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultRelayURL
}

// HandlePostActivityComments forwards the ids to the relay's /comments endpoint.
func HandlePostActivityComments(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params PostCommentsParams,
) (*mcp.CallToolResult, any, error) {
	log.Printf("[MCP Relay Server] Received post_activity_comments request for %d activities", len(params.ActivityIDs))

	if len(params.ActivityIDs) == 0 {
		return nil, nil, fmt.Errorf("activity_ids parameter is required")
	}

	payload, err := json.Marshal(web.CommentRequest{ActivityIDs: params.ActivityIDs})
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL()+"/comments", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		log.Printf("[MCP Relay Server] Relay request failed: %v", err)
		return errorResult(fmt.Sprintf("Error: relay unreachable: %v", err)), nil, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted {
		log.Printf("[MCP Relay Server] Relay returned %d", resp.StatusCode)
		return errorResult(fmt.Sprintf("Error: relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))), nil, nil
	}

	var out web.CommentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return errorResult(fmt.Sprintf("Error: invalid relay response: %v", err)), nil, nil
	}

	resultText, _ := json.MarshalIndent(map[string]any{
		"success":    true,
		"activities": len(params.ActivityIDs),
		"units":      out.Units,
	}, "", "  ")

	log.Printf("[MCP Relay Server] Queued %d unit(s)", len(out.Units))
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(resultText)},
		},
	}, nil, nil
}

// HandleExtractTicketKey runs the issue-key extractor on the given text.
func HandleExtractTicketKey(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params ExtractKeyParams,
) (*mcp.CallToolResult, any, error) {
	key, ok := ticket.ExtractKey(params.Text)
	resultText, _ := json.Marshal(map[string]any{
		"found": ok,
		"key":   key,
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(resultText)},
		},
	}, nil, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}
