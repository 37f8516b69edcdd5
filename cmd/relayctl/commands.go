package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cexll/jira-relay/internal/activity"
	"github.com/cexll/jira-relay/internal/ticket"
	"github.com/cexll/jira-relay/internal/web"
)

const (
	defaultRelayURL = "http://localhost:8000"
	defaultDBPath   = "data/activities.db"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relayctl",
		Short: "relayctl - operate the Jira comment relay",
		Long: `relayctl submits activity ids to a running relay, imports activity
records into its store and checks which issue key a text resolves to.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(importCmd())
	return rootCmd
}

func postCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post [activity-id...]",
		Short: "Queue Jira comments for activity ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			resp, err := postComments(cmd.Context(), baseURL, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Queued %d activities in %d unit(s)\n", len(args), len(resp.Units))
			for _, u := range resp.Units {
				fmt.Fprintf(out, "  %s  activities=%d pass=%d\n", u.ID, u.Activities, u.Pass)
			}
			return nil
		},
	}
	cmd.Flags().String("url", envOr("RELAY_URL", defaultRelayURL), "Relay base URL")
	return cmd
}

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key [text]",
		Short: "Print the issue key found in text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := ticket.ExtractKey(strings.Join(args, " "))
			if !ok {
				return errors.New("no issue key found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file.json]",
		Short: "Load activity records into the sqlite store",
		Long: `Load activity records from a JSON file into the sqlite store.
The file holds either an array of records or {"activities": [...]}.
Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			records, err := decodeRecords(data)
			if err != nil {
				return err
			}

			store, err := activity.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open activity store: %w", err)
			}
			defer store.Close()

			if err := store.Upsert(cmd.Context(), records...); err != nil {
				return fmt.Errorf("failed to import activities: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d activities into %s\n", len(records), dbPath)
			return nil
		},
	}
	cmd.Flags().String("db", envOr("ACTIVITY_DB_PATH", defaultDBPath), "Path to the activity database")
	return cmd
}

func postComments(ctx context.Context, baseURL string, ids []string) (*web.CommentResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(web.CommentRequest{ActivityIDs: ids})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/comments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out web.CommentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("invalid relay response: %w", err)
	}
	return &out, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func decodeRecords(data []byte) ([]activity.Record, error) {
	trimmed := bytes.TrimSpace(data)
	var records []activity.Record
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("invalid activity list: %w", err)
		}
	} else {
		var wrapped struct {
			Activities []activity.Record `json:"activities"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("invalid activity file: %w", err)
		}
		records = wrapped.Activities
	}

	if len(records) == 0 {
		return nil, errors.New("no activities in input")
	}
	now := time.Now().UTC()
	for i := range records {
		records[i].ID = strings.TrimSpace(records[i].ID)
		if records[i].ID == "" {
			return nil, fmt.Errorf("activity %d has no id", i)
		}
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
	}
	return records, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
