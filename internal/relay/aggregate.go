package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/jira-relay/internal/activity"
	"github.com/cexll/jira-relay/internal/ticket"
)

const (
	notAvailable     = "N/A"
	noSummary        = "No summary provided"
	timestampLayout  = "2006-01-02 15:04:05 MST"
	draftSeparator   = "\n\n"
	commitLinkPrefix = "Commit: "
)

// Logger is the diagnostics sink: one plain-text message per call.
type Logger interface {
	Log(msg string)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(msg string)

// Log calls f(msg).
func (f LoggerFunc) Log(msg string) { f(msg) }

type nopLogger struct{}

func (nopLogger) Log(string) {}

// Aggregator resolves a unit's activities and merges them into per-ticket drafts.
type Aggregator struct {
	reader activity.Reader
	now    func() time.Time
}

// NewAggregator creates an aggregator reading through reader.
func NewAggregator(reader activity.Reader) *Aggregator {
	return &Aggregator{reader: reader, now: time.Now}
}

// WithClock overrides the timestamp source used in comment bodies.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	if now != nil {
		a.now = now
	}
	return a
}

// Aggregate fetches ids in one batched read and builds the drafts for this pass.
// A read failure is logged and treated as zero records.
func (a *Aggregator) Aggregate(ctx context.Context, ids []string, logger Logger) *Drafts {
	if logger == nil {
		logger = nopLogger{}
	}
	drafts := NewDrafts()
	if len(ids) == 0 {
		return drafts
	}

	records, err := a.reader.FetchByIDs(ctx, ids)
	if err != nil {
		logger.Log(fmt.Sprintf("failed to read %d activities: %v", len(ids), err))
		return drafts
	}

	now := a.now()
	for _, rec := range records {
		if strings.TrimSpace(rec.Description) == "" {
			logger.Log(fmt.Sprintf("activity %s has no tracker URL, skipping", rec.ID))
			drafts.Skipped = append(drafts.Skipped, rec.ID)
			continue
		}
		key, ok := ticket.ExtractKey(rec.Description)
		if !ok {
			logger.Log(fmt.Sprintf("activity %s: no issue key in %q, skipping", rec.ID, rec.Description))
			drafts.Skipped = append(drafts.Skipped, rec.ID)
			continue
		}
		drafts.Add(key, rec.ID, BuildBody(rec, now))
	}
	return drafts
}

// BuildBody renders the comment text for one activity.
func BuildBody(rec activity.Record, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work Item: %s\n", orDefault(rec.WorkItem, notAvailable))
	fmt.Fprintf(&b, "Activity Type: %s\n", orDefault(rec.Type, notAvailable))
	fmt.Fprintf(&b, "Summary: %s\n", orDefault(rec.Summary, noSummary))
	fmt.Fprintf(&b, "Posted At: %s", now.Format(timestampLayout))
	if rec.HasCommitLink() {
		b.WriteString("\n")
		b.WriteString(commitLinkPrefix)
		b.WriteString(CommitURL(rec.RepoURL, rec.CommitRef))
	}
	return b.String()
}

// CommitURL joins a repository URL and commit reference into a browsable link.
func CommitURL(repoURL, commitRef string) string {
	base := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	base = strings.TrimSuffix(base, ".git")
	return base + "/commit/" + strings.TrimSpace(commitRef)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
