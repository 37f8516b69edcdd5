package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cexll/jira-relay/internal/budget"
	"github.com/cexll/jira-relay/internal/jira"
)

// CommentPoster sends one comment to the tracker.
type CommentPoster interface {
	AddComment(ctx context.Context, issueKey, body string) (*jira.Response, error)
}

// OutcomeKind classifies what happened to one ticket's draft in a pass.
type OutcomeKind string

const (
	OutcomePosted   OutcomeKind = "posted"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeDeferred OutcomeKind = "deferred"
)

// Outcome is the dispatch result for one ticket key.
type Outcome struct {
	Key        string
	ActivityID string
	Kind       OutcomeKind
	StatusCode int
	Body       string
	Err        error
}

// Report collects the outcomes of one dispatch pass.
type Report struct {
	Outcomes []Outcome
	// Deferred holds the activity ids of every draft that was not attempted.
	// A merged draft contributes all of its activities, so the list can be
	// longer than the number of deferred keys.
	Deferred []string
}

// Count returns how many outcomes have the given kind.
func (r Report) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Poster sends drafts to the tracker within a call budget.
type Poster struct {
	client CommentPoster
}

// NewPoster creates a poster using client.
func NewPoster(client CommentPoster) *Poster {
	return &Poster{client: client}
}

// Dispatch makes at most one call per ticket key, in draft order. Keys reached
// after the budget is exhausted are deferred without a call and carry the
// *budget.LimitError; rejected and failed calls are final for this pass.
func (p *Poster) Dispatch(ctx context.Context, drafts *Drafts, b *budget.Budget, logger Logger) Report {
	if logger == nil {
		logger = nopLogger{}
	}
	var report Report
	if drafts == nil {
		return report
	}

	if left := b.Remaining(); left != budget.Unlimited && left < drafts.Len() {
		logger.Log(fmt.Sprintf("budget covers %d of %d tickets, the rest will be deferred", left, drafts.Len()))
	}

	drafts.Each(func(d *Draft) {
		if err := b.Check(); err != nil {
			logger.Log(fmt.Sprintf("%v, deferring %s (activity %s)", err, d.Key, d.ActivityID))
			report.Deferred = append(report.Deferred, d.ActivityIDs...)
			report.Outcomes = append(report.Outcomes, Outcome{Key: d.Key, ActivityID: d.ActivityID, Kind: OutcomeDeferred, Err: err})
			return
		}
		b.TryConsume()
		report.Outcomes = append(report.Outcomes, p.post(ctx, d, logger))
	})
	return report
}

func (p *Poster) post(ctx context.Context, d *Draft, logger Logger) Outcome {
	out := Outcome{Key: d.Key, ActivityID: d.ActivityID}

	resp, err := p.client.AddComment(ctx, d.Key, d.Body)
	if err != nil {
		logger.Log(fmt.Sprintf("failed to post comment to %s (activity %s): %v", d.Key, d.ActivityID, err))
		out.Kind = OutcomeFailed
		out.Err = err
		return out
	}

	out.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusCreated {
		logger.Log(fmt.Sprintf("comment posted to %s", d.Key))
		out.Kind = OutcomePosted
		return out
	}

	logger.Log(fmt.Sprintf("comment to %s rejected (activity %s): status %d: %s", d.Key, d.ActivityID, resp.StatusCode, resp.Body))
	out.Kind = OutcomeRejected
	out.Body = resp.Body
	return out
}
