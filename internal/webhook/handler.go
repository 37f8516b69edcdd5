package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/cexll/jira-relay/internal/activity"
	"github.com/cexll/jira-relay/internal/relay"
	"github.com/cexll/jira-relay/internal/ticket"
)

const maxPayloadBytes = 5 << 20

// Submitter hands activity ids to the relay.
type Submitter interface {
	PostComment(ids []string) ([]*relay.WorkUnit, error)
}

// Handler turns GitHub push and pull_request deliveries into activity
// records and relays them to the tracker.
type Handler struct {
	webhookSecret string
	writer        activity.Writer
	relay         Submitter
	deliveries    *deliveryDeduper
}

// NewHandler creates a new webhook handler
func NewHandler(webhookSecret string, writer activity.Writer, submitter Submitter) *Handler {
	return &Handler{
		webhookSecret: webhookSecret,
		writer:        writer,
		relay:         submitter,
		deliveries:    newDeliveryDeduper(12 * time.Hour),
	}
}

// Handle handles GitHub webhook events
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	// 1. Read payload
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		log.Printf("[Webhook] Error reading payload: %v", err)
		http.Error(w, "Error reading payload", http.StatusBadRequest)
		return
	}

	// 2. Verify signature
	signature := r.Header.Get("X-Hub-Signature-256")
	if err := ValidateSignatureHeader(signature); err != nil {
		log.Printf("[Webhook] Invalid signature header: %v", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	if !VerifySignature(payload, signature, h.webhookSecret) {
		log.Printf("[Webhook] Signature verification failed")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// 3. Drop redelivered events
	deliveryID := github.DeliveryID(r)
	if !h.deliveries.markIfNew(deliveryID) {
		log.Printf("[Webhook] Ignoring duplicate delivery: %s", deliveryID)
		writeText(w, http.StatusOK, "Duplicate delivery ignored")
		return
	}

	// 4. Parse event
	eventType := github.WebHookType(r)
	var records []activity.Record
	switch eventType {
	case "push", "pull_request":
		event, err := github.ParseWebHook(eventType, payload)
		if err != nil {
			log.Printf("[Webhook] Error parsing %s event: %v", eventType, err)
			http.Error(w, "Error parsing event", http.StatusBadRequest)
			return
		}
		switch e := event.(type) {
		case *github.PushEvent:
			records = pushRecords(e)
		case *github.PullRequestEvent:
			records = pullRequestRecords(e)
		}
	default:
		log.Printf("[Webhook] Ignoring unsupported event type: %s", eventType)
		writeText(w, http.StatusOK, "Event ignored")
		return
	}

	if len(records) == 0 {
		log.Printf("[Webhook] %s delivery %s carries no issue keys", eventType, deliveryID)
		writeText(w, http.StatusOK, "No issue keys found")
		return
	}

	h.relayRecords(r.Context(), w, records)
}

func (h *Handler) relayRecords(ctx context.Context, w http.ResponseWriter, records []activity.Record) {
	if err := h.writer.Upsert(ctx, records...); err != nil {
		log.Printf("[Webhook] Failed to store %d activities: %v", len(records), err)
		http.Error(w, "Failed to store activities", http.StatusInternalServerError)
		return
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}

	units, err := h.relay.PostComment(ids)
	if err != nil {
		log.Printf("[Webhook] Failed to submit activities: %v", err)
		if errors.Is(err, relay.ErrQueueClosed) {
			http.Error(w, "Relay queue unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to submit activities", http.StatusInternalServerError)
		return
	}

	log.Printf("[Webhook] Relayed %d activities in %d unit(s)", len(ids), len(units))
	writeText(w, http.StatusAccepted, fmt.Sprintf("Queued %d activities", len(ids)))
}

// pushRecords builds one record per distinct commit whose message names an issue.
func pushRecords(e *github.PushEvent) []activity.Record {
	if e.GetDeleted() {
		return nil
	}
	repo := e.GetRepo()
	branch := strings.TrimPrefix(e.GetRef(), "refs/heads/")

	var records []activity.Record
	for _, c := range e.Commits {
		if c == nil || (c.Distinct != nil && !c.GetDistinct()) {
			continue
		}
		msg := strings.TrimSpace(c.GetMessage())
		if _, ok := ticket.ExtractKey(msg); !ok {
			continue
		}
		created := c.GetTimestamp().Time
		if created.IsZero() {
			created = time.Now()
		}
		records = append(records, activity.Record{
			ID:          "gh-commit-" + c.GetID(),
			WorkItem:    workItem(repo.GetFullName(), branch),
			Type:        "commit",
			Summary:     firstLine(msg),
			Description: msg,
			CommitRef:   c.GetID(),
			RepoURL:     repo.GetHTMLURL(),
			CreatedAt:   created.UTC(),
		})
	}
	return records
}

var pullRequestActions = map[string]bool{
	"opened":   true,
	"edited":   true,
	"reopened": true,
	"closed":   true,
}

// pullRequestRecords builds a record for a pull request whose title, branch
// or body names an issue.
func pullRequestRecords(e *github.PullRequestEvent) []activity.Record {
	action := e.GetAction()
	if !pullRequestActions[action] {
		return nil
	}
	pr := e.GetPullRequest()
	if pr == nil {
		return nil
	}

	// Title first so that the key users see in the PR list wins.
	text := strings.Join([]string{pr.GetTitle(), pr.GetHead().GetRef(), pr.GetBody()}, "\n")
	if _, ok := ticket.ExtractKey(text); !ok {
		return nil
	}

	kind := "pull_request_" + action
	if action == "closed" && pr.GetMerged() {
		kind = "pull_request_merged"
	}
	created := pr.GetUpdatedAt().Time
	if created.IsZero() {
		created = time.Now()
	}

	repo := e.GetRepo()
	return []activity.Record{{
		ID:          fmt.Sprintf("gh-pr-%d-%d-%s-%d", repo.GetID(), pr.GetNumber(), action, created.Unix()),
		WorkItem:    fmt.Sprintf("%s#%d", repo.GetFullName(), pr.GetNumber()),
		Type:        kind,
		Summary:     pr.GetTitle(),
		Description: text,
		CommitRef:   pr.GetHead().GetSHA(),
		RepoURL:     repo.GetHTMLURL(),
		CreatedAt:   created.UTC(),
	}}
}

func workItem(repo, branch string) string {
	if branch == "" {
		return repo
	}
	return repo + "@" + branch
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
