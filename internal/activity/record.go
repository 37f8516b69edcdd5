package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when an activity id is unknown to the store.
var ErrNotFound = errors.New("activity not found")

// Record is one activity entry from the source system. The relay only reads it.
type Record struct {
	ID          string    `json:"id"`
	WorkItem    string    `json:"work_item,omitempty"`
	Type        string    `json:"type,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"` // holds the tracker URL
	CommitRef   string    `json:"commit_ref,omitempty"`
	RepoURL     string    `json:"repo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasCommitLink reports whether both the commit reference and repository URL are set.
func (r Record) HasCommitLink() bool {
	return strings.TrimSpace(r.CommitRef) != "" && strings.TrimSpace(r.RepoURL) != ""
}

// Reader resolves activity ids to records in one batched call.
// Unknown ids are omitted from the result rather than reported as errors.
type Reader interface {
	FetchByIDs(ctx context.Context, ids []string) ([]Record, error)
}

// Writer stores activity records.
type Writer interface {
	Upsert(ctx context.Context, records ...Record) error
}
