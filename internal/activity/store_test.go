package activity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := Record{
		ID:          "a1",
		WorkItem:    "Checkout",
		Type:        "Commit",
		Summary:     "fix rounding",
		Description: "https://acme.atlassian.net/browse/PAY-12",
		CommitRef:   "abc123",
		RepoURL:     "https://github.com/acme/pay",
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
	got.CreatedAt = rec.CreatedAt
	if got != rec {
		t.Fatalf("Get() = %+v, want %+v", got, rec)
	}

	rec.Summary = "fix rounding again"
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	got, _ = s.Get(ctx, "a1")
	if got.Summary != "fix rounding again" {
		t.Fatalf("Summary = %q, want updated value", got.Summary)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStoreUpsertRequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(context.Background(), Record{Summary: "x"}); err == nil {
		t.Fatal("Upsert() error = nil, want missing id error")
	}
}

func TestFetchByIDsKeepsInputOrderAndSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Upsert(ctx, Record{ID: id, Summary: "s-" + id}); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	got, err := s.FetchByIDs(ctx, []string{"c", "missing", "a", "c"})
	if err != nil {
		t.Fatalf("FetchByIDs() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("FetchByIDs() = %+v, want [c a]", got)
	}
}

func TestFetchByIDsLargeBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ids := make([]string, 0, 1200)
	recs := make([]Record, 0, 1200)
	for i := 0; i < 1200; i++ {
		id := fmt.Sprintf("act-%04d", i)
		ids = append(ids, id)
		recs = append(recs, Record{ID: id})
	}
	if err := s.Upsert(ctx, recs...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.FetchByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("FetchByIDs() error = %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("len = %d, want %d", len(got), len(ids))
	}
	if got[999].ID != "act-0999" {
		t.Fatalf("got[999] = %q", got[999].ID)
	}
}

func TestFetchByIDsEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.FetchByIDs(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("FetchByIDs(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "activities.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Upsert(context.Background(), Record{ID: "x"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Open() error = nil, want error")
	}
}

func TestHasCommitLink(t *testing.T) {
	if (Record{CommitRef: "abc"}).HasCommitLink() {
		t.Fatal("commit without repo should not link")
	}
	if !(Record{CommitRef: "abc", RepoURL: "https://github.com/a/b"}).HasCommitLink() {
		t.Fatal("commit with repo should link")
	}
}
