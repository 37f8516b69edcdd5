package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// maxQueryParams keeps IN lists below SQLite's bound-variable limit.
const maxQueryParams = 500

// Store is the sqlite-backed activity repository.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the sqlite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newStore(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:activities-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// One connection keeps the memory database alive and avoids shared-cache lock errors.
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			work_item TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			commit_ref TEXT NOT NULL DEFAULT '',
			repo_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces the given records in one transaction.
func (s *Store) Upsert(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return errors.New("activity id is required")
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activities (id, work_item, type, summary, description, commit_ref, repo_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				work_item = excluded.work_item,
				type = excluded.type,
				summary = excluded.summary,
				description = excluded.description,
				commit_ref = excluded.commit_ref,
				repo_url = excluded.repo_url`,
			r.ID, r.WorkItem, r.Type, r.Summary, r.Description, r.CommitRef, r.RepoURL, ts(createdAt),
		)
		if err != nil {
			return fmt.Errorf("upsert activity %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns a single record or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get activity %s: %w", id, err)
	}
	return rec, nil
}

// FetchByIDs resolves ids in batched IN queries. The result follows the
// order of ids; unknown and repeated ids are skipped.
func (s *Store) FetchByIDs(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[string]Record, len(ids))
	for start := 0; start < len(ids); start += maxQueryParams {
		end := min(start+maxQueryParams, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("fetch activities: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan activity: %w", err)
			}
			byID[rec.ID] = rec
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("iterate activities: %w", err)
		}
		_ = rows.Close()
	}

	out := make([]Record, 0, len(byID))
	seen := make(map[string]struct{}, len(byID))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}

const selectColumns = `SELECT id, work_item, type, summary, description, commit_ref, repo_url, created_at FROM activities`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r         Record
		createdAt string
	)
	if err := s.Scan(&r.ID, &r.WorkItem, &r.Type, &r.Summary, &r.Description, &r.CommitRef, &r.RepoURL, &createdAt); err != nil {
		return Record{}, err
	}
	r.CreatedAt = parseTS(createdAt)
	return r, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
