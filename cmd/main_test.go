package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/jira-relay/internal/activity"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	prevLoad := loadDotEnv
	loadDotEnv = func(...string) error { return nil }
	t.Cleanup(func() { loadDotEnv = prevLoad })

	t.Setenv("JIRA_BASE_URL", "https://acme.atlassian.net")
	t.Setenv("JIRA_AUTH", "basic")
	t.Setenv("JIRA_EMAIL", "bot@acme.io")
	t.Setenv("JIRA_API_TOKEN", "token")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "secret")
	t.Setenv("ACTIVITY_DB_PATH", filepath.Join(t.TempDir(), "activities.db"))
	t.Setenv("DISPATCHER_WORKERS", "1")
	t.Setenv("DISPATCHER_QUEUE_SIZE", "1")
	t.Setenv("RELAY_CALL_LIMIT", "")
	t.Setenv("RELAY_BATCH_SIZE", "")
	t.Setenv("PORT", "")
}

func TestRun_StartsServerWithValidConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "4321")

	// Routes are exercised inside serve, while the stores run() opened are
	// still live. They are closed once serve returns.
	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{method: http.MethodGet, path: "/health", want: http.StatusOK},
		{method: http.MethodGet, path: "/", want: http.StatusOK},
		{method: http.MethodGet, path: "/units", want: http.StatusOK},
		{method: http.MethodGet, path: "/activities/unknown", want: http.StatusNotFound},
		{method: http.MethodPost, path: "/activities", body: `{"activities":[{"id":"act-1","summary":"wip"}]}`, want: http.StatusOK},
		{method: http.MethodGet, path: "/activities/act-1", want: http.StatusOK},
		{method: http.MethodPost, path: "/webhook", body: "{}", want: http.StatusUnauthorized},
	}

	var servedAddr string
	served := false
	serve := func(addr string, handler http.Handler) error {
		servedAddr = addr
		served = true
		if handler == nil {
			t.Errorf("serve handler is nil")
			return nil
		}

		for _, tt := range tests {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("%s %s status = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if body := rec.Body.String(); !strings.Contains(body, `"service":"jira-relay"`) {
			t.Errorf("root body = %q, want service payload", body)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, serve); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	if !served {
		t.Fatal("serve was never called")
	}
	if servedAddr != ":4321" {
		t.Fatalf("serve addr = %q, want :4321", servedAddr)
	}
}

func TestRun_WebhookDisabledWithoutSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GITHUB_WEBHOOK_SECRET", "")

	var servedHandler http.Handler
	if err := run(context.Background(), func(_ string, h http.Handler) error {
		servedHandler = h
		return nil
	}); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	servedHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("/webhook status = %d, want 404", rec.Code)
	}
}

func TestRun_ReturnsErrorWhenServeFails(t *testing.T) {
	setRequiredEnv(t)

	expected := errors.New("listen failed")
	err := run(context.Background(), func(string, http.Handler) error {
		return expected
	})

	if err == nil {
		t.Fatalf("run() error = nil, want %v", expected)
	}
	if !errors.Is(err, expected) {
		t.Fatalf("run() error = %v, want to wrap %v", err, expected)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JIRA_BASE_URL", "")

	called := false
	err := run(context.Background(), func(string, http.Handler) error {
		called = true
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "failed to load configuration") {
		t.Fatalf("run() error = %v, want configuration error", err)
	}
	if called {
		t.Fatalf("serve should not be called when configuration fails")
	}
}

func TestRun_ActivityStoreError(t *testing.T) {
	setRequiredEnv(t)

	prevOpen := openActivityStore
	defer func() { openActivityStore = prevOpen }()
	openActivityStore = func(string) (*activity.Store, error) {
		return nil, errors.New("inject failure")
	}

	err := run(context.Background(), func(string, http.Handler) error {
		t.Fatalf("serve should not be called on store failure")
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "failed to open activity store") {
		t.Fatalf("run() error = %v, want activity store failure", err)
	}
}
