package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddCommentPostsJSONBody(t *testing.T) {
	var gotPath, gotMethod, gotUser, gotPass string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10001"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", BasicAuth{Email: "bot@acme.io", Token: "tok"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := c.AddComment(context.Background(), "TEST-123", "hello\nworld")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/rest/api/2/issue/TEST-123/comment" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotUser != "bot@acme.io" || gotPass != "tok" {
		t.Fatalf("basic auth = %s/%s", gotUser, gotPass)
	}
	if gotBody["body"] != "hello\nworld" {
		t.Fatalf("body = %q", gotBody["body"])
	}
}

func TestAddCommentReturnsNon201AsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":["Issue does not exist"]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, nil)
	resp, err := c.AddComment(context.Background(), "NOPE-1", "x")
	if err != nil {
		t.Fatalf("AddComment() error = %v, want nil for HTTP rejection", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(resp.Body, "Issue does not exist") {
		t.Fatalf("Body = %q", resp.Body)
	}
}

func TestAddCommentTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := NewClient(url, nil, WithTimeout(time.Second))
	if _, err := c.AddComment(context.Background(), "ABC-1", "x"); err == nil {
		t.Fatal("AddComment() error = nil, want transport error")
	}
}

func TestAddCommentAuthFailureIsError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, BasicAuth{})
	if _, err := c.AddComment(context.Background(), "ABC-1", "x"); err == nil {
		t.Fatal("AddComment() error = nil, want auth error")
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("request should not be sent when auth fails")
	}
}

func TestAddCommentRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, nil, WithRateLimit(0.001))
	if _, err := c.AddComment(context.Background(), "ABC-1", "x"); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.AddComment(ctx, "ABC-2", "x")
	if err == nil {
		t.Fatal("second call error = nil, want rate limit wait error")
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative"} {
		if _, err := NewClient(raw, nil); err == nil {
			t.Errorf("NewClient(%q) error = nil", raw)
		}
	}
}

func TestCommentURL(t *testing.T) {
	c, _ := NewClient("https://acme.atlassian.net/jira/", nil)
	got := c.CommentURL("OPS-9")
	want := "https://acme.atlassian.net/jira/rest/api/2/issue/OPS-9/comment"
	if got != want {
		t.Fatalf("CommentURL() = %q, want %q", got, want)
	}
}

func TestAddCommentRequiresKey(t *testing.T) {
	c, _ := NewClient("https://acme.atlassian.net", nil)
	_, err := c.AddComment(context.Background(), "", "x")
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("AddComment(\"\") error = %v, want validation error", err)
	}
}

func TestAddCommentRejectsMalformedKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, nil)
	for _, key := range []string{"abc-1", "ABC-1/../../x", " ABC-1", "ABC"} {
		if _, err := c.AddComment(context.Background(), key, "x"); err == nil {
			t.Errorf("AddComment(%q) error = nil, want invalid key error", key)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("server received %d requests, want none", hits.Load())
	}
}

func TestWithTimeoutDoesNotMutateSharedClient(t *testing.T) {
	shared := &http.Client{Timeout: 5 * time.Second}

	for _, opts := range [][]Option{
		{WithHTTPClient(shared), WithTimeout(time.Second)},
		{WithTimeout(time.Second), WithHTTPClient(shared)},
	} {
		if _, err := NewClient("https://acme.atlassian.net", nil, opts...); err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
	}
	if shared.Timeout != 5*time.Second {
		t.Fatalf("shared client timeout = %s, want 5s", shared.Timeout)
	}

	c, _ := NewClient("https://acme.atlassian.net", nil, WithHTTPClient(shared), WithTimeout(time.Second))
	if c.httpClient == shared || c.httpClient.Timeout != time.Second {
		t.Fatalf("client should use a copy with a 1s timeout, got %s", c.httpClient.Timeout)
	}
}
