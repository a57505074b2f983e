package stager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/downloadapi"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
)

func newTestClient(t *testing.T, baseURL string) *downloadapi.Client {
	t.Helper()

	cfg := &config.Config{MaxRetries: 0, ExponentialBackoffMax: 0}
	httpClient, err := httpclient.New(cfg, nil)
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	runtime := config.NewRuntimeConfig("", "", baseURL, nil)
	return downloadapi.New(httpClient, runtime)
}

func noOpTokenFn(ctx context.Context, fileID string, bustCache bool) (string, error) {
	return "token", nil
}

func TestStagerResolvesAlreadyStagedFiles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   "file-1",
			"size": 42,
		})
	}))
	defer srv.Close()

	api := newTestClient(t, srv.URL)
	st := New(api, nil, time.Minute, []string{"file-1"})

	outcomes, err := st.Run(context.Background(), noOpTokenFn, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil {
		t.Errorf("unexpected outcome error: %v", outcomes[0].Err)
	}
	if outcomes[0].Object.Size != 42 {
		t.Errorf("Object.Size = %d, want 42", outcomes[0].Object.Size)
	}
	if !st.Finished() {
		t.Error("expected Finished() to be true")
	}
}

func TestStagerPollsUntilStaged(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "file-1", "size": 7})
	}))
	defer srv.Close()

	api := newTestClient(t, srv.URL)
	st := New(api, nil, time.Minute, []string{"file-1"})

	outcomes, err := st.Run(context.Background(), noOpTokenFn, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if calls < 3 {
		t.Errorf("expected at least 3 polls before staging, got %d", calls)
	}
}

func TestStagerMarksNotFoundFilesMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	api := newTestClient(t, srv.URL)
	st := New(api, nil, time.Minute, []string{"missing-file"})

	var askedAbout []string
	onMissing := func(ids []string) bool {
		askedAbout = append(askedAbout, ids...)
		return true
	}

	outcomes, err := st.Run(context.Background(), noOpTokenFn, onMissing)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Err == nil {
		t.Error("expected a missing-file outcome to carry an error")
	}
	if len(askedAbout) != 1 || askedAbout[0] != "missing-file" {
		t.Errorf("onMissing callback invoked with %v", askedAbout)
	}
}

func TestStagerReturnsErrorWhenMaxWaitExceeded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	api := newTestClient(t, srv.URL)
	st := New(api, nil, 0, []string{"slow-file"})

	if _, err := st.Run(context.Background(), noOpTokenFn, nil); err == nil {
		t.Error("expected an error once the max wait time is exceeded")
	}
}

func TestStagerRetriesWithFreshTokenOn403(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "file-1", "size": 1})
	}))
	defer srv.Close()

	api := newTestClient(t, srv.URL)
	st := New(api, nil, time.Minute, []string{"file-1"})

	var bustCount int
	tokenFn := func(ctx context.Context, fileID string, bustCache bool) (string, error) {
		if bustCache {
			bustCount++
			return "fresh", nil
		}
		return "stale", nil
	}

	outcomes, err := st.Run(context.Background(), tokenFn, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if bustCount == 0 {
		t.Error("expected at least one cache-busted token request after a 403")
	}
	if calls < 2 {
		t.Errorf("expected at least 2 calls (stale then fresh), got %d", calls)
	}
}
