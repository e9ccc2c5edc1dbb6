package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"treesync/internal/migrate"
)

func TestHTTPTimeoutFromEnv(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "")
		if got := httpTimeoutFromEnv(); got != defaultHTTPTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultHTTPTimeout, got)
		}
	})

	t.Run("duration format", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "45s")
		if got := httpTimeoutFromEnv(); got != 45*time.Second {
			t.Fatalf("expected 45s timeout, got %v", got)
		}
	})

	t.Run("integer seconds", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "25")
		if got := httpTimeoutFromEnv(); got != 25*time.Second {
			t.Fatalf("expected 25s timeout, got %v", got)
		}
	})

	t.Run("invalid falls back", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "invalid")
		if got := httpTimeoutFromEnv(); got != defaultHTTPTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultHTTPTimeout, got)
		}
	})
}

func TestClientMigrateSendsScopeAndToken(t *testing.T) {
	t.Setenv(apiTokenEnvKey, "secret-token-value")
	var gotAuth string
	var gotReq ScopeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/migrate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(MigrateResponse{Message: "ok", Report: &migrate.Report{RunID: "run-1"}})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL+"/").Migrate(context.Background(), ScopeRequest{Scope: "project", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if gotAuth != "Bearer secret-token-value" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Scope != "project" || gotReq.ProjectID != "p1" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	if resp.Report == nil || resp.Report.RunID != "run-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClientDecodesStructuredErrors(t *testing.T) {
	t.Setenv(apiTokenEnvKey, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Message:   "transfer failed",
			Code:      "transfer_failed",
			ErrorCode: 2101,
			Report:    &migrate.Report{RunID: "run-2", Failed: 1},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Migrate(context.Background(), ScopeRequest{Scope: "full"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Code != "transfer_failed" || apiErr.ErrorCode != 2101 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if apiErr.Report == nil || apiErr.Report.Failed != 1 {
		t.Fatalf("expected partial report, got %+v", apiErr.Report)
	}
}

func TestClientUnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Ping(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}
