package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"treesync/internal/api"
	"treesync/internal/auth"
	"treesync/internal/blobstore"
	"treesync/internal/migrate"
	"treesync/internal/models"
	"treesync/internal/repair"
	"treesync/internal/resolve"
	"treesync/internal/store"
	"treesync/internal/transfer"
)

type testEnv struct {
	srv           *Server
	sourceBlobs   *blobstore.Memory
	targetBlobs   *blobstore.Memory
	targetRecords *store.Memory
}

func newTestEnv(t *testing.T, tokenHash string) *testEnv {
	t.Helper()
	sourceRecords := store.NewMemory(models.Document{
		"projects": map[string]any{
			"p1": map[string]any{
				"title":         "One",
				"coverImageUrl": "A/img1",
				"sections":      []any{map[string]any{"type": "File", "refId": "f1"}},
			},
			"p2": map[string]any{"title": "Two", "coverImageUrl": "A/img2"},
		},
		"files": map[string]any{
			"f1": map[string]any{"storagePath": "A/doc1"},
		},
	})
	env := &testEnv{
		sourceBlobs:   blobstore.NewMemory(blobstore.RefCodec{Bucket: "A"}),
		targetBlobs:   blobstore.NewMemory(blobstore.RefCodec{Bucket: "B"}),
		targetRecords: store.NewMemory(nil),
	}
	env.sourceBlobs.Put("img1", []byte("image one"))
	env.sourceBlobs.Put("img2", []byte("image two"))
	env.sourceBlobs.Put("doc1", []byte("document one"))

	engine, err := transfer.New(env.sourceBlobs, env.targetBlobs, transfer.Options{
		StagingDir:   t.TempDir(),
		RetrySteps:   1,
		RetryInitial: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	resolver := resolve.New(models.DefaultLayout(), env.sourceBlobs.Codec(), env.targetBlobs.Codec(), nil)
	orchestrator := migrate.New(sourceRecords, env.targetRecords, resolver, engine, nil)
	verifier := repair.New(orchestrator, engine, env.sourceBlobs, env.targetBlobs, env.targetRecords, nil)
	env.srv = New("127.0.0.1:0", orchestrator, verifier, tokenHash, nil)
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestListenAddrRemoteGuard(t *testing.T) {
	t.Run("allows loopback", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		addr, err := ListenAddr("http://127.0.0.1:7480")
		if err != nil {
			t.Fatalf("expected loopback to be allowed, got error: %v", err)
		}
		if addr != "127.0.0.1:7480" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})

	t.Run("blocks non-loopback by default", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		_, err := ListenAddr("http://0.0.0.0:7480")
		if err == nil {
			t.Fatal("expected error for non-loopback listen host")
		}
	})

	t.Run("allows non-loopback when explicitly enabled", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "true")
		addr, err := ListenAddr("http://0.0.0.0:7480")
		if err != nil {
			t.Fatalf("expected allow-remote to permit host, got error: %v", err)
		}
		if addr != "0.0.0.0:7480" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})
}

func TestWithAuth(t *testing.T) {
	hash, err := auth.HashToken("token-0123456789")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("denies missing auth", func(t *testing.T) {
		srv := &Server{apiTokenHash: hash}
		req := httptest.NewRequest(http.MethodPost, "/v1/migrate", nil)
		w := httptest.NewRecorder()
		srv.withAuth(next).ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		errResp := decodeBody[api.ErrorResponse](t, w)
		if errResp.ErrorCode != ErrCodeUnauthorized {
			t.Fatalf("expected error_code %d, got %d", ErrCodeUnauthorized, errResp.ErrorCode)
		}
	})

	t.Run("denies wrong token", func(t *testing.T) {
		srv := &Server{apiTokenHash: hash}
		req := httptest.NewRequest(http.MethodPost, "/v1/migrate", nil)
		req.Header.Set("Authorization", "Bearer wrong-0123456789")
		w := httptest.NewRecorder()
		srv.withAuth(next).ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("allows valid auth", func(t *testing.T) {
		srv := &Server{apiTokenHash: hash}
		req := httptest.NewRequest(http.MethodPost, "/v1/migrate", nil)
		req.Header.Set("Authorization", "Bearer token-0123456789")
		w := httptest.NewRecorder()
		srv.withAuth(next).ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("health skips auth", func(t *testing.T) {
		srv := &Server{apiTokenHash: hash}
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		srv.withAuth(next).ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("no hash disables auth", func(t *testing.T) {
		srv := &Server{}
		req := httptest.NewRequest(http.MethodPost, "/v1/migrate", nil)
		w := httptest.NewRecorder()
		srv.withAuth(next).ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("blocks after repeated failures", func(t *testing.T) {
		srv := &Server{apiTokenHash: hash, authLimiter: newAuthFailureLimiter(2, time.Minute, time.Minute)}
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodPost, "/v1/migrate", nil)
			w := httptest.NewRecorder()
			srv.withAuth(next).ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
			}
		}
		req := httptest.NewRequest(http.MethodPost, "/v1/migrate", nil)
		req.Header.Set("Authorization", "Bearer token-0123456789")
		w := httptest.NewRecorder()
		srv.withAuth(next).ServeHTTP(w, req)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429 while blocked, got %d", w.Code)
		}
	})
}

func TestAuthFailureLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newAuthFailureLimiter(2, time.Minute, 5*time.Minute)

	l.RegisterFailure("1.2.3.4", now)
	if !l.Allow("1.2.3.4", now) {
		t.Fatal("one failure should not block")
	}
	l.RegisterFailure("1.2.3.4", now.Add(time.Second))
	if l.Allow("1.2.3.4", now.Add(2*time.Second)) {
		t.Fatal("expected block after max failures")
	}
	if !l.Allow("5.6.7.8", now) {
		t.Fatal("other clients must not be blocked")
	}
	if !l.Allow("1.2.3.4", now.Add(6*time.Minute)) {
		t.Fatal("expected block to expire")
	}

	l.RegisterFailure("9.9.9.9", now)
	l.Reset("9.9.9.9")
	l.RegisterFailure("9.9.9.9", now)
	if !l.Allow("9.9.9.9", now) {
		t.Fatal("reset should clear earlier failures")
	}

	if newAuthFailureLimiter(0, time.Minute, time.Minute) != nil {
		t.Fatal("expected nil limiter for disabled config")
	}
	var disabled *authFailureLimiter
	if !disabled.Allow("x", now) {
		t.Fatal("nil limiter must allow")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}

	if resp := env.post(t, "/v1/migrate", `{"scope":"full"}`); resp.Code != http.StatusOK {
		t.Fatalf("migrate: %d %s", resp.Code, resp.Body.String())
	}
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "treesync_transfer_operations_total") {
		t.Fatalf("expected transfer metrics in output")
	}
}

func TestHandleMigrate(t *testing.T) {
	t.Run("full scope", func(t *testing.T) {
		env := newTestEnv(t, "")
		w := env.post(t, "/v1/migrate", `{"scope":"full"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeBody[api.MigrateResponse](t, w)
		if resp.Message == "" || resp.Report == nil {
			t.Fatalf("unexpected response %+v", resp)
		}
		if resp.Report.ManifestSize != 3 || resp.Report.Transferred != 3 {
			t.Fatalf("unexpected report %+v", resp.Report)
		}
		if env.targetBlobs.Uploads() != 3 {
			t.Fatalf("expected 3 uploads, got %v", env.targetBlobs.Uploads())
		}
	})

	t.Run("project scope", func(t *testing.T) {
		env := newTestEnv(t, "")
		w := env.post(t, "/v1/migrate", `{"scope":"project","project_id":"p2"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		value, ok, err := env.targetRecords.Get(context.Background(), "projects/p2/coverImageUrl")
		if err != nil || !ok || value != "B/img2" {
			t.Fatalf("expected rewritten cover, got %v %v %v", value, ok, err)
		}
	})

	tests := []struct {
		name    string
		body    string
		status  int
		errCode int
	}{
		{name: "missing scope", body: `{}`, status: http.StatusBadRequest, errCode: ErrCodeInvalidScope},
		{name: "unknown scope", body: `{"scope":"galaxy"}`, status: http.StatusBadRequest, errCode: ErrCodeInvalidScope},
		{name: "project without id", body: `{"scope":"project"}`, status: http.StatusBadRequest, errCode: ErrCodeInvalidScope},
		{name: "invalid json", body: `{"scope":`, status: http.StatusBadRequest, errCode: ErrCodeInvalidJSON},
		{name: "unknown field", body: `{"scope":"full","extra":1}`, status: http.StatusBadRequest, errCode: ErrCodeInvalidJSON},
		{name: "missing project", body: `{"scope":"project","project_id":"nope"}`, status: http.StatusNotFound, errCode: ErrCodeScopeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			w := env.post(t, "/v1/migrate", tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			resp := decodeBody[api.ErrorResponse](t, w)
			if resp.ErrorCode != tt.errCode || resp.Message == "" {
				t.Fatalf("unexpected error response %+v", resp)
			}
			if env.targetRecords.Writes() != 0 {
				t.Fatalf("expected no target writes, got %d", env.targetRecords.Writes())
			}
		})
	}

	t.Run("transfer failure", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.sourceBlobs.Remove("doc1")
		w := env.post(t, "/v1/migrate", `{"scope":"full"}`)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeBody[api.ErrorResponse](t, w)
		if resp.ErrorCode != ErrCodeTransferFailed || resp.Code != "transfer_failed" {
			t.Fatalf("unexpected error response %+v", resp)
		}
		if !strings.Contains(resp.Message, "doc1") {
			t.Fatalf("expected failing key in message, got %q", resp.Message)
		}
		if resp.Report == nil || resp.Report.Failed == 0 {
			t.Fatalf("expected partial report, got %+v", resp.Report)
		}
		if env.targetRecords.Writes() != 0 {
			t.Fatalf("expected no record writes, got %d", env.targetRecords.Writes())
		}
	})

	t.Run("busy", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.srv.runLimiter <- struct{}{}
		w := env.post(t, "/v1/migrate", `{"scope":"full"}`)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", w.Code)
		}
	})
}

func TestHandleVerify(t *testing.T) {
	env := newTestEnv(t, "")
	if w := env.post(t, "/v1/migrate", `{"scope":"full"}`); w.Code != http.StatusOK {
		t.Fatalf("migrate: %d %s", w.Code, w.Body.String())
	}

	w := env.post(t, "/v1/verify", `{"scope":"full"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"storageDiscrepancies", "databaseDiscrepancies", "orphans", "gaps", "message"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing %q in %s", key, w.Body.String())
		}
	}
	clean := decodeBody[api.VerifyResponse](t, w)
	if len(clean.StorageDiscrepancies) != 0 || len(clean.DatabaseDiscrepancies) != 0 {
		t.Fatalf("expected clean verify, got %+v", clean)
	}

	env.targetBlobs.Put("img1", []byte("tampered"))
	env.targetBlobs.Put("stray", []byte("orphan"))
	w = env.post(t, "/v1/verify", `{"scope":"full","scan_orphans":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[api.VerifyResponse](t, w)
	if len(resp.StorageDiscrepancies) != 1 || resp.StorageDiscrepancies[0].Key != "img1" {
		t.Fatalf("expected one storage discrepancy for img1, got %+v", resp.StorageDiscrepancies)
	}
	if resp.StorageDiscrepancies[0].Action != models.ActionReTransferred {
		t.Fatalf("expected re-transfer, got %+v", resp.StorageDiscrepancies[0])
	}
	if len(resp.Orphans) != 1 || resp.Orphans[0].Key != "stray" {
		t.Fatalf("expected stray orphan, got %+v", resp.Orphans)
	}
	if got, _ := env.targetBlobs.Bytes("img1"); !bytes.Equal(got, []byte("image one")) {
		t.Fatalf("expected img1 repaired, got %q", got)
	}

	w = env.post(t, "/v1/verify", `{"scope":"project","project_id":"missing"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleManifest(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.post(t, "/v1/manifest", `{"scope":"project","project_id":"p1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[api.ManifestResponse](t, w)
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 manifest entries, got %+v", resp.Entries)
	}
	if len(resp.Records) != 2 || resp.Records[len(resp.Records)-1] != "projects/p1" {
		t.Fatalf("unexpected record writes %v", resp.Records)
	}
	if env.targetBlobs.Uploads() != 0 || env.targetRecords.Writes() != 0 {
		t.Fatal("manifest must not touch the target")
	}
}
