package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"archhive/internal/hivescript"
	"archhive/internal/store"
)

func testServer(t *testing.T, apiKey string) (*Server, *store.Store) {
	t.Helper()
	codec := hivescript.NewCodec(hivescript.DefaultRegistry())
	st, err := store.New(context.Background(), t.TempDir(), codec)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, codec, apiKey), st
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHandleSnapshot(t *testing.T) {
	s, st := testServer(t, "")
	handler := s.Handler()

	lines := []string{"v:0.2.0", "sys:arch", "p:firefox-121.0-1", "p:vim-9.0-1"}
	w := postJSON(t, handler, "/api/v1/snapshot", snapshotRequest{Lines: lines}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp snapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Filename == "" {
		t.Error("empty filename in response")
	}
	if resp.Summary.Packages != 2 {
		t.Errorf("packages = %d, want 2", resp.Summary.Packages)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", resp.Warnings)
	}

	stored, err := st.Read(context.Background(), resp.Filename)
	if err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	if len(stored) != len(lines) {
		t.Errorf("stored %d lines, want %d", len(stored), len(lines))
	}
}

func TestHandleSnapshotWarnings(t *testing.T) {
	s, _ := testServer(t, "")

	lines := []string{"v:0.2.0", "zz:unknown", "pc:too-few-fields"}
	w := postJSON(t, s.Handler(), "/api/v1/snapshot", snapshotRequest{Lines: lines}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp snapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Warnings) != 2 {
		t.Errorf("got %d warnings, want 2: %v", len(resp.Warnings), resp.Warnings)
	}
}

func TestHandleSnapshotValidation(t *testing.T) {
	s, _ := testServer(t, "")
	handler := s.Handler()

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty lines", snapshotRequest{}, http.StatusBadRequest},
		{"not json", "garbage", http.StatusBadRequest},
		{"line too long", snapshotRequest{Lines: []string{"p:" + strings.Repeat("a", maxLineLength+1)}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, handler, "/api/v1/snapshot", tt.body, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})
}

func TestAPIKeyAuth(t *testing.T) {
	s, _ := testServer(t, "secret-key")
	handler := s.Handler()
	body := snapshotRequest{Lines: []string{"v:0.2.0"}}

	w := postJSON(t, handler, "/api/v1/snapshot", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}

	w = postJSON(t, handler, "/api/v1/snapshot", body, map[string]string{"X-API-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}

	w = postJSON(t, handler, "/api/v1/snapshot", body, map[string]string{"X-API-Key": "secret-key"})
	if w.Code != http.StatusOK {
		t.Errorf("correct key: status = %d, want 200", w.Code)
	}
}

func TestHandleSnapshotsListAndGet(t *testing.T) {
	s, st := testServer(t, "")
	handler := s.Handler()
	ctx := context.Background()

	filename, err := st.Save(ctx, []string{"v:0.2.0", "p:zsh-5.9-4"}, "full")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var entries []store.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Filename != filename {
		t.Errorf("entries = %+v", entries)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/"+filename, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var detail snapshotDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Summary.Packages != 1 {
		t.Errorf("packages = %d, want 1", detail.Summary.Packages)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/snapshot_0.hive", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing snapshot status = %d, want 404", w.Code)
	}
}

func TestHandleDiff(t *testing.T) {
	s, st := testServer(t, "")
	ctx := context.Background()

	before, err := st.Save(ctx, []string{"v:0.2.0", "p:firefox-121.0-1"}, "full")
	if err != nil {
		t.Fatal(err)
	}
	after, err := st.Save(ctx, []string{"v:0.2.0", "p:firefox-121.0-1", "p:vim-9.0-1"}, "full")
	if err != nil {
		t.Fatal(err)
	}

	w := postJSON(t, s.Handler(), "/api/v1/diff", diffRequest{Before: before, After: after}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp diffResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result == nil {
		t.Fatal("nil diff result")
	}
	if len(resp.Result.AddedPackages) != 1 || !strings.HasPrefix(resp.Result.AddedPackages[0], "vim") {
		t.Errorf("added packages = %v", resp.Result.AddedPackages)
	}

	w = postJSON(t, s.Handler(), "/api/v1/diff", diffRequest{Before: "snapshot_0.hive", After: after}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing before: status = %d, want 404", w.Code)
	}
}

func TestHandleSpec(t *testing.T) {
	s, _ := testServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/spec", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var spec struct {
		Version  string            `json:"version"`
		Prefixes map[string]string `json:"prefixes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &spec); err != nil {
		t.Fatal(err)
	}
	if spec.Version != hivescript.SpecVersion {
		t.Errorf("version = %q, want %q", spec.Version, hivescript.SpecVersion)
	}
	if spec.Prefixes["p:"] != "package" {
		t.Errorf("p: maps to %q, want package", spec.Prefixes["p:"])
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := testServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}
