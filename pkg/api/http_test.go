package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/agentsync/pkg/store"
)

func TestHTTPListTargets(t *testing.T) {
	env := setupEnv(t)
	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodGet, "/targets", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summaries []TargetSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "t1" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestHTTPPostTargetsIsNotImplemented(t *testing.T) {
	env := setupEnv(t)
	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodPost, "/targets", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestHTTPPauseAndResumeTarget(t *testing.T) {
	env := setupEnv(t)
	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodPost, "/targets/t1/pause", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("pause: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	detail, err := env.facade.GetTarget("t1")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Status != store.TargetStatusPaused {
		t.Fatalf("expected paused, got %s", detail.Status)
	}

	req = httptest.NewRequest(http.MethodPost, "/targets/t1/resume", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("resume: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPRescanTarget(t *testing.T) {
	env := setupEnv(t)
	env.write(env.storePath("AGENTS.md"), "hello")
	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodPost, "/targets/t1/rescan", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary struct {
		Synced int `json:"synced"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if summary.Synced != 1 {
		t.Fatalf("expected 1 synced file, got %+v", summary)
	}
}

func TestHTTPGetTargetNotFound(t *testing.T) {
	env := setupEnv(t)
	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodGet, "/targets/nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHTTPListAndResolveConflict(t *testing.T) {
	env := setupEnv(t)
	env.write(env.storePath("a.txt"), "store-version")
	env.write(env.targetPath("a.txt"), "target-version")

	tf := store.TrackedFile{ID: "f1", TargetID: "t1", RelativePath: "a.txt", SyncStatus: store.SyncStatusConflict}
	c := store.Conflict{ID: "c1", TrackedFileID: "f1", Status: store.ConflictStatusPending,
		StoreContent: []byte("store-version"), TargetContent: []byte("target-version")}
	if err := env.meta.PutConflictAndUpdateTrackedFile(c, tf); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodGet, "/conflicts?target_id=t1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var conflicts []ConflictSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &conflicts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ID != "c1" {
		t.Fatalf("unexpected conflicts: %+v", conflicts)
	}

	body, err := json.Marshal(map[string]string{"resolution": string(ResolutionKeepStore)})
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodPost, "/conflicts/c1", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("resolve: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPGetAndSetSetting(t *testing.T) {
	env := setupEnv(t)
	srv := NewServer(env.facade)

	body, err := json.Marshal("daily")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPut, "/settings/backup_cadence", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/settings/backup_cadence", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var value string
	if err := json.Unmarshal(rec.Body.Bytes(), &value); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if value != "daily" {
		t.Fatalf("expected %q, got %q", "daily", value)
	}
}

func TestHTTPEnterAndLeavePullMode(t *testing.T) {
	env := setupEnv(t)
	env.git.QueueCommit("seed")
	if err := env.git.Flush(); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(env.facade)

	req := httptest.NewRequest(http.MethodPost, "/pull-mode/enter", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enter: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var token PullToken
	if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if token.PreHash == "" {
		t.Fatal("expected a non-empty pre-pull hash")
	}

	req = httptest.NewRequest(http.MethodPost, "/pull-mode/leave", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("leave: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.eng.InPullMode() {
		t.Fatal("expected the engine to have left pull mode")
	}
}
