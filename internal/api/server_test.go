package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opsmend/opsmend/internal/analyzer"
	"github.com/opsmend/opsmend/internal/classify"
	"github.com/opsmend/opsmend/internal/engine"
	"github.com/opsmend/opsmend/internal/fixes"
	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/patch"
)

type fixture struct {
	server    *Server
	store     *memory.Store
	generator *patch.Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := memory.NewStore(nil, memory.Options{
		StorageFile: filepath.Join(t.TempDir(), "incidents.json"),
	})
	if err != nil {
		t.Fatal(err)
	}

	sourceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "db.conf"), []byte("connect_timeout = 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	classifier := classify.New(nil, 50)
	contextAnalyzer := analyzer.New(nil, []string{sourceDir}, []string{".conf"}, 10, 10)
	fixEngine := fixes.New(nil, fixes.NewRegistry(), 50)
	generator := patch.NewGenerator(nil, t.TempDir(), models.FormatGit)
	manager := patch.NewManager(nil, t.TempDir(), 1024, 0)

	triage := engine.New(nil, classifier, contextAnalyzer, fixEngine, generator, store, "")
	server := NewServer(nil, triage, store, generator, manager, ":0")

	return &fixture{server: server, store: store, generator: generator}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTriageEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/triage", map[string]string{
		"message": "Database connection timeout after 30s",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result engine.TriageResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.IncidentID == "" {
		t.Fatal("expected an incident id")
	}
	if result.Classification.ErrorType != "database_errors" {
		t.Fatalf("error type = %q", result.Classification.ErrorType)
	}
	if len(result.Fixes) == 0 {
		t.Fatal("expected fix candidates")
	}

	get := f.do(t, http.MethodGet, "/api/v1/incidents/"+result.IncidentID, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}
}

func TestTriageRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/triage", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIncidentNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/incidents/absent", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResolutionUpdate(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/triage", map[string]string{
		"message": "Database connection timeout after 30s",
	})
	var result engine.TriageResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}

	update := f.do(t, http.MethodPost,
		"/api/v1/incidents/"+result.IncidentID+"/resolution",
		map[string]string{"status": "resolved"})
	if update.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", update.Code, update.Body.String())
	}

	incident, err := f.store.Get(result.IncidentID)
	if err != nil {
		t.Fatal(err)
	}
	if incident.ResolutionStatus != models.ResolutionResolved {
		t.Fatalf("status = %q", incident.ResolutionStatus)
	}

	bad := f.do(t, http.MethodPost,
		"/api/v1/incidents/"+result.IncidentID+"/resolution",
		map[string]string{"status": "nonsense"})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", bad.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/triage", map[string]string{
		"message": "Database connection timeout after 30s",
	})

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats memory.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalIncidents != 1 {
		t.Fatalf("total = %d", stats.TotalIncidents)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPatchApplyEndpoint(t *testing.T) {
	f := newFixture(t)

	target := t.TempDir()
	confPath := filepath.Join(target, "db.conf")
	if err := os.WriteFile(confPath, []byte("connect_timeout = 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fix := models.FixCandidate{
		Description: "Increase connection timeout settings",
		CodeChanges: []models.CodeChange{{
			FilePattern:    `\.conf$`,
			SearchPattern:  `connect_timeout = \d+`,
			ReplacePattern: `connect_timeout = 60`,
		}},
		RollbackPossible: true,
	}
	p, err := f.generator.Generate(context.Background(), fix, target)
	if err != nil || p == nil {
		t.Fatalf("Generate: patch=%v err=%v", p, err)
	}

	apply := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/patches/%s/apply", p.ID),
		map[string]string{"target_dir": target})
	if apply.Code != http.StatusOK {
		t.Fatalf("apply status = %d, body = %s", apply.Code, apply.Body.String())
	}

	data, err := os.ReadFile(confPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "connect_timeout = 60\n" {
		t.Fatalf("file after apply = %q", data)
	}

	rollback := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/patches/%s/rollback", p.ID),
		map[string]string{"target_dir": target})
	if rollback.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body = %s", rollback.Code, rollback.Body.String())
	}

	data, err = os.ReadFile(confPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "connect_timeout = 30\n" {
		t.Fatalf("file after rollback = %q", data)
	}
}

func TestPatchNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/patches/absent/apply",
		map[string]string{"target_dir": t.TempDir()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
