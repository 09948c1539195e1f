package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsmend/opsmend/internal/analyzer"
	"github.com/opsmend/opsmend/internal/classify"
	"github.com/opsmend/opsmend/internal/fixes"
	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/patch"
)

func newTestEngine(t *testing.T, targetDir string) (*Engine, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(nil, memory.Options{
		StorageFile: filepath.Join(t.TempDir(), "incidents.json"),
	})
	if err != nil {
		t.Fatal(err)
	}

	e := New(
		nil,
		classify.New(nil, 50),
		analyzer.New(nil, []string{targetDir}, []string{".go", ".conf"}, 50, 10),
		fixes.New(nil, fixes.NewRegistry(), 50),
		patch.NewGenerator(nil, t.TempDir(), models.FormatGit),
		store,
		targetDir,
	)
	return e, store
}

func TestTriageEndToEnd(t *testing.T) {
	target := t.TempDir()
	if err := os.WriteFile(filepath.Join(target, "db.conf"), []byte("connect_timeout = 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e, store := newTestEngine(t, target)
	entry := models.LogEntry{
		Timestamp: time.Now().UTC(),
		Message:   "Database connection timeout after 30s",
	}

	result, err := e.Triage(context.Background(), entry)
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}

	if result.Classification.ErrorType != "database_errors" {
		t.Fatalf("error type = %q", result.Classification.ErrorType)
	}
	if result.Classification.Severity != models.SeverityWarning {
		t.Fatalf("severity = %q", result.Classification.Severity)
	}
	if len(result.Fixes) == 0 {
		t.Fatal("expected fix candidates")
	}
	if len(result.Patches) != 1 {
		t.Fatalf("patches = %d, want 1 for the top candidate", len(result.Patches))
	}

	incident, err := store.Get(result.IncidentID)
	if err != nil {
		t.Fatalf("incident not recorded: %v", err)
	}
	if len(incident.Patches) != 1 {
		t.Fatalf("stored incident carries %d patches", len(incident.Patches))
	}

	// Triage must never mutate the target tree.
	data, err := os.ReadFile(filepath.Join(target, "db.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "connect_timeout = 30\n" {
		t.Fatalf("target mutated: %q", data)
	}
}

func TestTriageWithoutTarget(t *testing.T) {
	e, _ := newTestEngine(t, "")
	entry := models.LogEntry{Timestamp: time.Now().UTC(), Message: "token expired for session 42"}

	result, err := e.Triage(context.Background(), entry)
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if result.Classification.ErrorType != "authentication_errors" {
		t.Fatalf("error type = %q", result.Classification.ErrorType)
	}
	if len(result.Patches) != 0 {
		t.Fatalf("patches = %d, want none without a target", len(result.Patches))
	}
}

func TestRunConsumesChannel(t *testing.T) {
	e, store := newTestEngine(t, "")
	entries := make(chan models.LogEntry, 2)
	entries <- models.LogEntry{Timestamp: time.Now().UTC(), Message: "Database deadlock detected in payments"}
	entries <- models.LogEntry{Timestamp: time.Now().UTC(), Message: "token expired for session 42"}
	close(entries)

	e.Run(context.Background(), entries)

	if size := store.Size(); size != 2 {
		t.Fatalf("stored %d incidents, want 2", size)
	}
}
