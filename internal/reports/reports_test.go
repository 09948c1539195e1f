package reports

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/models"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(nil, memory.Options{
		StorageFile: filepath.Join(t.TempDir(), "incidents.json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	entry := models.LogEntry{Timestamp: time.Now().UTC(), Message: "Database connection timeout after 30s"}
	classification := models.Classification{
		ErrorType: "database_errors",
		Severity:  models.SeverityWarning,
	}
	if _, err := store.Store(entry, classification, nil, nil); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestBuildReport(t *testing.T) {
	store := seededStore(t)
	r := NewRenderer(nil, t.TempDir())

	report := r.Build(store, 10)
	if report.Stats.TotalIncidents != 1 {
		t.Fatalf("total = %d", report.Stats.TotalIncidents)
	}
	if len(report.Recent) != 1 {
		t.Fatalf("recent = %d", len(report.Recent))
	}
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d", len(report.Clusters))
	}
}

func TestRenderAllFormats(t *testing.T) {
	store := seededStore(t)
	outputDir := t.TempDir()
	r := NewRenderer(nil, outputDir)

	report := r.Build(store, 10)
	written, err := r.Render(report, []string{"json", "markdown", "html", "bogus"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("wrote %d files, want 3 (unknown format skipped)", len(written))
	}

	for _, path := range written {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !strings.Contains(string(data), "database_errors") {
			t.Errorf("%s missing incident data", filepath.Base(path))
		}
	}
}

func TestRenderMarkdownShape(t *testing.T) {
	store := seededStore(t)
	outputDir := t.TempDir()
	r := NewRenderer(nil, outputDir)

	written, err := r.Render(r.Build(store, 10), []string{"markdown"})
	if err != nil || len(written) != 1 {
		t.Fatalf("Render: files=%v err=%v", written, err)
	}

	content, err := os.ReadFile(written[0])
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)
	if !strings.Contains(text, "# Triage Report") {
		t.Error("missing title")
	}
	if !strings.Contains(text, "Total incidents: 1") {
		t.Error("missing summary count")
	}
	if !strings.Contains(text, "| ID | Time | Type | Severity | Status |") {
		t.Error("missing incident table header")
	}
}
