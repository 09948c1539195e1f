package reports

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/models"
)

// Report is a point-in-time summary of triage activity.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Stats       memory.Stats       `json:"stats"`
	Clusters    []memory.Cluster   `json:"clusters"`
	Recent      []*models.Incident `json:"recent_incidents"`
}

// Renderer writes reports in the configured formats.
type Renderer struct {
	logger    *slog.Logger
	outputDir string
}

// NewRenderer constructs a Renderer writing into outputDir.
func NewRenderer(logger *slog.Logger, outputDir string) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger, outputDir: outputDir}
}

// Build snapshots the store into a Report. Clusters use a 0.5 similarity
// threshold; recentLimit caps the incident listing.
func (r *Renderer) Build(store *memory.Store, recentLimit int) *Report {
	if recentLimit <= 0 {
		recentLimit = 20
	}
	recent := store.Search(models.IncidentQuery{})
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	return &Report{
		GeneratedAt: time.Now().UTC(),
		Stats:       store.Stats(),
		Clusters:    store.Clusters(0.5),
		Recent:      recent,
	}
}

// Render writes the report in each requested format and returns the written
// paths. Unknown formats are skipped with a warning.
func (r *Renderer) Render(report *Report, formats []string) ([]string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare report directory: %w", err)
	}

	stamp := report.GeneratedAt.Format("20060102T150405")
	var written []string
	for _, format := range formats {
		var (
			path string
			err  error
		)
		switch strings.ToLower(format) {
		case "json":
			path = filepath.Join(r.outputDir, "triage_"+stamp+".json")
			err = r.renderJSON(report, path)
		case "markdown", "md":
			path = filepath.Join(r.outputDir, "triage_"+stamp+".md")
			err = r.renderMarkdown(report, path)
		case "html":
			path = filepath.Join(r.outputDir, "triage_"+stamp+".html")
			err = r.renderHTML(report, path)
		default:
			r.logger.Warn("unknown report format", slog.String("format", format))
			continue
		}
		if err != nil {
			return written, fmt.Errorf("render %s report: %w", format, err)
		}
		written = append(written, path)
	}

	r.logger.Info("reports rendered", slog.Int("files", len(written)))
	return written, nil
}

func (r *Renderer) renderJSON(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var markdownTemplate = texttemplate.Must(texttemplate.New("markdown").Parse(`# Triage Report

Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}

## Summary

- Total incidents: {{.Stats.TotalIncidents}}
{{- range $type, $count := .Stats.ByErrorType}}
- {{$type}}: {{$count}}
{{- end}}

## Clusters
{{range .Clusters}}
### {{.ErrorType}} / {{.Severity}} ({{.Count}} incidents)

> {{.Representative}}
{{end}}
## Recent Incidents

| ID | Time | Type | Severity | Status |
|----|------|------|----------|--------|
{{- range .Recent}}
| {{.ID}} | {{.Timestamp.Format "2006-01-02 15:04"}} | {{.Classification.ErrorType}} | {{.Classification.Severity}} | {{.ResolutionStatus}} |
{{- end}}
`))

func (r *Renderer) renderMarkdown(report *Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return markdownTemplate.Execute(f, report)
}

var htmlTemplate = template.Must(template.New("html").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Triage Report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
.CRITICAL { color: #c00; font-weight: bold; }
.ERROR { color: #c60; }
</style>
</head>
<body>
<h1>Triage Report</h1>
<p>Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}</p>
<h2>Summary</h2>
<p>Total incidents: {{.Stats.TotalIncidents}}</p>
<h2>Clusters</h2>
<ul>
{{range .Clusters}}<li><b>{{.ErrorType}} / {{.Severity}}</b> ({{.Count}}): {{.Representative}}</li>
{{end}}</ul>
<h2>Recent Incidents</h2>
<table>
<tr><th>ID</th><th>Time</th><th>Type</th><th>Severity</th><th>Status</th></tr>
{{range .Recent}}<tr><td>{{.ID}}</td><td>{{.Timestamp.Format "2006-01-02 15:04"}}</td><td>{{.Classification.ErrorType}}</td><td class="{{.Classification.Severity}}">{{.Classification.Severity}}</td><td>{{.ResolutionStatus}}</td></tr>
{{end}}</table>
</body>
</html>
`))

func (r *Renderer) renderHTML(report *Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return htmlTemplate.Execute(f, report)
}
