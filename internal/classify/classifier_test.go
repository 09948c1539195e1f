package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/opsmend/opsmend/internal/models"
)

func TestClassifyDatabaseTimeout(t *testing.T) {
	c := New(nil, 10)
	result := c.Classify(context.Background(), "Database connection timeout after 30s", nil)

	if result.ErrorType != "database_errors" {
		t.Fatalf("error type = %q, want database_errors", result.ErrorType)
	}
	if result.Severity != models.SeverityWarning {
		t.Fatalf("severity = %q, want WARNING", result.Severity)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", result.Confidence)
	}

	hasDatabase := false
	for _, component := range result.Components {
		if component == "database" {
			hasDatabase = true
		}
	}
	if !hasDatabase {
		t.Fatalf("components = %v, want database present", result.Components)
	}
	if len(result.SuggestedActions) == 0 {
		t.Fatal("expected suggested actions")
	}
	if result.RootCause != "Database connection timeout" {
		t.Fatalf("root cause = %q", result.RootCause)
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := New(nil, 10)
	messages := []string{
		"",
		"x",
		"Database connection timeout after 30s",
		"FATAL: database crash, connection pool exhausted, service unavailable, out of memory",
		"something entirely unrecognizable happened",
	}
	for _, message := range messages {
		result := c.Classify(context.Background(), message, nil)
		if result.Confidence < 0 || result.Confidence > 1 {
			t.Fatalf("confidence %v out of [0,1] for %q", result.Confidence, message)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := New(nil, 10)
	result := c.Classify(context.Background(), "zzz", nil)

	if result.ErrorType != "unknown" {
		t.Fatalf("error type = %q, want unknown", result.ErrorType)
	}
	if result.Confidence >= 0.5 {
		t.Fatalf("confidence = %v, want low for unknown", result.Confidence)
	}
}

func TestClassifySeverityKeywords(t *testing.T) {
	c := New(nil, 10)
	cases := []struct {
		message string
		want    models.Severity
	}{
		{"fatal disk failure", models.SeverityCritical},
		{"service is down", models.SeverityCritical},
		{"request timeout on retry", models.SeverityWarning},
		{"debug trace enabled", models.SeverityInfo},
		{"query rejected", models.SeverityError},
	}
	for _, tc := range cases {
		if got := c.Classify(context.Background(), tc.message, nil).Severity; got != tc.want {
			t.Errorf("severity(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestClassifyMemoization(t *testing.T) {
	c := New(nil, 10)
	first := c.Classify(context.Background(), "Database connection timeout after 30s", nil)
	second := c.Classify(context.Background(), "Database connection timeout after 30s", nil)

	if first.ErrorType != second.ErrorType || first.Confidence != second.Confidence {
		t.Fatalf("memoized result differs: %+v vs %+v", first, second)
	}
	if c.memo.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", c.memo.Len())
	}
}

func TestClassifyManyPreservesOrder(t *testing.T) {
	c := New(nil, 10)
	entries := []models.LogEntry{
		{Message: "Database connection timeout after 30s"},
		{Message: "zzz"},
		{Message: "authentication failed for user admin"},
	}
	results := c.ClassifyMany(context.Background(), entries)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].ErrorType != "database_errors" {
		t.Errorf("results[0] = %q, want database_errors", results[0].ErrorType)
	}
	if results[1].ErrorType != "unknown" {
		t.Errorf("results[1] = %q, want unknown", results[1].ErrorType)
	}
	if results[2].ErrorType != "authentication_errors" {
		t.Errorf("results[2] = %q, want authentication_errors", results[2].ErrorType)
	}
}

type fixedSource struct {
	name   string
	result models.Classification
	err    error
}

func (s fixedSource) Name() string { return s.name }

func (s fixedSource) Classify(context.Context, string, map[string]string) (models.Classification, error) {
	return s.result, s.err
}

func TestCombineSecondarySource(t *testing.T) {
	secondary := fixedSource{
		name: "model",
		result: models.Classification{
			ErrorType:  "network_errors",
			Severity:   models.SeverityError,
			Confidence: 0.5,
			Components: []string{"service"},
		},
	}
	c := New(nil, 10, WithSource(secondary))
	result := c.Classify(context.Background(), "Database connection timeout after 30s", nil)

	// The rule-based source stays primary.
	if result.ErrorType != "database_errors" {
		t.Fatalf("error type = %q, want database_errors", result.ErrorType)
	}
	if result.Confidence != 0.75 {
		t.Fatalf("confidence = %v, want mean 0.75", result.Confidence)
	}

	hasService := false
	for _, component := range result.Components {
		if component == "service" {
			hasService = true
		}
	}
	if !hasService {
		t.Fatalf("components = %v, want service merged in", result.Components)
	}
}

func TestFailingSourceDegrades(t *testing.T) {
	failing := fixedSource{name: "broken", err: errors.New("backend unavailable")}
	c := New(nil, 10, WithSource(failing))
	result := c.Classify(context.Background(), "Database connection timeout after 30s", nil)

	if result.ErrorType != "database_errors" {
		t.Fatalf("error type = %q, want database_errors", result.ErrorType)
	}
}

func TestFallback(t *testing.T) {
	fb := Fallback()
	if fb.ErrorType != "unknown" || fb.Severity != models.SeverityUnknown || fb.Confidence != 0 {
		t.Fatalf("unexpected fallback: %+v", fb)
	}
	if len(fb.SuggestedActions) != 1 || fb.SuggestedActions[0] != "Manual investigation required" {
		t.Fatalf("unexpected fallback actions: %v", fb.SuggestedActions)
	}
}
