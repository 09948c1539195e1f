package parser

import (
	"testing"
	"time"
)

func TestParseJSONLine(t *testing.T) {
	line := `{"timestamp":"2026-08-31T10:15:00Z","level":"error","message":"Database connection timeout after 30s","logger":"db","request_id":"abc123"}`
	entry := Parse(line, "app.log")

	if entry.Message != "Database connection timeout after 30s" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Level != "ERROR" {
		t.Fatalf("level = %q, want ERROR", entry.Level)
	}
	if entry.Source != "db" {
		t.Fatalf("source = %q, want db", entry.Source)
	}
	want := time.Date(2026, 8, 31, 10, 15, 0, 0, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, want)
	}
	if entry.Fields["request_id"] != "abc123" {
		t.Fatalf("fields = %v", entry.Fields)
	}
}

func TestParseBracketedLine(t *testing.T) {
	entry := Parse("2026-08-31 10:15:00 ERROR [worker-3] Database connection timeout after 30s", "app.log")

	if entry.Message != "Database connection timeout after 30s" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Level != "ERROR" {
		t.Fatalf("level = %q", entry.Level)
	}
	if entry.Source != "worker-3" {
		t.Fatalf("source = %q", entry.Source)
	}
	want := time.Date(2026, 8, 31, 10, 15, 0, 0, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, want)
	}
}

func TestParsePlainTimestampLine(t *testing.T) {
	entry := Parse("2026-08-31T10:15:00 WARN connection pool nearly exhausted", "app.log")

	if entry.Level != "WARN" {
		t.Fatalf("level = %q", entry.Level)
	}
	if entry.Message != "connection pool nearly exhausted" {
		t.Fatalf("message = %q", entry.Message)
	}
}

func TestParseLevelPrefixLine(t *testing.T) {
	entry := Parse("ERROR: token expired for session 42", "auth.log")

	if entry.Level != "ERROR" {
		t.Fatalf("level = %q", entry.Level)
	}
	if entry.Message != "token expired for session 42" {
		t.Fatalf("message = %q", entry.Message)
	}
}

func TestParseSyslogLine(t *testing.T) {
	entry := Parse("Aug 31 10:15:00 web01 nginx[1234]: upstream connection refused", "syslog")

	if entry.Message != "upstream connection refused" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Source != "nginx" {
		t.Fatalf("source = %q", entry.Source)
	}
	if entry.Fields["host"] != "web01" {
		t.Fatalf("fields = %v", entry.Fields)
	}
}

func TestParseAccessLogLine(t *testing.T) {
	entry := Parse(`10.0.0.1 - - [31/Aug/2026:10:15:00 +0000] "GET /api/v1/orders HTTP/1.1" 502 17`, "access.log")

	if entry.Message != "GET /api/v1/orders returned 502" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Level != "ERROR" {
		t.Fatalf("level = %q, want ERROR for 5xx", entry.Level)
	}
	if entry.Fields["remote_addr"] != "10.0.0.1" {
		t.Fatalf("fields = %v", entry.Fields)
	}
	want := time.Date(2026, 8, 31, 10, 15, 0, 0, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, want)
	}
}

func TestParseUnstructuredLine(t *testing.T) {
	entry := Parse("something odd happened here", "app.log")

	if entry.Message != "something odd happened here" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.RawLine != "something odd happened here" {
		t.Fatalf("raw = %q", entry.RawLine)
	}
	if entry.Timestamp.IsZero() {
		t.Fatal("fallback entries still get a timestamp")
	}
}

func TestParseNormalizesLevels(t *testing.T) {
	if got := Parse("WARNING: low disk", "x").Level; got != "WARN" {
		t.Errorf("WARNING normalized to %q, want WARN", got)
	}
	if got := Parse("CRITICAL: meltdown", "x").Level; got != "FATAL" {
		t.Errorf("CRITICAL normalized to %q, want FATAL", got)
	}
}
