package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opsmend/opsmend/internal/models"
)

// template is one line-shape the plain-text parser recognises. Templates are
// tried in order; the first match wins.
type template struct {
	pattern *regexp.Regexp
	fields  []string
}

var templates = []template{
	// 2026-08-31 10:15:00,123 ERROR [worker] message
	{
		pattern: regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+(\w+)\s+\[([^\]]+)\]\s+(.*)$`),
		fields:  []string{"timestamp", "level", "source", "message"},
	},
	// 2026-08-31 10:15:00 ERROR message
	{
		pattern: regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+(\w+):?\s+(.*)$`),
		fields:  []string{"timestamp", "level", "message"},
	},
	// Aug 31 10:15:00 host daemon[123]: message
	{
		pattern: regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[]+)(?:\[\d+\])?:\s+(.*)$`),
		fields:  []string{"timestamp", "host", "source", "message"},
	},
	// 10.0.0.1 - - [31/Aug/2026:10:15:00 +0000] "GET /api/v1 HTTP/1.1" 500 123
	{
		pattern: regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) (\S+)[^"]*" (\d{3}) \S+`),
		fields:  []string{"remote_addr", "accesstime", "method", "path", "status"},
	},
	// ERROR: message
	{
		pattern: regexp.MustCompile(`^(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL):?\s+(.*)$`),
		fields:  []string{"level", "message"},
	},
}

const accessLogLayout = "02/Jan/2006:15:04:05 -0700"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05,000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.Stamp,
}

// Parse turns a raw log line into a LogEntry. JSON lines are decoded
// structurally; plain-text lines are matched against the known templates;
// anything else becomes a bare message. Parse never fails.
func Parse(line, source string) models.LogEntry {
	line = strings.TrimRight(line, "\r\n")
	entry := models.LogEntry{
		Timestamp: time.Now().UTC(),
		Message:   line,
		Source:    source,
		RawLine:   line,
	}
	if line == "" {
		return entry
	}

	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		if parseJSON(line, &entry) {
			return entry
		}
	}

	for _, tmpl := range templates {
		match := tmpl.pattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		setField := func(key, value string) {
			if entry.Fields == nil {
				entry.Fields = make(map[string]string)
			}
			entry.Fields[key] = value
		}
		for i, field := range tmpl.fields {
			value := match[i+1]
			switch field {
			case "timestamp":
				if ts, ok := parseTimestamp(value); ok {
					entry.Timestamp = ts
				}
			case "accesstime":
				if ts, err := time.Parse(accessLogLayout, value); err == nil {
					entry.Timestamp = ts.UTC()
				}
			case "level":
				entry.Level = normalizeLevel(value)
			case "message":
				entry.Message = value
			case "source":
				entry.Source = strings.TrimSpace(value)
			case "status":
				setField("status", value)
				entry.Level = levelForStatus(value)
			default:
				setField(field, value)
			}
		}
		// Access-log lines have no freestanding message; build one from
		// the request.
		if entry.Fields["method"] != "" {
			entry.Message = fmt.Sprintf("%s %s returned %s",
				entry.Fields["method"], entry.Fields["path"], entry.Fields["status"])
		}
		return entry
	}
	return entry
}

func levelForStatus(status string) string {
	switch {
	case strings.HasPrefix(status, "5"):
		return "ERROR"
	case strings.HasPrefix(status, "4"):
		return "WARN"
	default:
		return "INFO"
	}
}

func parseJSON(line string, entry *models.LogEntry) bool {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return false
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		str := fmt.Sprintf("%v", value)
		switch strings.ToLower(key) {
		case "timestamp", "time", "ts", "@timestamp":
			if ts, ok := parseTimestamp(str); ok {
				entry.Timestamp = ts
				continue
			}
		case "level", "severity", "lvl":
			entry.Level = normalizeLevel(str)
			continue
		case "message", "msg":
			entry.Message = str
			continue
		case "source", "logger", "component":
			if entry.Source == "" {
				entry.Source = str
			}
			continue
		}
		fields[key] = str
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	return entry.Message != ""
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			// Syslog timestamps carry no year; assume the current one.
			if ts.Year() == 0 {
				now := time.Now()
				ts = ts.AddDate(now.Year(), 0, 0)
			}
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizeLevel(value string) string {
	upper := strings.ToUpper(strings.TrimSpace(value))
	switch upper {
	case "WARNING":
		return "WARN"
	case "CRITICAL":
		return "FATAL"
	}
	return upper
}
