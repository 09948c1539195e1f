package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opsmend/opsmend/internal/models"
)

// taxonomyEntry groups the detection patterns for one error type. Entry
// order is significant: the first matching entry becomes the primary type.
type taxonomyEntry struct {
	errorType string
	patterns  []*regexp.Regexp
}

var taxonomy = []taxonomyEntry{
	{
		errorType: "database_errors",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(connection.*timeout|database.*unavailable|deadlock|constraint.*violation)`),
			regexp.MustCompile(`(?i)(mysql|postgres|mongodb).*error`),
			regexp.MustCompile(`(?i)(sql.*syntax|query.*failed)`),
		},
	},
	{
		errorType: "network_errors",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(connection.*refused|network.*timeout|network.*unreachable)`),
			regexp.MustCompile(`(?i)(dns.*error|host.*not.*found)`),
			regexp.MustCompile(`(?i)(ssl.*error|certificate.*error)`),
		},
	},
	{
		errorType: "application_errors",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(null.*pointer|segmentation.*fault|out.*of.*memory)`),
			regexp.MustCompile(`(?i)(permission.*denied|access.*denied)`),
			regexp.MustCompile(`(?i)(file.*not.*found|directory.*not.*found)`),
		},
	},
	{
		errorType: "authentication_errors",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(invalid.*credentials|authentication.*failed)`),
			regexp.MustCompile(`(?i)(unauthorized|forbidden)`),
			regexp.MustCompile(`(?i)(session.*expired|token.*expired)`),
		},
	},
	{
		errorType: "system_errors",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(disk.*full|out.*of.*space)`),
			regexp.MustCompile(`(?i)(memory.*leak|cpu.*overload)`),
			regexp.MustCompile(`(?i)(service.*unavailable|system.*down)`),
		},
	},
}

var (
	criticalKeywords = []string{"fatal", "critical", "crash", "down", "unavailable"}
	warningKeywords  = []string{"warn", "timeout", "retry"}
	infoKeywords     = []string{"info", "debug", "trace"}
)

type labelPattern struct {
	pattern *regexp.Regexp
	label   string
}

var componentPatterns = []labelPattern{
	{regexp.MustCompile(`(database|db)`), "database"},
	{regexp.MustCompile(`(api|service|endpoint)`), "service"},
	{regexp.MustCompile(`(user|account|auth)`), "authentication"},
	{regexp.MustCompile(`(file|disk|storage)`), "storage"},
	{regexp.MustCompile(`(network|connection|socket)`), "network"},
	{regexp.MustCompile(`(memory|cpu|ram)`), "system"},
	{regexp.MustCompile(`(queue|message|event)`), "messaging"},
	{regexp.MustCompile(`(cache|redis|memcached)`), "cache"},
}

var systemPatterns = []labelPattern{
	{regexp.MustCompile(`(api|rest|graphql)`), "API Gateway"},
	{regexp.MustCompile(`(database|db|mysql|postgres|mongodb)`), "Database System"},
	{regexp.MustCompile(`(cache|redis|memcached)`), "Caching System"},
	{regexp.MustCompile(`(queue|kafka|rabbitmq)`), "Message Queue"},
	{regexp.MustCompile(`(storage|s3|filesystem)`), "Storage System"},
	{regexp.MustCompile(`(auth|oauth|jwt)`), "Authentication System"},
	{regexp.MustCompile(`(monitoring|metrics|prometheus)`), "Monitoring System"},
	{regexp.MustCompile(`(load.*balancer|nginx|haproxy)`), "Load Balancer"},
}

type rootCauseEntry struct {
	pattern *regexp.Regexp
	cause   string
}

var rootCausePatterns = map[string][]rootCauseEntry{
	"database_errors": {
		{regexp.MustCompile(`(?i)connection.*timeout`), "Database connection timeout"},
		{regexp.MustCompile(`(?i)deadlock`), "Database deadlock detected"},
		{regexp.MustCompile(`(?i)constraint.*violation`), "Database constraint violation"},
		{regexp.MustCompile(`(?i)query.*failed`), "SQL query execution failed"},
	},
	"network_errors": {
		{regexp.MustCompile(`(?i)connection.*refused`), "Service connection refused"},
		{regexp.MustCompile(`(?i)timeout`), "Network timeout"},
		{regexp.MustCompile(`(?i)host.*not.*found`), "DNS resolution failed"},
		{regexp.MustCompile(`(?i)ssl.*error`), "SSL/TLS handshake failed"},
	},
	"application_errors": {
		{regexp.MustCompile(`(?i)null.*pointer`), "Null pointer dereference"},
		{regexp.MustCompile(`(?i)segmentation.*fault`), "Memory access violation"},
		{regexp.MustCompile(`(?i)out.*of.*memory`), "Memory exhaustion"},
		{regexp.MustCompile(`(?i)permission.*denied`), "File system permission denied"},
	},
}

// classifyTypes returns every taxonomy type the message matches, in taxonomy
// order. Messages matching nothing classify as unknown.
func classifyTypes(message string) []string {
	var matched []string
	for _, entry := range taxonomy {
		for _, pattern := range entry.patterns {
			if pattern.MatchString(message) {
				matched = append(matched, entry.errorType)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{"unknown"}
	}
	return matched
}

// determineSeverity maps keyword tiers onto a severity, defaulting to ERROR.
func determineSeverity(message string) models.Severity {
	lower := strings.ToLower(message)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return models.SeverityCritical
		}
	}
	for _, kw := range warningKeywords {
		if strings.Contains(lower, kw) {
			return models.SeverityWarning
		}
	}
	for _, kw := range infoKeywords {
		if strings.Contains(lower, kw) {
			return models.SeverityInfo
		}
	}
	return models.SeverityError
}

func extractComponents(message string) []string {
	lower := strings.ToLower(message)
	var components []string
	for _, entry := range componentPatterns {
		if entry.pattern.MatchString(lower) {
			components = append(components, entry.label)
		}
	}
	return components
}

func determineAffectedSystems(message string, components []string) []string {
	seen := make(map[string]struct{}, len(components))
	systems := make([]string, 0, len(components))
	for _, c := range components {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		systems = append(systems, c)
	}

	lower := strings.ToLower(message)
	var extra []string
	for _, entry := range systemPatterns {
		if entry.pattern.MatchString(lower) {
			if _, ok := seen[entry.label]; !ok {
				seen[entry.label] = struct{}{}
				extra = append(extra, entry.label)
			}
		}
	}
	sort.Strings(extra)
	return append(systems, extra...)
}

func suggestActions(message string) []string {
	lower := strings.ToLower(message)
	var actions []string

	if strings.Contains(lower, "timeout") {
		actions = append(actions,
			"Check network connectivity",
			"Increase timeout settings",
			"Monitor resource usage")
	}
	if strings.Contains(lower, "connection") {
		actions = append(actions,
			"Verify service availability",
			"Check connection configuration",
			"Review firewall settings")
	}
	if strings.Contains(lower, "database") {
		actions = append(actions,
			"Check database connectivity",
			"Verify database permissions",
			"Review query performance")
	}
	if strings.Contains(lower, "authentication") || strings.Contains(lower, "auth") {
		actions = append(actions,
			"Verify credentials",
			"Check authentication service",
			"Review session configuration")
	}
	return actions
}

func determineRootCause(message string, errorTypes []string) string {
	for _, errorType := range errorTypes {
		for _, entry := range rootCausePatterns[errorType] {
			if entry.pattern.MatchString(message) {
				return entry.cause
			}
		}
	}
	return ""
}

// appliedRules builds the human-readable audit trail for a rule-based pass.
func appliedRules(errorTypes []string, severity models.Severity, components []string) []string {
	rules := make([]string, 0, len(errorTypes)+2)
	for _, errorType := range errorTypes {
		rules = append(rules, fmt.Sprintf("Error type detected: %s", errorType))
	}
	rules = append(rules, fmt.Sprintf("Severity determined: %s", severity))
	if len(components) > 0 {
		rules = append(rules, fmt.Sprintf("Components detected: %s", strings.Join(components, ", ")))
	}
	return rules
}
