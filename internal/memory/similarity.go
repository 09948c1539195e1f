package memory

import (
	"regexp"
	"strings"

	"github.com/opsmend/opsmend/internal/models"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases a message and splits it into alphanumeric tokens.
func tokenize(message string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(message), -1) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// jaccard computes set overlap between two token sets. Two empty sets are
// treated as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// similarity scores two incidents: error type agreement weighs 0.4, severity
// agreement 0.3, and message token overlap 0.3.
func similarity(a, b *models.Incident) float64 {
	score := 0.0
	if a.Classification.ErrorType == b.Classification.ErrorType {
		score += 0.4
	}
	if a.Classification.Severity == b.Classification.Severity {
		score += 0.3
	}
	score += 0.3 * jaccard(tokenize(a.LogEntry.Message), tokenize(b.LogEntry.Message))
	return score
}
