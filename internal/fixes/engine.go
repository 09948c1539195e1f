package fixes

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/opsmend/opsmend/internal/cache"
	"github.com/opsmend/opsmend/internal/models"
)

// Engine ranks fix candidates for a classification against optional codebase
// context. GenerateFixes never fails outward; rules that cannot be evaluated
// are skipped.
type Engine struct {
	logger   *slog.Logger
	registry *Registry
	memo     cache.Provider
}

// New constructs an Engine over the given registry with an LRU result cache
// of the given capacity.
func New(logger *slog.Logger, registry *Registry, cacheSize int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}

	var provider cache.Provider
	memo, err := cache.NewLRUProvider(cacheSize)
	if err != nil {
		logger.Warn("fix cache disabled", slog.Any("error", err))
		provider = cache.NoopProvider{}
	} else {
		provider = memo
	}

	return &Engine{logger: logger, registry: registry, memo: provider}
}

// GenerateFixes returns fix candidates ordered by confidence descending,
// then risk ascending. For CRITICAL classifications only LOW and MEDIUM risk
// rules survive, and rules the context summary does not corroborate are
// dropped.
func (e *Engine) GenerateFixes(ctx context.Context, classification models.Classification, summary *models.ContextSummary) []models.FixCandidate {
	key := fixMemoKey(classification, summary)
	if data, err := e.memo.Get(key); err == nil {
		var cached []models.FixCandidate
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached
		}
		_ = e.memo.Del(key)
	}

	candidates := e.evaluate(ctx, classification, summary)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].RiskLevel.Score() < candidates[j].RiskLevel.Score()
	})

	if data, err := json.Marshal(candidates); err == nil {
		_ = e.memo.Set(key, data)
	}
	return candidates
}

// GenerateFixesMany evaluates a batch concurrently. Result order matches
// input order.
func (e *Engine) GenerateFixesMany(ctx context.Context, classifications []models.Classification, summary *models.ContextSummary) [][]models.FixCandidate {
	results := make([][]models.FixCandidate, len(classifications))
	var wg sync.WaitGroup
	for i, classification := range classifications {
		wg.Add(1)
		go func(i int, classification models.Classification) {
			defer wg.Done()
			results[i] = e.GenerateFixes(ctx, classification, summary)
		}(i, classification)
	}
	wg.Wait()
	return results
}

func (e *Engine) evaluate(ctx context.Context, classification models.Classification, summary *models.ContextSummary) []models.FixCandidate {
	rules := e.registry.RulesFor(classification.ErrorType, classification.Components)

	candidates := make([]models.FixCandidate, 0, len(rules))
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		if classification.Severity == models.SeverityCritical &&
			rule.RiskLevel != models.RiskLow && rule.RiskLevel != models.RiskMedium {
			continue
		}

		// A rule must be corroborated by the codebase context: its pattern
		// hits at least one snippet, or its description mentions a detected
		// common pattern. With no context provider wired (nil summary) rules
		// stand on their declared confidence alone.
		snippetHits := snippetMatches(rule, summary)
		if summary != nil && snippetHits == 0 && !descriptionMatches(rule, summary) {
			continue
		}

		confidence := rule.Confidence + 0.1*float64(snippetHits)
		if confidence > 1 {
			confidence = 1
		}

		candidates = append(candidates, models.FixCandidate{
			FixType:          rule.FixType,
			Description:      rule.Description,
			CodeChanges:      append([]models.CodeChange(nil), rule.Changes...),
			Confidence:       confidence,
			RiskLevel:        rule.RiskLevel,
			RollbackPossible: rule.RollbackPossible,
			EstimatedImpact:  estimateImpact(rule, summary),
		})
	}
	return candidates
}

// snippetMatches counts the codebase snippets a rule's pattern hits. Only
// snippet matches feed the confidence bonus.
func snippetMatches(rule Rule, summary *models.ContextSummary) int {
	if summary == nil || rule.Pattern == nil {
		return 0
	}
	matches := 0
	for _, snippet := range summary.Snippets {
		if rule.Pattern.MatchString(snippet.Snippet) {
			matches++
		}
	}
	return matches
}

// descriptionMatches reports whether any detected common-pattern key occurs
// in the rule's description.
func descriptionMatches(rule Rule, summary *models.ContextSummary) bool {
	description := strings.ToLower(rule.Description)
	for key := range summary.CommonPatterns {
		if key != "" && strings.Contains(description, strings.ToLower(key)) {
			return true
		}
	}
	return false
}

// estimateImpact grades blast radius by the number of distinct context files
// the rule's changes would touch.
func estimateImpact(rule Rule, summary *models.ContextSummary) models.Impact {
	if summary == nil {
		return models.ImpactLow
	}

	touched := make(map[string]struct{})
	for _, change := range rule.Changes {
		filePattern, err := regexp.Compile(change.FilePattern)
		if err != nil {
			continue
		}
		for _, snippet := range summary.Snippets {
			if filePattern.MatchString(snippet.FilePath) {
				touched[snippet.FilePath] = struct{}{}
			}
		}
	}

	switch {
	case len(touched) > 10:
		return models.ImpactHigh
	case len(touched) > 3:
		return models.ImpactMedium
	default:
		return models.ImpactLow
	}
}

func fixMemoKey(classification models.Classification, summary *models.ContextSummary) string {
	// -1 marks "no context provider"; an empty summary gates differently
	// from a nil one and must not share a cache slot.
	snippets, patterns := -1, -1
	if summary != nil {
		snippets = len(summary.Snippets)
		patterns = len(summary.CommonPatterns)
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%v|%d|%d",
		classification.ErrorType, classification.Severity, classification.Components, snippets, patterns)
	return fmt.Sprintf("%x", h.Sum64())
}
