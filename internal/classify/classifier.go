package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/opsmend/opsmend/internal/cache"
	"github.com/opsmend/opsmend/internal/models"
)

// Source is a pluggable classification backend. The rule-based source is
// always first; additional sources (an ML model, an external service)
// contribute secondary opinions that are combined with the primary result.
type Source interface {
	Name() string
	Classify(ctx context.Context, message string, structured map[string]string) (models.Classification, error)
}

// Classifier turns raw log messages into classifications. Classify never
// returns an error: internal failures degrade to the unknown fallback.
type Classifier struct {
	logger  *slog.Logger
	sources []Source
	memo    cache.Provider
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSource registers an additional classification source after the
// rule-based one.
func WithSource(src Source) Option {
	return func(c *Classifier) {
		if src != nil {
			c.sources = append(c.sources, src)
		}
	}
}

// WithCache replaces the memoization cache; pass cache.NoopProvider{} to
// disable memoization.
func WithCache(provider cache.Provider) Option {
	return func(c *Classifier) {
		if provider != nil {
			c.memo = provider
		}
	}
}

// New constructs a Classifier with the rule-based source and an LRU
// memoization cache of the given capacity.
func New(logger *slog.Logger, cacheSize int, opts ...Option) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	memo, err := cache.NewLRUProvider(cacheSize)
	var provider cache.Provider = memo
	if err != nil {
		logger.Warn("classification cache disabled", slog.Any("error", err))
		provider = cache.NoopProvider{}
	}

	c := &Classifier{
		logger:  logger,
		sources: []Source{ruleSource{}},
		memo:    provider,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify produces a classification for one message. It never fails
// outward; any internal error yields the fallback classification.
func (c *Classifier) Classify(ctx context.Context, message string, structured map[string]string) models.Classification {
	key := memoKey(message)
	if data, err := c.memo.Get(key); err == nil {
		var cached models.Classification
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached
		}
		_ = c.memo.Del(key)
	}

	result := c.classify(ctx, message, structured)
	result.Confidence = clamp01(result.Confidence)

	if data, err := json.Marshal(result); err == nil {
		_ = c.memo.Set(key, data)
	}
	return result
}

// ClassifyMany classifies a batch concurrently. Result order matches input
// order; items are independent.
func (c *Classifier) ClassifyMany(ctx context.Context, entries []models.LogEntry) []models.Classification {
	results := make([]models.Classification, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry models.LogEntry) {
			defer wg.Done()
			results[i] = c.Classify(ctx, entry.Message, entry.Fields)
		}(i, entry)
	}
	wg.Wait()
	return results
}

func (c *Classifier) classify(ctx context.Context, message string, structured map[string]string) models.Classification {
	var opinions []models.Classification
	for _, src := range c.sources {
		opinion, err := src.Classify(ctx, message, structured)
		if err != nil {
			c.logger.Warn("classification source failed",
				slog.String("source", src.Name()), slog.Any("error", err))
			continue
		}
		opinions = append(opinions, opinion)
	}
	return combine(opinions)
}

// combine merges source opinions. The first source wins the primary fields;
// components and actions are unioned; confidence is the arithmetic mean.
func combine(opinions []models.Classification) models.Classification {
	if len(opinions) == 0 {
		return Fallback()
	}
	if len(opinions) == 1 {
		return opinions[0]
	}

	primary := opinions[0]

	components := primary.Components
	actions := primary.SuggestedActions
	sum := 0.0
	for i, opinion := range opinions {
		sum += opinion.Confidence
		if i == 0 {
			continue
		}
		components = unionStrings(components, opinion.Components)
		actions = unionStrings(actions, opinion.SuggestedActions)
	}

	return models.Classification{
		ErrorType:        primary.ErrorType,
		Severity:         primary.Severity,
		Confidence:       clamp01(sum / float64(len(opinions))),
		Components:       components,
		SuggestedActions: actions,
		RootCause:        primary.RootCause,
		AffectedSystems:  primary.AffectedSystems,
		RulesApplied:     primary.RulesApplied,
	}
}

// Fallback is the degraded classification returned when nothing can be
// determined.
func Fallback() models.Classification {
	return models.Classification{
		ErrorType:        "unknown",
		Severity:         models.SeverityUnknown,
		Confidence:       0.0,
		SuggestedActions: []string{"Manual investigation required"},
	}
}

// ruleSource is the built-in rule-based classification source.
type ruleSource struct{}

func (ruleSource) Name() string { return "rules" }

func (ruleSource) Classify(_ context.Context, message string, _ map[string]string) (models.Classification, error) {
	errorTypes := classifyTypes(message)
	primary := errorTypes[0]
	severity := determineSeverity(message)
	components := extractComponents(message)
	actions := suggestActions(message)

	return models.Classification{
		ErrorType:        primary,
		Severity:         severity,
		Confidence:       ruleConfidence(errorTypes, message, components, actions),
		Components:       components,
		SuggestedActions: actions,
		RootCause:        determineRootCause(message, errorTypes),
		AffectedSystems:  determineAffectedSystems(message, components),
		RulesApplied:     appliedRules(errorTypes, severity, components),
	}, nil
}

// ruleConfidence is an additive score: type match, message length, component
// detection, action suggestions, and a specificity bonus when exactly one
// type matched.
func ruleConfidence(errorTypes []string, message string, components, actions []string) float64 {
	confidence := 0.0
	if len(errorTypes) > 0 && errorTypes[0] != "unknown" {
		confidence += 0.3
	}
	if len(message) > 10 {
		confidence += 0.1
	}
	if len(components) > 0 {
		confidence += 0.2
	}
	if len(actions) > 0 {
		confidence += 0.2
	}
	if len(errorTypes) == 1 && errorTypes[0] != "unknown" {
		confidence += 0.2
	}
	return clamp01(confidence)
}

func memoKey(message string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(message))
	return fmt.Sprintf("%x", h.Sum64())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unionStrings(existing []string, additions []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range additions {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}
