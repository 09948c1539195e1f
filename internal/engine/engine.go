package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsmend/opsmend/internal/analyzer"
	"github.com/opsmend/opsmend/internal/classify"
	"github.com/opsmend/opsmend/internal/fixes"
	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/metrics"
	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/parser"
	"github.com/opsmend/opsmend/internal/patch"
	"github.com/opsmend/opsmend/internal/utils"
)

// TriageResult is the outcome of pushing one log entry through the pipeline.
type TriageResult struct {
	IncidentID     string                `json:"incident_id"`
	Classification models.Classification `json:"classification"`
	Fixes          []models.FixCandidate `json:"fixes"`
	Patches        []models.PatchSummary `json:"patches"`
	Duration       time.Duration         `json:"duration"`
}

// Engine wires the triage stages together: classify, gather codebase
// context, rank fixes, generate a patch for the top candidate, and record
// the incident.
type Engine struct {
	logger     *slog.Logger
	classifier *classify.Classifier
	analyzer   *analyzer.Analyzer
	fixEngine  *fixes.Engine
	generator  *patch.Generator
	store      *memory.Store
	targetDir  string
}

// New constructs an Engine. targetDir is the tree patches are generated
// against; an empty targetDir disables patch generation.
func New(
	logger *slog.Logger,
	classifier *classify.Classifier,
	contextAnalyzer *analyzer.Analyzer,
	fixEngine *fixes.Engine,
	generator *patch.Generator,
	store *memory.Store,
	targetDir string,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:     logger,
		classifier: classifier,
		analyzer:   contextAnalyzer,
		fixEngine:  fixEngine,
		generator:  generator,
		store:      store,
		targetDir:  targetDir,
	}
}

// Triage runs one log entry through the full pipeline and returns the
// recorded incident id with everything derived along the way.
func (e *Engine) Triage(ctx context.Context, entry models.LogEntry) (*TriageResult, error) {
	const op = "engine.Triage"
	started := time.Now()

	classification := e.classifier.Classify(ctx, entry.Message, entry.Fields)
	metrics.ObserveClassification(classification.ErrorType)

	var summary *models.ContextSummary
	if e.analyzer != nil {
		summary = e.analyzer.Context(ctx, classification)
	}

	candidates := e.fixEngine.GenerateFixes(ctx, classification, summary)

	var patches []models.PatchSummary
	if e.targetDir != "" && e.generator != nil {
		if generated := e.generatePatch(ctx, candidates); generated != nil {
			patches = append(patches, models.PatchSummary{
				ID:            generated.ID,
				Description:   generated.Description,
				Format:        generated.Format,
				AffectedFiles: generated.AffectedFiles,
			})
		}
	}

	incidentID, err := e.store.Store(entry, classification, candidates, patches)
	if err != nil {
		metrics.ObserveTriage(time.Since(started), metrics.OutcomeError)
		return nil, utils.NewAppError(op, "record incident", err)
	}

	duration := time.Since(started)
	metrics.ObserveTriage(duration, metrics.OutcomeSuccess)

	e.logger.Info("log entry triaged",
		slog.String("incident_id", incidentID),
		slog.String("error_type", classification.ErrorType),
		slog.String("severity", string(classification.Severity)),
		slog.Int("fixes", len(candidates)),
		slog.Int("patches", len(patches)))

	return &TriageResult{
		IncidentID:     incidentID,
		Classification: classification,
		Fixes:          candidates,
		Patches:        patches,
		Duration:       duration,
	}, nil
}

// TriageLine parses a raw log line and triages the result.
func (e *Engine) TriageLine(ctx context.Context, line, source string) (*TriageResult, error) {
	return e.Triage(ctx, parser.Parse(line, source))
}

// TriageMany triages a batch concurrently. Result order matches input order;
// a failed entry leaves a nil slot rather than aborting the batch.
func (e *Engine) TriageMany(ctx context.Context, entries []models.LogEntry) []*TriageResult {
	results := make([]*TriageResult, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry models.LogEntry) {
			defer wg.Done()
			result, err := e.Triage(ctx, entry)
			if err != nil {
				e.logger.Error("triage failed",
					slog.String("message", entry.Message), slog.Any("error", err))
				return
			}
			results[i] = result
		}(i, entry)
	}
	wg.Wait()
	return results
}

// Run consumes entries until the channel closes or ctx is cancelled. Triage
// failures are logged and skipped so one bad entry never stalls the stream.
func (e *Engine) Run(ctx context.Context, entries <-chan models.LogEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if _, err := e.Triage(ctx, entry); err != nil {
				e.logger.Error("triage failed",
					slog.String("message", entry.Message), slog.Any("error", err))
			}
		}
	}
}

// generatePatch produces a patch for the highest-ranked candidate that
// carries code changes. Generation failures are logged, not fatal.
func (e *Engine) generatePatch(ctx context.Context, candidates []models.FixCandidate) *models.Patch {
	for _, candidate := range candidates {
		if len(candidate.CodeChanges) == 0 {
			continue
		}
		generated, err := e.generator.Generate(ctx, candidate, e.targetDir)
		if err != nil {
			e.logger.Warn("patch generation failed",
				slog.String("fix", candidate.Description), slog.Any("error", err))
			return nil
		}
		return generated
	}
	return nil
}
