package patch

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/utils"
)

// Generator turns fix candidates into reversible patches. Every generated
// patch is persisted immediately: the forward diff, the inverse diff, and a
// metadata document that carries the full patch for later apply or rollback.
type Generator struct {
	logger    *slog.Logger
	outputDir string
	format    models.PatchFormat
}

// NewGenerator constructs a Generator writing into outputDir.
func NewGenerator(logger *slog.Logger, outputDir string, format models.PatchFormat) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	switch format {
	case models.FormatGit, models.FormatUnified, models.FormatContext:
	default:
		format = models.FormatGit
	}
	return &Generator{logger: logger, outputDir: outputDir, format: format}
}

// Generate resolves a fix candidate's code changes against targetDir and
// returns the resulting patch. A fix whose changes match no file yields
// (nil, nil): nothing to change is not an error.
func (g *Generator) Generate(ctx context.Context, fix models.FixCandidate, targetDir string) (*models.Patch, error) {
	const op = "patch.Generate"

	revisions, err := g.resolveRevisions(ctx, fix, targetDir)
	if err != nil {
		return nil, utils.NewAppError(op, "resolve code changes", err)
	}
	if len(revisions) == 0 {
		g.logger.Debug("fix matched no files, skipping patch",
			slog.String("fix", fix.Description), slog.String("target", targetDir))
		return nil, nil
	}

	now := time.Now().UTC()
	affected := make([]string, 0, len(revisions))
	for _, rev := range revisions {
		affected = append(affected, rev.Path)
	}

	p := &models.Patch{
		ID:             patchID(fix.Description, now),
		Description:    fix.Description,
		Format:         g.format,
		ForwardContent: renderDiff(revisions, g.format, false),
		AffectedFiles:  affected,
		Revisions:      revisions,
		CreatedAt:      now,
		Metadata: models.PatchMetadata{
			FixType:            fix.FixType,
			Confidence:         fix.Confidence,
			RiskLevel:          fix.RiskLevel,
			EstimatedImpact:    fix.EstimatedImpact,
			RollbackPossible:   fix.RollbackPossible,
			AffectedFilesCount: len(affected),
		},
	}
	if fix.RollbackPossible {
		p.InverseContent = renderDiff(revisions, g.format, true)
	}

	if err := g.persist(p); err != nil {
		return nil, utils.NewAppError(op, "persist patch", err)
	}

	g.logger.Info("patch generated",
		slog.String("patch_id", p.ID),
		slog.Int("files", len(affected)),
		slog.String("format", string(g.format)))
	return p, nil
}

// Load reads a previously persisted patch back from the output directory.
func (g *Generator) Load(patchID string) (*models.Patch, error) {
	data, err := os.ReadFile(filepath.Join(g.outputDir, patchID+"_metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("load patch %s: %w", patchID, err)
	}
	var p models.Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode patch %s: %w", patchID, err)
	}
	return &p, nil
}

// resolveRevisions walks targetDir and computes the before/after content of
// every file a change touches. Changes against the same file compose in
// order.
func (g *Generator) resolveRevisions(ctx context.Context, fix models.FixCandidate, targetDir string) ([]models.FileRevision, error) {
	type pending struct {
		before  string
		current string
	}
	touched := make(map[string]*pending)
	var order []string

	for _, change := range fix.CodeChanges {
		filePattern, err := regexp.Compile(change.FilePattern)
		if err != nil {
			g.logger.Warn("skipping change with invalid file pattern",
				slog.String("pattern", change.FilePattern), slog.Any("error", err))
			continue
		}
		searchPattern, err := regexp.Compile(change.SearchPattern)
		if err != nil {
			g.logger.Warn("skipping change with invalid search pattern",
				slog.String("pattern", change.SearchPattern), slog.Any("error", err))
			continue
		}

		err = filepath.WalkDir(targetDir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(targetDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if !filePattern.MatchString(rel) {
				return nil
			}

			entry, ok := touched[rel]
			if !ok {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				entry = &pending{before: string(data), current: string(data)}
			}
			if !searchPattern.MatchString(entry.current) {
				return nil
			}
			entry.current = searchPattern.ReplaceAllString(entry.current, change.ReplacePattern)
			if !ok {
				touched[rel] = entry
				order = append(order, rel)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	revisions := make([]models.FileRevision, 0, len(order))
	for _, rel := range order {
		entry := touched[rel]
		if entry.before == entry.current {
			continue
		}
		revisions = append(revisions, models.FileRevision{
			Path:   rel,
			Before: entry.before,
			After:  entry.current,
		})
	}
	return revisions, nil
}

func (g *Generator) persist(p *models.Patch) error {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(g.outputDir, p.ID+".patch"), []byte(p.ForwardContent), 0o644); err != nil {
		return err
	}
	if p.InverseContent != "" {
		if err := os.WriteFile(filepath.Join(g.outputDir, p.ID+"_rollback.patch"), []byte(p.InverseContent), 0o644); err != nil {
			return err
		}
	}
	meta, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.outputDir, p.ID+"_metadata.json"), meta, 0o644)
}

func patchID(description string, now time.Time) string {
	sum := md5.Sum([]byte(description))
	return fmt.Sprintf("patch_%x_%d", sum[:4], now.Unix())
}
