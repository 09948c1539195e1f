package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opsmend/opsmend/internal/cache"
	"github.com/opsmend/opsmend/internal/models"
)

// keywordsByType maps an error type onto the source keywords worth locating
// before proposing fixes for it.
var keywordsByType = map[string][]string{
	"database_errors":       {"connect", "query", "transaction", "pool", "timeout"},
	"network_errors":        {"dial", "http", "request", "retry", "timeout"},
	"application_errors":    {"nil", "panic", "recover", "index", "len("},
	"authentication_errors": {"token", "auth", "session", "credential"},
	"system_errors":         {"alloc", "buffer", "close", "defer", "free"},
}

const snippetContext = 3

// Analyzer locates code relevant to a classification: snippets around
// keyword hits plus counts of how often each keyword recurs. Results are
// memoized per error type and component set.
type Analyzer struct {
	logger     *slog.Logger
	sourceDirs []string
	extensions map[string]struct{}
	maxFiles   int
	memo       cache.Provider
}

// New constructs an Analyzer over the given source directories.
func New(logger *slog.Logger, sourceDirs, fileExtensions []string, maxFiles, cacheSize int) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFiles <= 0 {
		maxFiles = 200
	}
	extensions := make(map[string]struct{}, len(fileExtensions))
	for _, ext := range fileExtensions {
		extensions[ext] = struct{}{}
	}

	var provider cache.Provider
	memo, err := cache.NewLRUProvider(cacheSize)
	if err != nil {
		logger.Warn("analyzer cache disabled", slog.Any("error", err))
		provider = cache.NoopProvider{}
	} else {
		provider = memo
	}

	return &Analyzer{
		logger:     logger,
		sourceDirs: sourceDirs,
		extensions: extensions,
		maxFiles:   maxFiles,
		memo:       provider,
	}
}

// Context scans the configured source trees for code relevant to the
// classification. Missing directories are skipped; a scan that finds nothing
// returns an empty summary, never nil.
func (a *Analyzer) Context(ctx context.Context, classification models.Classification) *models.ContextSummary {
	key := contextMemoKey(classification)
	if data, err := a.memo.Get(key); err == nil {
		var cached models.ContextSummary
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached
		}
		_ = a.memo.Del(key)
	}

	summary := a.scan(ctx, keywordsFor(classification))

	if data, err := json.Marshal(summary); err == nil {
		_ = a.memo.Set(key, data)
	}
	return summary
}

func (a *Analyzer) scan(ctx context.Context, keywords []string) *models.ContextSummary {
	summary := &models.ContextSummary{CommonPatterns: make(map[string]int)}
	if len(keywords) == 0 {
		return summary
	}

	scanned := 0
	for _, dir := range a.sourceDirs {
		if scanned >= a.maxFiles {
			break
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if d == nil {
					return filepath.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if name := d.Name(); name == ".git" || name == "vendor" || name == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := a.extensions[filepath.Ext(path)]; !ok {
				return nil
			}
			if scanned >= a.maxFiles {
				return filepath.SkipAll
			}
			scanned++
			a.scanFile(path, keywords, summary)
			return nil
		})
		if err != nil && err != filepath.SkipAll {
			a.logger.Debug("source scan aborted", slog.String("dir", dir), slog.Any("error", err))
		}
	}
	return summary
}

// scanFile collects a context snippet for the first hit of each keyword in
// the file and counts every hit toward the common-pattern tally.
func (a *Analyzer) scanFile(path string, keywords []string, summary *models.ContextSummary) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	snippeted := make(map[string]bool, len(keywords))
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, keyword := range keywords {
			if !strings.Contains(lower, keyword) {
				continue
			}
			summary.CommonPatterns[keyword]++
			if snippeted[keyword] {
				continue
			}
			snippeted[keyword] = true

			start := i - snippetContext
			if start < 0 {
				start = 0
			}
			end := i + snippetContext + 1
			if end > len(lines) {
				end = len(lines)
			}
			summary.Snippets = append(summary.Snippets, models.CodeSnippet{
				FilePath:   filepath.ToSlash(path),
				LineNumber: i + 1,
				Snippet:    strings.Join(lines[start:end], "\n"),
			})
		}
	}
}

func keywordsFor(classification models.Classification) []string {
	keywords := append([]string(nil), keywordsByType[classification.ErrorType]...)
	for _, component := range classification.Components {
		keywords = append(keywords, strings.ToLower(component))
	}
	return keywords
}

func contextMemoKey(classification models.Classification) string {
	return fmt.Sprintf("%s|%s", classification.ErrorType, strings.Join(classification.Components, ","))
}
