package fixes

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/opsmend/opsmend/internal/models"
)

// Rule is one entry in the typed fix registry. Pattern is matched against
// codebase-context snippets to decide whether the rule applies.
type Rule struct {
	Name             string
	Pattern          *regexp.Regexp
	FixType          models.FixType
	Description      string
	Changes          []models.CodeChange
	Confidence       float64
	RiskLevel        models.RiskLevel
	RollbackPossible bool
}

// Registry holds fix rules keyed by error type (or "errorType_component").
// Registration order within a key is preserved and breaks ranking ties.
type Registry struct {
	rules map[string][]Rule
}

// NewRegistry returns a registry preloaded with the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string][]Rule)}
	for key, rules := range builtinRules() {
		r.rules[key] = append(r.rules[key], rules...)
	}
	return r
}

// Register appends a rule under the given error-type key.
func (r *Registry) Register(errorType string, rule Rule) {
	r.rules[errorType] = append(r.rules[errorType], rule)
}

// RulesFor returns candidate rules for an error type and its components.
func (r *Registry) RulesFor(errorType string, components []string) []Rule {
	candidates := append([]Rule(nil), r.rules[errorType]...)
	for _, component := range components {
		key := fmt.Sprintf("%s_%s", errorType, component)
		candidates = append(candidates, r.rules[key]...)
	}
	return candidates
}

// Size reports the total number of registered rules.
func (r *Registry) Size() int {
	total := 0
	for _, rules := range r.rules {
		total += len(rules)
	}
	return total
}

// rulePackFile is the YAML root structure for external rule packs.
type rulePackFile struct {
	Rules []rulePackEntry `yaml:"rules"`
}

type rulePackEntry struct {
	Name             string              `yaml:"name"`
	ErrorType        string              `yaml:"error_type"`
	Pattern          string              `yaml:"pattern"`
	FixType          string              `yaml:"fix_type"`
	Description      string              `yaml:"description"`
	Changes          []models.CodeChange `yaml:"changes"`
	Confidence       float64             `yaml:"confidence"`
	RiskLevel        string              `yaml:"risk_level"`
	RollbackPossible bool                `yaml:"rollback_possible"`
}

// LoadRulePack merges rules from a YAML file into the registry. A missing
// file is not an error; individual malformed rules are skipped and logged,
// never aborting the load.
func (r *Registry) LoadRulePack(path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read rule pack: %w", err)
	}

	var pack rulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("parse rule pack: %w", err)
	}

	loaded := 0
	for _, entry := range pack.Rules {
		if entry.ErrorType == "" || entry.Pattern == "" {
			logger.Warn("skipping rule without error_type or pattern", slog.String("rule", entry.Name))
			continue
		}
		pattern, err := regexp.Compile("(?i)" + entry.Pattern)
		if err != nil {
			logger.Warn("skipping rule with invalid pattern",
				slog.String("rule", entry.Name), slog.Any("error", err))
			continue
		}
		r.Register(entry.ErrorType, Rule{
			Name:             entry.Name,
			Pattern:          pattern,
			FixType:          parseFixType(entry.FixType),
			Description:      entry.Description,
			Changes:          entry.Changes,
			Confidence:       entry.Confidence,
			RiskLevel:        parseRiskLevel(entry.RiskLevel),
			RollbackPossible: entry.RollbackPossible,
		})
		loaded++
	}

	logger.Info("rule pack loaded", slog.String("path", path), slog.Int("rules", loaded))
	return nil
}

func parseFixType(v string) models.FixType {
	switch v {
	case "configuration":
		return models.FixTypeConfiguration
	case "code":
		return models.FixTypeCode
	default:
		return models.FixTypeUnknown
	}
}

func parseRiskLevel(v string) models.RiskLevel {
	switch v {
	case "LOW":
		return models.RiskLow
	case "MEDIUM":
		return models.RiskMedium
	case "HIGH":
		return models.RiskHigh
	case "CRITICAL":
		return models.RiskCritical
	default:
		return models.RiskUnknown
	}
}

func builtinRules() map[string][]Rule {
	return map[string][]Rule{
		"database_errors": {
			{
				Name:        "connection_timeout_fix",
				Pattern:     regexp.MustCompile(`(?i)connection.*timeout`),
				FixType:     models.FixTypeConfiguration,
				Description: "Increase connection timeout settings",
				Changes: []models.CodeChange{{
					FilePattern:    `\.(go|yaml|conf)$`,
					SearchPattern:  `connect_timeout\s*=\s*\d+`,
					ReplacePattern: `connect_timeout = 60`,
					Description:    "Raise connection timeout to 60s",
				}},
				Confidence:       0.8,
				RiskLevel:        models.RiskLow,
				RollbackPossible: true,
			},
			{
				Name:        "connection_pool_fix",
				Pattern:     regexp.MustCompile(`(?i)connection.*pool.*exhausted`),
				FixType:     models.FixTypeConfiguration,
				Description: "Increase connection pool size",
				Changes: []models.CodeChange{{
					FilePattern:    `\.(go|yaml|conf)$`,
					SearchPattern:  `pool_size\s*=\s*\d+`,
					ReplacePattern: `pool_size = 20`,
					Description:    "Raise pool size to 20",
				}},
				Confidence:       0.7,
				RiskLevel:        models.RiskLow,
				RollbackPossible: true,
			},
		},
		"network_errors": {
			{
				Name:        "retry_mechanism_fix",
				Pattern:     regexp.MustCompile(`(?i)network.*timeout|connection.*refused`),
				FixType:     models.FixTypeCode,
				Description: "Add retry mechanism for network operations",
				Changes: []models.CodeChange{{
					FilePattern:    `\.go$`,
					SearchPattern:  `max_retries\s*=\s*\d+`,
					ReplacePattern: `max_retries = 5`,
					Description:    "Raise retry budget for outbound calls",
				}},
				Confidence:       0.6,
				RiskLevel:        models.RiskMedium,
				RollbackPossible: true,
			},
		},
		"application_errors": {
			{
				Name:        "null_pointer_fix",
				Pattern:     regexp.MustCompile(`(?i)null.*pointer|nil pointer`),
				FixType:     models.FixTypeCode,
				Description: "Add nil checks before object access",
				Changes: []models.CodeChange{{
					FilePattern:    `\.go$`,
					SearchPattern:  `// unsafe-deref`,
					ReplacePattern: `// nil-checked`,
					Description:    "Mark dereference sites for guarded access",
				}},
				Confidence:       0.9,
				RiskLevel:        models.RiskLow,
				RollbackPossible: true,
			},
			{
				Name:        "index_out_of_range_fix",
				Pattern:     regexp.MustCompile(`(?i)index.*out.*of.*range`),
				FixType:     models.FixTypeCode,
				Description: "Add bounds checking for slice access",
				Changes: []models.CodeChange{{
					FilePattern:    `\.go$`,
					SearchPattern:  `// unchecked-index`,
					ReplacePattern: `// bounds-checked`,
					Description:    "Mark index sites for bounds guards",
				}},
				Confidence:       0.8,
				RiskLevel:        models.RiskLow,
				RollbackPossible: true,
			},
		},
		"authentication_errors": {
			{
				Name:        "token_refresh_fix",
				Pattern:     regexp.MustCompile(`(?i)token.*expired|authentication.*failed`),
				FixType:     models.FixTypeCode,
				Description: "Add token refresh mechanism",
				Changes: []models.CodeChange{{
					FilePattern:    `\.go$`,
					SearchPattern:  `token_refresh\s*=\s*false`,
					ReplacePattern: `token_refresh = true`,
					Description:    "Enable automatic token refresh",
				}},
				Confidence:       0.7,
				RiskLevel:        models.RiskMedium,
				RollbackPossible: true,
			},
		},
		"system_errors": {
			{
				Name:        "memory_leak_fix",
				Pattern:     regexp.MustCompile(`(?i)memory.*leak|out.*of.*memory`),
				FixType:     models.FixTypeCode,
				Description: "Add proper resource cleanup",
				Changes: []models.CodeChange{{
					FilePattern:    `\.go$`,
					SearchPattern:  `buffer_limit\s*=\s*\d+`,
					ReplacePattern: `buffer_limit = 4096`,
					Description:    "Bound in-memory buffers",
				}},
				Confidence:       0.6,
				RiskLevel:        models.RiskMedium,
				RollbackPossible: true,
			},
		},
	}
}
