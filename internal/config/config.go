package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Watch      WatchConfig      `yaml:"watch"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Fixes      FixesConfig      `yaml:"fixes"`
	Patch      PatchConfig      `yaml:"patch"`
	Memory     MemoryConfig     `yaml:"memory"`
	Report     ReportConfig     `yaml:"report"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// WatchConfig lists log files and directories to tail.
type WatchConfig struct {
	Paths        []string      `yaml:"paths"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// ClassifierConfig controls classification sources and memoization.
type ClassifierConfig struct {
	CacheSize int `yaml:"cacheSize"`
}

// AnalyzerConfig controls the codebase-context scan.
type AnalyzerConfig struct {
	SourceDirs     []string `yaml:"sourceDirs"`
	FileExtensions []string `yaml:"fileExtensions"`
	MaxFiles       int      `yaml:"maxFiles"`
	CacheSize      int      `yaml:"cacheSize"`
}

// FixesConfig controls rule-pack loading for the fix engine.
type FixesConfig struct {
	RulePackPath string `yaml:"rulePackPath"`
	CacheSize    int    `yaml:"cacheSize"`
}

// PatchConfig controls patch generation and the apply/rollback lifecycle.
type PatchConfig struct {
	OutputDir      string        `yaml:"outputDir"`
	BackupDir      string        `yaml:"backupDir"`
	Format         string        `yaml:"format"`
	MaxPatchSizeKB int           `yaml:"maxPatchSizeKB"`
	ApplyTimeout   time.Duration `yaml:"applyTimeout"`
}

// MemoryConfig controls incident persistence and retention.
type MemoryConfig struct {
	StorageFile         string        `yaml:"storageFile"`
	RetentionDays       int           `yaml:"retentionDays"`
	EnableCompression   bool          `yaml:"enableCompression"`
	EnableDeduplication bool          `yaml:"enableDeduplication"`
	CleanupInterval     time.Duration `yaml:"cleanupInterval"`
	DedupInterval       time.Duration `yaml:"dedupInterval"`
}

// ReportConfig controls rendered report output.
type ReportConfig struct {
	OutputDir string   `yaml:"outputDir"`
	Formats   []string `yaml:"formats"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OPSMEND_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Watch: WatchConfig{
			Paths:        []string{"/var/log/application.log"},
			PollInterval: time.Second,
		},
		Classifier: ClassifierConfig{CacheSize: 500},
		Analyzer: AnalyzerConfig{
			SourceDirs:     []string{"./src", "./lib", "./app"},
			FileExtensions: []string{".go", ".py", ".js", ".java", ".rs"},
			MaxFiles:       200,
			CacheSize:      100,
		},
		Fixes: FixesConfig{CacheSize: 200},
		Patch: PatchConfig{
			OutputDir:      "storage/patches",
			BackupDir:      "storage/backups",
			Format:         "git",
			MaxPatchSizeKB: 1024,
			ApplyTimeout:   60 * time.Second,
		},
		Memory: MemoryConfig{
			StorageFile:         "storage/incidents.json",
			RetentionDays:       365,
			EnableCompression:   false,
			EnableDeduplication: true,
			CleanupInterval:     time.Hour,
			DedupInterval:       30 * time.Minute,
		},
		Report: ReportConfig{
			OutputDir: "reports",
			Formats:   []string{"json", "markdown", "html"},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSMEND_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OPSMEND_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OPSMEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPSMEND_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("OPSMEND_WATCH_PATHS"); v != "" {
		cfg.Watch.Paths = strings.Split(v, ",")
	}
	if v := os.Getenv("OPSMEND_RULE_PACK"); v != "" {
		cfg.Fixes.RulePackPath = v
	}
	if v := os.Getenv("OPSMEND_PATCH_DIR"); v != "" {
		cfg.Patch.OutputDir = v
	}
	if v := os.Getenv("OPSMEND_PATCH_FORMAT"); v != "" {
		cfg.Patch.Format = v
	}
	if v := os.Getenv("OPSMEND_STORAGE_FILE"); v != "" {
		cfg.Memory.StorageFile = v
	}
	if v := os.Getenv("OPSMEND_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Memory.RetentionDays = days
		}
	}
	if v := os.Getenv("OPSMEND_COMPRESSION"); v != "" {
		cfg.Memory.EnableCompression = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OPSMEND_APPLY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Patch.ApplyTimeout = d
		}
	}
}

func ensureDirectories(cfg *Config) error {
	dirs := []string{
		cfg.Patch.OutputDir,
		cfg.Patch.BackupDir,
		cfg.Report.OutputDir,
		filepath.Dir(cfg.Memory.StorageFile),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
