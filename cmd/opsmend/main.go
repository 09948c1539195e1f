package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/opsmend/opsmend/internal/analyzer"
	"github.com/opsmend/opsmend/internal/api"
	"github.com/opsmend/opsmend/internal/classify"
	"github.com/opsmend/opsmend/internal/config"
	"github.com/opsmend/opsmend/internal/engine"
	"github.com/opsmend/opsmend/internal/fixes"
	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/metrics"
	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/parser"
	"github.com/opsmend/opsmend/internal/patch"
	"github.com/opsmend/opsmend/internal/reports"
	"github.com/opsmend/opsmend/internal/utils"
	"github.com/opsmend/opsmend/internal/watcher"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "opsmend",
		Short:         "Log triage engine with automated fix lifecycle",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newAnalyzeCommand(&configPath),
		newStatsCommand(&configPath),
		newReportCommand(&configPath),
		newCleanupCommand(&configPath),
	)
	return root
}

// bootstrap loads config and builds the shared pipeline components.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *memory.Store
	engine    *engine.Engine
	generator *patch.Generator
	manager   *patch.Manager
}

func bootstrap(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	store, err := memory.NewStore(utils.ComponentLogger(logger, "memory"), memory.Options{
		StorageFile:         cfg.Memory.StorageFile,
		RetentionDays:       cfg.Memory.RetentionDays,
		EnableCompression:   cfg.Memory.EnableCompression,
		EnableDeduplication: cfg.Memory.EnableDeduplication,
		CleanupInterval:     cfg.Memory.CleanupInterval,
		DedupInterval:       cfg.Memory.DedupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open incident store: %w", err)
	}

	classifier := classify.New(utils.ComponentLogger(logger, "classify"), cfg.Classifier.CacheSize)

	contextAnalyzer := analyzer.New(
		utils.ComponentLogger(logger, "analyzer"),
		cfg.Analyzer.SourceDirs,
		cfg.Analyzer.FileExtensions,
		cfg.Analyzer.MaxFiles,
		cfg.Analyzer.CacheSize,
	)

	registry := fixes.NewRegistry()
	if err := registry.LoadRulePack(cfg.Fixes.RulePackPath, utils.ComponentLogger(logger, "fixes")); err != nil {
		return nil, err
	}
	fixEngine := fixes.New(utils.ComponentLogger(logger, "fixes"), registry, cfg.Fixes.CacheSize)

	generator := patch.NewGenerator(
		utils.ComponentLogger(logger, "patch"),
		cfg.Patch.OutputDir,
		patchFormat(cfg.Patch.Format),
	)
	manager := patch.NewManager(
		utils.ComponentLogger(logger, "patch"),
		cfg.Patch.BackupDir,
		cfg.Patch.MaxPatchSizeKB,
		cfg.Patch.ApplyTimeout,
	)

	targetDir := ""
	if len(cfg.Analyzer.SourceDirs) > 0 {
		targetDir = cfg.Analyzer.SourceDirs[0]
	}
	triage := engine.New(
		utils.ComponentLogger(logger, "engine"),
		classifier, contextAnalyzer, fixEngine, generator, store, targetDir,
	)

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		engine:    triage,
		generator: generator,
		manager:   manager,
	}, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the triage service: tail logs, serve the API, expose metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt.store.Start(ctx)

			tail := watcher.New(
				utils.ComponentLogger(rt.logger, "watcher"),
				rt.cfg.Watch.Paths,
				rt.cfg.Watch.PollInterval,
			)
			go func() {
				if err := tail.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					rt.logger.Error("watcher stopped", slog.Any("error", err))
				}
			}()
			go rt.engine.Run(ctx, tail.Entries())

			metricsServer := &http.Server{
				Addr:              rt.cfg.Server.MetricsAddress,
				Handler:           promhttp.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				rt.logger.Info("metrics server listening",
					slog.String("address", rt.cfg.Server.MetricsAddress))
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					rt.logger.Error("metrics server failed", slog.Any("error", err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.GracefulTimeout)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}()

			server := api.NewServer(
				utils.ComponentLogger(rt.logger, "api"),
				rt.engine, rt.store, rt.generator, rt.manager,
				rt.cfg.Server.Address,
			)
			return server.Run(ctx, rt.cfg.Server.GracefulTimeout)
		},
	}
}

func newAnalyzeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <logfile>",
		Short: "Triage an existing log file in one pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			triaged := 0
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				entry := parser.Parse(line, args[0])
				if _, err := rt.engine.Triage(cmd.Context(), entry); err != nil {
					rt.logger.Error("triage failed", slog.Any("error", err))
					continue
				}
				triaged++
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			rt.logger.Info("analysis complete",
				slog.String("file", args[0]),
				slog.Int("lines_triaged", triaged),
				slog.Int("incidents", rt.store.Size()))
			return nil
		},
	}
}

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print incident store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			out, err := json.MarshalIndent(rt.store.Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newReportCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Render triage reports in the configured formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			renderer := reports.NewRenderer(
				utils.ComponentLogger(rt.logger, "reports"),
				rt.cfg.Report.OutputDir,
			)
			report := renderer.Build(rt.store, 20)
			written, err := renderer.Render(report, rt.cfg.Report.Formats)
			if err != nil {
				return err
			}
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
}

func newCleanupCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run retention cleanup and deduplication once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			removed := rt.store.Cleanup()
			marked := rt.store.Deduplicate()
			rt.logger.Info("maintenance complete",
				slog.Int("removed", removed), slog.Int("duplicates_marked", marked))
			return nil
		},
	}
}

func patchFormat(v string) models.PatchFormat {
	switch v {
	case "unified":
		return models.FormatUnified
	case "context":
		return models.FormatContext
	default:
		return models.FormatGit
	}
}
