// Package cmd defines the corpus-crawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/app"
	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/export"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// skipApp marks commands that build their services themselves.
const skipApp = "skip-app"

// App is the service container the commands use. Tests may swap newApp.
type App interface {
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStore() store.Store
	Seeds(override []string) []string
	Pipeline(opts app.RunOptions) (*pipeline.Pipeline, error)
	Exporter(opts app.ExportOptions) (*export.Exporter, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (urls, entries int64, err error)
	PingRedis(ctx context.Context) (bool, error)
	Close()
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type sessionKey struct{}

// session is what the root hooks hand to a subcommand.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		logDev  bool
	)
	cmd := &cobra.Command{
		Use:   "corpus-crawler",
		Short: "Crawls topical web pages into a deduplicated training corpus.",
		Long: `corpus-crawler fetches pages from seed domains, extracts and cleans the
main text, keeps the documents that match the configured topics, drops
duplicates and writes the survivors to JSONL shards.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Monitoring.Development || logDev, cfg.Monitoring.LogLevel)
			if err != nil {
				return err
			}
			s := &session{cfg: cfg, logger: logger}
			if cmd.Annotations[skipApp] == "" {
				s.app, err = newApp(cmd.Context(), cfg, logger)
				if err != nil {
					_ = logger.Sync()
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey{}, s))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, ok := cmd.Context().Value(sessionKey{}).(*session)
			if !ok {
				return
			}
			if s.app != nil {
				s.app.Close()
				return
			}
			_ = s.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().BoolVar(&logDev, "log-dev", false, "human readable console logs")

	cmd.AddCommand(
		newCrawlCmd(),
		newExportCmd(),
		newStatusCmd(),
		newValidateCmd(),
		newCleanupCmd(),
		newAllCmd(),
	)
	return cmd
}

// applyFlagOverrides copies explicitly set flags that change how services
// are built into cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if f := flags.Lookup("concurrency"); f != nil && f.Changed {
		n, err := flags.GetInt("concurrency")
		if err != nil {
			return err
		}
		if n <= 0 {
			return errors.New("--concurrency must be > 0")
		}
		cfg.Crawler.Concurrency = n
	}
	if f := flags.Lookup("metrics-addr"); f != nil && f.Changed {
		addr, err := flags.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.Monitoring.MetricsAddr = addr
	}
	return nil
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey{}).(*session)
	if !ok || s == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

func resolveApp(ctx context.Context) (App, error) {
	s, err := resolveSession(ctx)
	if err != nil {
		return nil, err
	}
	if s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s.app, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	_ = godotenv.Load()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
