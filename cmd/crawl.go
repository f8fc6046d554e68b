package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/corpus-crawler/internal/api"
	"github.com/JakeFAU/corpus-crawler/internal/app"
	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
)

// crawlFlags are shared by crawl and all.
type crawlFlags struct {
	domainsFile string
	concurrency int
	maxPages    int
	maxTime     int
	continuous  bool
	metricsAddr string
}

func (f *crawlFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.domainsFile, "domains-file", "", "file with one seed domain or URL per line")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "fetch concurrency (overrides crawler.concurrency)")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "stop after this many pages (0 = unlimited)")
	cmd.Flags().IntVar(&f.maxTime, "max-time", 0, "stop after this many seconds (0 = unlimited)")
	cmd.Flags().BoolVar(&f.continuous, "continuous", false, "keep polling when the frontier is empty")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve health, metrics and status on this address")
}

func (f *crawlFlags) options() (app.RunOptions, error) {
	if f.maxPages < 0 || f.maxTime < 0 {
		return app.RunOptions{}, errors.New("--max-pages and --max-time must be >= 0")
	}
	opts := app.RunOptions{
		Workers:    f.concurrency,
		MaxPages:   f.maxPages,
		MaxTime:    seconds(f.maxTime),
		Continuous: f.continuous,
	}
	if f.domainsFile != "" {
		seeds, err := config.ReadDomainsFile(f.domainsFile)
		if err != nil {
			return app.RunOptions{}, err
		}
		if len(seeds) == 0 {
			return app.RunOptions{}, fmt.Errorf("domains file %s lists no seeds", f.domainsFile)
		}
		opts.Seeds = seeds
	}
	return opts, nil
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the seed domains into the document store",
		Long: `Seeds the frontier when it is empty, then fetches, extracts, cleans,
classifies and deduplicates pages until the frontier drains, a limit is
reached or the process is interrupted. Accepted documents are exported to
shards as they arrive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, err = runCrawl(ctx, a, opts, cmd.OutOrStdout())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

// runCrawl drives one pipeline run and, when monitoring.metrics_addr is set,
// the status server next to it.
func runCrawl(ctx context.Context, a App, opts app.RunOptions, out io.Writer) (pipeline.Stats, error) {
	logger := a.GetLogger()
	p, err := a.Pipeline(opts)
	if err != nil {
		return pipeline.Stats{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if addr := a.GetConfig().Monitoring.MetricsAddr; addr != "" {
		srv := api.NewServer(p, a.GetStore(), logger)
		g.Go(func() error { return srv.ListenAndServe(serverCtx, addr) })
	}

	var stats pipeline.Stats
	g.Go(func() error {
		defer stopServer()
		var runErr error
		stats, runErr = p.Run(gctx)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("run pipeline: %w", runErr)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}

	logger.Info("crawl command finished", zap.Int64("pages_crawled", stats.PagesCrawled))
	fmt.Fprintf(out, "crawled %d pages (%d ok, %d failed), accepted %d, duplicates %d, exported %d\n",
		stats.PagesCrawled, stats.PagesSuccessful, stats.PagesFailed,
		stats.ContentAllowed, stats.DuplicatesFound, stats.EntriesExported)
	return stats, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
