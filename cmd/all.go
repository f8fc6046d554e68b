package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/corpus-crawler/internal/app"
)

func newAllCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Crawl, then export and validate every shard",
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
			if _, err := runCrawl(ctx, a, opts, cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return runExport(ctx, a, app.ExportOptions{}, true, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}
