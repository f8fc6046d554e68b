package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete resolved URLs and dedup entries older than --days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = a.GetConfig().Retention.Days
			}
			if days <= 0 {
				return errors.New("--days must be > 0")
			}
			urls, entries, err := a.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d urls and %d dedup entries older than %d days\n", urls, entries, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (defaults to retention.days)")
	return cmd
}
