package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/corpus-crawler/internal/app"
	"github.com/JakeFAU/corpus-crawler/internal/export"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// ErrInvalidShards is returned when --validate finds a broken shard.
var ErrInvalidShards = errors.New("shard validation failed")

func newExportCmd() *cobra.Command {
	var (
		opts     app.ExportOptions
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write pending documents to shards",
		Long: `Recovers shards left open by a crash, exports every pending document
long enough to ship, finalizes the active shard and optionally re-reads the
finished shards to check them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if opts.ShardSize < 0 {
				return errors.New("--shard-size must be >= 0")
			}
			return runExport(cmd.Context(), a, opts, validate, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.Dir, "out-dir", "", "shard directory (overrides storage.shards_dir)")
	cmd.Flags().IntVar(&opts.ShardSize, "shard-size", 0, "entries per shard (overrides export.shard_size)")
	cmd.Flags().BoolVar(&validate, "validate", false, "validate finalized shards after exporting")
	return cmd
}

func runExport(ctx context.Context, a App, opts app.ExportOptions, validate bool, out io.Writer) error {
	e, err := a.Exporter(opts)
	if err != nil {
		return err
	}
	if _, err := e.Shards().Recover(ctx); err != nil {
		return err
	}
	n, exportErr := e.ExportPending(ctx, 0)
	if err := errors.Join(exportErr, e.Close(ctx)); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(out, "exported %d documents to %s\n", n, e.Shards().Dir())
	if !validate {
		return nil
	}
	return validateShards(ctx, a, e.Shards(), out)
}

// validateShards checks every finalized shard stored under the manager's
// directory.
func validateShards(ctx context.Context, a App, m *export.ShardManager, out io.Writer) error {
	rows, err := a.GetStore().ListShards(ctx, store.ShardFinalized)
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}
	dir := filepath.Clean(m.Dir()) + string(filepath.Separator)
	minLength := a.GetConfig().Content.MinLength
	invalid := 0
	checked := 0
	for _, row := range rows {
		if !strings.HasPrefix(filepath.Clean(row.Path), dir) {
			continue
		}
		res, err := m.Validate(ctx, row.Path, minLength)
		if err != nil {
			return err
		}
		checked++
		status := "ok"
		if !res.Valid {
			invalid++
			status = "INVALID"
		}
		fmt.Fprintf(out, "%-8s %s entries=%d bytes=%d\n", status, res.Path, res.EntryCount, res.FileSize)
		for _, msg := range res.Errors {
			fmt.Fprintf(out, "         %s\n", msg)
		}
	}
	fmt.Fprintf(out, "validated %d shards, %d invalid\n", checked, invalid)
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d shards", ErrInvalidShards, invalid, checked)
	}
	return nil
}
