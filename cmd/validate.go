package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/corpus-crawler/internal/app"
	"github.com/JakeFAU/corpus-crawler/internal/config"
)

// ErrValidation is returned when any validate check fails.
var ErrValidation = errors.New("configuration validation failed")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Check configuration, directories and backends",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			check := func(name string, err error) {
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL  %s: %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "ok    %s\n", name)
			}

			check("directories", checkDirs(s.cfg.Storage))

			a, err := newApp(cmd.Context(), s.cfg, s.logger)
			check("database and backends", err)
			if err == nil {
				s.app = a
				shared, err := a.PingRedis(cmd.Context())
				if shared || err != nil {
					check("redis", err)
				}
				if len(a.Seeds(nil)) == 0 {
					check("seeds", errors.New("domains.seeds is empty"))
				} else {
					check("seeds", nil)
				}
			}
			if len(s.cfg.Topics.Allowed) == 0 {
				check("topics", errors.New("topics.allowed is empty"))
			} else {
				check("topics", nil)
			}

			if failed > 0 {
				return fmt.Errorf("%w: %d checks", ErrValidation, failed)
			}
			fmt.Fprintln(out, "configuration is valid")
			return nil
		},
	}
}

// checkDirs creates the working directories and proves each is writable.
func checkDirs(s config.StorageConfig) error {
	if err := app.EnsureDirs(s); err != nil {
		return err
	}
	for _, dir := range []string{s.DataDir, s.CacheDir, s.LogsDir, s.ShardsDir} {
		if dir == "" {
			continue
		}
		if err := probeWritable(dir); err != nil {
			return err
		}
	}
	return nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	_ = f.Close()
	return os.Remove(f.Name())
}
