package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/stoneshop/internal/store"
)

func newGCCmd(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete photos no item links to and expired token revocations",
		Long: "Photos that were stored but never linked to an item (for example when the\n" +
			"server stopped between upload and link) are deleted once they are older\n" +
			"than --older-than.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}

			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			swept, err := a.photos.SweepOrphans(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			purged, err := store.PurgeExpiredTokens(cmd.Context(), a.db, time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned photo(s), %d expired token revocation(s)\n", swept, purged)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "only remove orphans older than this")
	return cmd
}
