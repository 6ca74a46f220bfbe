package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

var (
	migrateReset bool
	migrateYes   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the record store schema",
	Long:  "Creates the jobs table and indexes. With --reset the table is dropped first, which deletes every job; --yes is required to confirm.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context(), cmd.OutOrStdout(), migrateReset, migrateYes)
	},
}

func runMigrate(ctx context.Context, out io.Writer, reset, yes bool) error {
	if reset && !yes {
		return eris.New("migrate: --reset deletes every job; pass --yes to confirm")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return eris.Wrap(err, "open store")
	}
	defer st.Close() //nolint:errcheck

	if reset {
		zap.L().Warn("resetting record store", zap.String("driver", cfg.Store.Driver))
		if err := st.Reset(ctx); err != nil {
			return eris.Wrap(err, "reset store")
		}
		fmt.Fprintln(out, "schema reset") //nolint:errcheck
		return nil
	}

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	fmt.Fprintln(out, "schema up to date") //nolint:errcheck
	return nil
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "drop and recreate the jobs table")
	migrateCmd.Flags().BoolVar(&migrateYes, "yes", false, "confirm a destructive reset")
	rootCmd.AddCommand(migrateCmd)
}
