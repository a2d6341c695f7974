package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pulse-backend/internal/config"
	"pulse-backend/internal/database"
	"pulse-backend/internal/repository/cassandra"
	"pulse-backend/pkg/logger"
)

func buildRootCmd() *cobra.Command {
	var (
		dryRun   bool
		pageSize int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "reaction-migrate",
		Short: "Repair mojibake reaction emoji in stored messages",
		Long: `Scan every direct message that carries reactions and rewrite emoji
that were stored as Windows-1252 mojibake (for example "ðŸ‘" instead of the
thumbs-up emoji) back to their UTF-8 form.

Cassandra connection settings come from the CASSANDRA_* environment variables.
Run with --dry-run first to see what would change.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(&logger.Config{Level: logLevel, Format: "text", Output: "stdout"}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runMigrate(ctx, cmd, dryRun, pageSize)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report repairs without writing them")
	cmd.Flags().IntVar(&pageSize, "page-size", 500, "Rows fetched per Cassandra page")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, dryRun bool, pageSize int) error {
	if pageSize <= 0 {
		return fmt.Errorf("page-size must be positive")
	}

	cassCfg := config.LoadCassandra()
	db, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cassCfg.Hosts,
		Keyspace: cassCfg.Keyspace,
		Username: cassCfg.Username,
		Password: cassCfg.Password,
		Timeout:  cassCfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra: %w", err)
	}
	defer db.Close()

	repo := cassandra.NewMessageRepository(db)
	stats, err := migrate(ctx, repo, pageSize, dryRun)

	mode := "applied"
	if dryRun {
		mode = "dry run"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned %d messages, repaired %d reactions, %d failed\n",
		mode, stats.Scanned, stats.Repaired, stats.Failed)
	if err != nil {
		logger.Error("Migration stopped", zap.Error(err))
	}
	return err
}
