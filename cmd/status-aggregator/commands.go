package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bissquit/status-aggregator/internal/app"
	"github.com/bissquit/status-aggregator/internal/config"
	"github.com/bissquit/status-aggregator/internal/identity"
	"github.com/bissquit/status-aggregator/internal/pkg/postgres"
	"github.com/bissquit/status-aggregator/internal/version"
	"github.com/bissquit/status-aggregator/migrations"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "status-aggregator",
		Short:         "Aggregate incidents into a published service status",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"),
		"path to a YAML config file (env: CONFIG_PATH)")

	root.AddCommand(
		newServeCommand(opts),
		newRunOnceCommand(opts),
		newResetCommand(opts),
		newMigrateCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregation loop and the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- application.Run() }()

			select {
			case err := <-errCh:
				if err != nil {
					_ = application.Shutdown(context.Background())
					return err
				}
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			slog.Info("server stopped")
			return nil
		},
	}
}

func newRunOnceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Execute a single aggregation run and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			summary, err := application.RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func newResetCommand(opts *options) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored incident, aggregation, message and cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("reset deletes all aggregation state; pass --yes to confirm")
			}

			application, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer application.Close()

			deleted, err := application.Reset(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"deleted": deleted})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
	}

	for _, direction := range []postgres.MigrateDirection{postgres.MigrateUp, postgres.MigrateDown} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(direction),
			Short: fmt.Sprintf("Apply migrations %s", direction),
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				if cfg.Database.URL == "" {
					return errors.New("database.url is required")
				}
				return postgres.Migrate(migrations.FS, cfg.Database.URL, direction)
			},
		})
	}
	return cmd
}

func newTokenCommand(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			auth, err := identity.NewAuthenticator(identity.Config{
				SigningKey: cfg.Admin.SigningKey,
				Issuer:     cfg.Admin.Issuer,
			})
			if err != nil {
				return fmt.Errorf("admin.signing_key: %w", err)
			}

			token, err := auth.Issue(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func loadApp(opts *options) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	application, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}
	return application, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
