package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtclinic/followup/internal/config"
	"github.com/rtclinic/followup/internal/domain/followup"
	"github.com/rtclinic/followup/internal/platform/db"
	"github.com/rtclinic/followup/internal/platform/telemetry"
	"github.com/rtclinic/followup/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "followup-server",
		Short:        "Radiotherapy follow-up records API",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env-file", ".env", "Path to an optional .env file")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(submitCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the follow-up API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger, closeLog := newLogger(cfg, os.Stdout)
	defer closeLog()

	if cfg.IsDev() && !cfg.AuthEnabled() {
		logger.Warn().Msg("development mode without AUTH_SIGNING_KEY: every request is treated as admin")
	}

	ctx := context.Background()
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open backends")
		return err
	}
	defer b.Close()
	logger.Info().Str("store", cfg.StoreBackend).Str("notify", cfg.NotifyBackend).Msg("backends ready")

	metrics := telemetry.NewMetrics()
	svc := followup.NewService(b.store, metrics.WrapNotifier(b.notifier), logger)
	e := newServer(cfg, logger, svc, b.pinger(), b.auditRecorder(), metrics)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the postgres store",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the follow-up table as CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, svc *followup.Service) error {
				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("create %s: %w", out, err)
					}
					defer f.Close()
					w = f
				}
				return svc.Export(ctx, w, format)
			})
		},
	}
	cmd.Flags().String("format", followup.FormatCSV, "Export format (csv or xlsx)")
	cmd.Flags().String("out", "-", "Output file, - for stdout")
	return cmd
}

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <form.json>",
		Short: "Submit a follow-up form from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read form: %w", err)
			}
			var form followup.Form
			if err := json.Unmarshal(raw, &form); err != nil {
				return fmt.Errorf("decode form: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, svc *followup.Service) error {
				rec, err := svc.Submit(ctx, form)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}
}

// withService opens the configured backends, logging to stderr so command
// output stays clean, and runs fn with a service over them.
func withService(cmd *cobra.Command, cfg *config.Config, fn func(context.Context, *followup.Service) error) error {
	logger, closeLog := newLogger(cfg, cmd.ErrOrStderr())
	defer closeLog()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, followup.NewService(b.store, b.notifier, logger))
}
