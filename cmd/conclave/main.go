// Package main provides the CLI entry point for Conclave: a multi-tenant
// conversational AI backend that orchestrates chat turns, tool execution,
// and multi-agent council deliberations against pluggable LLM providers.
//
// Usage:
//
//	conclave serve --config conclave.yaml
//	conclave migrate status
//	conclave doctor
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conclave-ai/conclave/internal/config"
	"github.com/conclave-ai/conclave/internal/doctor"
	"github.com/conclave-ai/conclave/internal/gateway"
)

var configPath string

const serverShutdownGrace = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "conclave",
		Short: "Agent orchestration and tool execution engine",
		Long: "Conclave drives a bounded agentic loop against external LLM providers, " +
			"dispatches tool invocations, enforces per-user quota and tier policy, and " +
			"sequences multi-agent council deliberations.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONCLAVE_CONFIG"), "path to config file")

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildMigrateCmd())
	root.AddCommand(buildDoctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = "conclave.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway: chat streaming, council WebSocket, and observer feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				logger.Warn("starting with empty config", "error", err)
				cfg = &config.Config{}
			}

			server, err := gateway.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("start server: %w", err)
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}
}

func buildMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage configuration schema migrations",
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current and latest configuration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = "conclave.yaml"
			}
			raw, err := doctor.LoadRawConfig(path)
			if err != nil {
				return fmt.Errorf("load raw config: %w", err)
			}
			report, err := doctor.ApplyConfigMigrations(raw)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			fmt.Printf("applied: %d migration(s)\n", len(report.Applied))
			for _, step := range report.Applied {
				fmt.Printf("  - %s\n", step)
			}
			return nil
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending configuration migrations and persist the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = "conclave.yaml"
			}
			raw, err := doctor.LoadRawConfig(path)
			if err != nil {
				return fmt.Errorf("load raw config: %w", err)
			}
			report, err := doctor.ApplyConfigMigrations(raw)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			if len(report.Applied) == 0 {
				fmt.Println("already up to date")
				return nil
			}
			if _, err := doctor.BackupConfig(path); err != nil {
				return fmt.Errorf("backup config: %w", err)
			}
			if err := doctor.WriteRawConfig(path, raw); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("applied %d migration(s)\n", len(report.Applied))
			return nil
		},
	})
	return migrateCmd
}

func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report provider/policy issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			issues := doctor.CheckConfigPolicies(cfg)
			if len(issues) == 0 {
				fmt.Println("no configuration issues found")
				return nil
			}
			fmt.Printf("%d issue(s) found:\n", len(issues))
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
			return nil
		},
	}
}
