// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package commands implements the newsletter CLI: the HTTP server with its
// scheduled dispatcher, a one-shot dispatch pass and migrations.
package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsletter/internal/config"
	"newsletter/internal/database"
	"newsletter/internal/mail"
	"newsletter/internal/notify"
	"newsletter/internal/store"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "newsletter",
	Short: "Category newsletter with subscriber notifications",
	Long: `Publishes posts to category subscribers and emails each eligible
subscriber once per post.

Commands:
  serve               - HTTP API plus the scheduled dispatcher
  send-notifications  - run a single publish and dispatch pass
  migrate             - apply pending database migrations`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, sendNotificationsCmd, migrateCmd)
}

// setup loads configuration and installs the default logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded", "env", cfg.Env, "addr", cfg.Addr())
	return cfg, nil
}

// openDB connects to PostgreSQL and applies pending migrations.
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newMailer sends through SMTP when configured and only logs otherwise.
func newMailer(cfg *config.Config, clock notify.Clock) mail.Mailer {
	if cfg.SMTPHost == "" {
		slog.Warn("smtp not configured, notifications will only be logged")
		return mail.LogMailer{}
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		Timeout:  cfg.SMTPTimeout,
		Now:      clock.Now,
	})
}

// newDispatcher wires the dispatcher to the given stores. Callers that
// already hold stores for the same database pass them in.
func newDispatcher(cfg *config.Config, posts *store.PostStore, ledger *store.LedgerStore, clock notify.Clock) *notify.Dispatcher {
	return notify.NewDispatcher(
		posts,
		ledger,
		newMailer(cfg, clock),
		clock,
		notify.SiteURLs{Domain: cfg.SiteDomain},
		cfg.DispatchBatchSize,
	)
}
