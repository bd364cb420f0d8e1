// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"newsletter/internal/cache"
	"newsletter/internal/database"
	"newsletter/internal/handlers"
	"newsletter/internal/middleware"
	"newsletter/internal/notify"
	"newsletter/internal/router"
	"newsletter/internal/scheduler"
	"newsletter/internal/session"
	"newsletter/internal/store"
)

var noScheduler bool

// serveCmd starts the HTTP API and, unless disabled, the dispatch scheduler.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve HTTP only; run dispatch from cron via send-notifications")
}

func runServe(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Seed development data (no-op if data already exists).
	if cfg.IsDev() {
		if err := database.Seed(db); err != nil {
			return err
		}
	}

	// Connect to Valkey (Redis-compatible cache + session store).
	valkeyClient, err := cache.ConnectValkey(ctx, cfg.ValkeyAddr(), cfg.ValkeyPassword)
	if err != nil {
		return err
	}
	defer valkeyClient.Close()

	// In non-development environments, mark cookies as Secure (HTTPS-only).
	secureCookies := !cfg.IsDev()
	sessionStore := session.NewStore(valkeyClient, secureCookies)

	userStore := store.NewUserStore(db)
	categoryStore := store.NewCategoryStore(db)
	postStore := store.NewPostStore(db, cfg.DispatchLockTimeout)
	ledgerStore := store.NewLedgerStore(db, cfg.DispatchLockTimeout)
	subscriptionStore := store.NewSubscriptionStore(db)
	cacheLogStore := store.NewCacheLogStore(db)

	postCache := cache.NewPostCache(valkeyClient, cache.DefaultPostTTL)
	views := cache.NewViewTracker(valkeyClient)
	clock := notify.SystemClock{}
	dispatcher := newDispatcher(cfg, postStore, ledgerStore, clock)

	loginLimiter := middleware.NewRateLimiter(valkeyClient, "ratelimit.login.", 10, time.Minute)

	r := router.New(router.Deps{
		Sessions: sessionStore,
		Auth:     handlers.NewAuth(sessionStore, userStore),
		Posts: handlers.NewPosts(postStore, categoryStore, subscriptionStore, ledgerStore,
			notify.NewReader(ledgerStore, clock), postCache, views),
		Subscriptions: handlers.NewSubscriptions(subscriptionStore, categoryStore),
		Ops:           handlers.NewOps(postStore, categoryStore, dispatcher, postCache, cacheLogStore, clock),
		LoginLimit:    loginLimiter.Middleware,
		SecureCookies: secureCookies,
	})

	var sched *scheduler.Scheduler
	if !noScheduler {
		sched, err = scheduler.New(cfg.DispatchSchedule, dispatcher, 10*time.Minute)
		if err != nil {
			return err
		}
		sched.Start()
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown: wait for SIGINT/SIGTERM or a listener failure.
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// A running dispatch pass is canceled and gets 10 seconds to unwind;
	// active requests then get their own 30 seconds.
	if sched != nil {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		sched.Stop(stopCtx)
		cancelStop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}
