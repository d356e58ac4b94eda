package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/stoneshop/internal/api"
	"github.com/erazemk/stoneshop/internal/store"
	"github.com/erazemk/stoneshop/internal/web"
)

// tokenPurgeInterval is how often expired revocations are dropped.
const tokenPurgeInterval = time.Hour

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI and JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			return serve(cmd, cfg.Addr, opts)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides config)")
	return cmd
}

func serve(cmd *cobra.Command, addr string, opts *globalOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg

	// Auto-init on first run.
	if _, err := os.Stat(cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		password, err := initDatabase(ctx, cfg.DBPath, cfg.Auth.AdminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		printInitResult(cmd.OutOrStdout(), cfg.DBPath, cfg.Auth.AdminUser, password)
		fmt.Fprintln(cmd.OutOrStdout())
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.Info("database ready", "path", cfg.DBPath, "policy", a.policy.Name)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, a.db)
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled {
		slog.Warn("authentication disabled, every route is open")
	}

	apiRouter := api.NewRouter(api.Deps{
		DB:              a.db,
		Items:           a.items,
		Inventory:       a.inventory,
		Policy:          a.policy,
		JWTSecret:       jwtSecret,
		AuthEnabled:     cfg.Auth.Enabled,
		MaxUploadBytes:  cfg.Attachments.MaxUploadBytes,
		MultipartMemory: cfg.Attachments.MultipartMemory,
	})
	webRouter, err := web.NewRouter(&web.Server{
		DB:              a.db,
		Items:           a.items,
		Inventory:       a.inventory,
		Policy:          a.policy,
		JWTSecret:       jwtSecret,
		AuthEnabled:     cfg.Auth.Enabled,
		MaxUploadBytes:  cfg.Attachments.MaxUploadBytes,
		MultipartMemory: cfg.Attachments.MultipartMemory,
	})
	if err != nil {
		return fmt.Errorf("setting up web router: %w", err)
	}

	// Combine: API routes take priority, web routes handle the rest.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("/", webRouter)

	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go purgeTokens(ctx, a)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	slog.Info("server stopped, closing database")
	return nil
}

// purgeTokens drops expired token revocations until ctx is done.
func purgeTokens(ctx context.Context, a *app) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpiredTokens(ctx, a.db, now)
			if err != nil {
				slog.Error("failed to purge expired tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("purged expired tokens", "count", n)
			}
		}
	}
}
