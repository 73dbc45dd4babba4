package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/evidenca/internal/api"
	"github.com/erazemk/evidenca/internal/commerce"
	"github.com/erazemk/evidenca/internal/config"
	"github.com/erazemk/evidenca/internal/registry"
	"github.com/erazemk/evidenca/internal/store"
	"github.com/erazemk/evidenca/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the reservation reaper",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "listen address (env EVIDENCA_ADDR, default :8080)")
	rootCmd.AddCommand(serveCmd)
}

// newRegistry wires the registry from configuration.
func newRegistry(st store.Store, cfg config.Config) *registry.Registry {
	opts := []registry.Option{
		registry.WithReservationTTL(cfg.ReservationTTL),
		registry.WithWebhookSecret(cfg.WebhookSecret),
		registry.WithLogger(slog.Default()),
	}
	if cfg.CommerceURL != "" {
		client := commerce.NewClient(cfg.CommerceURL, cfg.CommerceToken, cfg.CommerceTimeout)
		opts = append(opts, registry.WithNotifier(client), registry.WithInviter(client))
	} else {
		opts = append(opts, registry.WithNotifier(commerce.Nop{}), registry.WithInviter(commerce.Nop{}))
	}
	return registry.New(st, opts...)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "evidenca")
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		if jwtSecret, err = store.GetJWTSecret(ctx, st); err != nil {
			return err
		}
	}

	if cfg.WebhookSecret == "" {
		slog.Warn("no webhook secret configured, every order delivery will be rejected")
	}
	if cfg.CommerceURL == "" {
		slog.Warn("no commerce platform configured, assignments will not be written back")
	}

	reg := newRegistry(st, cfg)
	router := api.NewRouter(api.Deps{
		Registry:       reg,
		Store:          st,
		JWTSecret:      jwtSecret,
		ActivationRate: cfg.ActivationRate,
		ReapBatch:      cfg.ReaperBatch,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.RunReaper(ctx, cfg.ReaperInterval, cfg.ReaperBatch)
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "version", version)
	err = server.ListenAndServe()
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}
