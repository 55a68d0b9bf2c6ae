package app

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

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/content-sync/internal/api"
	"github.com/stacklok/content-sync/internal/config"
	"github.com/stacklok/content-sync/internal/telemetry"
	"github.com/stacklok/content-sync/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync engine",
	Long: `Start the sync engine with background synchronization and the
operational HTTP API.

The engine requires a configuration file (--config) that specifies:
- Remote content API endpoint and credentials
- Sources to synchronize and their sync policies
- Fetch, cache, server and telemetry tuning`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Must be > serverRequestTimeout to let middleware handle the timeout
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

// listenAddress resolves the listen address from the flag, the config
// file, and the default, in that order
func listenAddress(cfg *config.Config) string {
	if address := viper.GetString("address"); address != "" {
		return address
	}
	if cfg.Server != nil && cfg.Server.Address != "" {
		return cfg.Server.Address
	}
	return ":8080"
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfigFromFlag(viper.GetString("config"))
	if err != nil {
		return err
	}
	address := listenAddress(cfg)
	slog.Info("Starting sync engine",
		"address", address, "sources", len(cfg.Sources))

	// Set up metrics export
	meterOpts := []telemetry.MeterProviderOption{
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
	}
	if cfg.Telemetry != nil {
		meterOpts = append(meterOpts,
			telemetry.WithMetricsEnabled(cfg.Telemetry.Enabled),
			telemetry.WithMeterInsecure(cfg.Telemetry.Insecure),
		)
		if cfg.Telemetry.Endpoint != "" {
			meterOpts = append(meterOpts, telemetry.WithMeterEndpoint(cfg.Telemetry.Endpoint))
		}
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, meterOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	syncOpts, err := syncOptionsFromConfig(cfg.Fetch)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, meterProvider, syncOpts)
	if err != nil {
		return err
	}

	// Start the background sync coordinator
	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go func() {
		if err := eng.coordinator.Start(syncCtx); err != nil {
			slog.Error("Sync coordinator failed", "error", err)
		}
	}()

	router := api.NewServer(eng.service,
		api.WithMiddlewares(
			middleware.RealIP,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	if err := eng.coordinator.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	// Flush any remaining metrics
	if shutdowner, ok := meterProvider.(interface {
		Shutdown(context.Context) error
	}); ok {
		if err := shutdowner.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down meter provider", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}
