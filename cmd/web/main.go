package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/config"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/secrets"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Server-rendered storefront with search, cart, and checkout",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with the lowest precedence")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "routes",
		Short: "Print the registered routes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printRoutes(cmd, envFile)
		},
	})
	return root
}

func loadConfig(ctx context.Context, logger *zap.Logger, envFile string) (config.Config, func(), error) {
	opts := []config.Option{config.WithEnvFile(envFile)}
	closeFn := func() {}

	project := strings.TrimSpace(os.Getenv("STOREFRONT_SECRETS_PROJECT"))
	fallback := strings.TrimSpace(os.Getenv("STOREFRONT_SECRETS_FALLBACK"))
	if project != "" || fallback != "" {
		fetcher, err := secrets.NewFetcher(ctx,
			secrets.WithProject(project),
			secrets.WithFallbackFile(fallback),
			secrets.WithLogger(logger.Named("secrets")),
		)
		if err != nil {
			return config.Config{}, closeFn, fmt.Errorf("secret fetcher: %w", err)
		}
		closeFn = func() {
			if err := fetcher.Close(); err != nil {
				logger.Warn("secret fetcher close error", zap.Error(err))
			}
		}
		opts = append(opts, config.WithSecretResolver(fetcher))
	}
	cfg, err := config.Load(ctx, opts...)
	return cfg, closeFn, err
}

func runServe(ctx context.Context, envFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dev := os.Getenv("STOREFRONT_DEV") != ""
	baseLogger, err := observability.NewLogger(dev)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := baseLogger.Named("storefront")

	cfg, closeSecrets, err := loadConfig(ctx, logger, envFile)
	defer closeSecrets()
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			logger.Error("invalid configuration", zap.Strings("fields", verr.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	srv, err := newServer(cfg, deps{logger: logger})
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	serveErr := make(chan error, 1)
	serverLogger := logger.Named("http").With(zap.String("addr", httpServer.Addr), zap.Bool("dev", cfg.Server.DevMode))
	go func() {
		serverLogger.Info("storefront listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-shutdown:
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func printRoutes(cmd *cobra.Command, envFile string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := zap.NewNop()
	cfg, closeSecrets, err := loadConfig(ctx, logger, envFile)
	defer closeSecrets()
	if err != nil {
		return err
	}
	srv, err := newServer(cfg, deps{logger: logger})
	if err != nil {
		return err
	}
	defer srv.close()

	router, ok := srv.routes().(chi.Routes)
	if !ok {
		return errors.New("router does not support walking")
	}
	out := cmd.OutOrStdout()
	return chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		_, err := fmt.Fprintf(out, "%-6s %s\n", method, route)
		return err
	})
}
