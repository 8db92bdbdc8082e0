package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantrail/barstream/internal/authz"
	"github.com/quantrail/barstream/internal/config"
	"github.com/quantrail/barstream/internal/feed"
	"github.com/quantrail/barstream/internal/hub"
	"github.com/quantrail/barstream/internal/instruments"
	"github.com/quantrail/barstream/internal/server"
	"github.com/quantrail/barstream/internal/store"
	"github.com/quantrail/barstream/internal/subs"
)

var (
	configPath string
	devLogging bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the feed pipeline and the dashboard HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (env-only when omitted)")
	serveCmd.Flags().BoolVar(&devLogging, "dev", false, "human-readable log output")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	catalog, err := instruments.Load(cfg.Instruments.Path, cfg.Instruments.Segment)
	if err != nil {
		return fmt.Errorf("load instrument master: %w", err)
	}
	logger.Info("instrument master loaded",
		zap.String("path", cfg.Instruments.Path),
		zap.String("segment", cfg.Instruments.Segment),
		zap.Int("instruments", catalog.Len()))

	barStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open bar store: %w", err)
	}
	defer barStore.Close()

	h := hub.New(logger)
	registry := subs.NewRegistry()
	pending := subs.NewPendingQueue(cfg.Feed.QueueCapacity)

	client := feed.NewClient(
		feed.WithLogger(feed.NewZapLogger(logger)),
		feed.WithAuthorizer(authz.NewClient(authz.ClientOpts{
			BaseURL:     cfg.Feed.BaseURL,
			AccessToken: cfg.Feed.AccessToken,
		})),
		feed.WithLookup(catalog),
		feed.WithRegistry(registry),
		feed.WithPendingQueue(pending),
		feed.WithStore(barStore),
		feed.WithPublisher(h),
		feed.WithReconnectSettings(cfg.Feed.ReconnectLimit, cfg.Feed.ReconnectDelay),
		feed.WithPollInterval(cfg.Feed.PollInterval),
		feed.WithBufferSize(cfg.Feed.BufferSize),
		feed.WithCloseAvgWindow(cfg.Dashboard.CloseAvgWindow),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to feed: %w", err)
	}

	srv := server.New(logger, h, pending, catalog, barStore)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-client.Terminated():
		if err != nil {
			logger.Error("feed terminated", zap.Error(err))
			runErr = err
		}
	case err := <-httpErr:
		logger.Error("http server failed", zap.Error(err))
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}

func newLogger() (*zap.Logger, error) {
	if devLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
