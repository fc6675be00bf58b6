// Command host runs a Host agent process (spec.md §2, §4.4, §6.2): the
// stateful process that owns real devices, executes graphs against them
// through the Controller Registry, and keeps itself registered with a
// Server. Wiring grounded on the teacher framework's core/cmd/example
// (component assembly) and core/agent.go's Start/Stop (http.Server with
// graceful shutdown), restructured around spf13/cobra for flag/command
// handling the way the rest of the ecosystem pack does CLIs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelstreet/virtualpytest-sub002/internal/aicache"
	"github.com/angelstreet/virtualpytest-sub002/internal/config"
	"github.com/angelstreet/virtualpytest-sub002/internal/controller"
	"github.com/angelstreet/virtualpytest-sub002/internal/host"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/navigation"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
	"github.com/angelstreet/virtualpytest-sub002/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	flagHostID    string
	flagHostURL   string
	flagServerURL string
	flagPort      int
	flagRedisURL  string
	flagDevMode   bool
)

func main() {
	root := &cobra.Command{
		Use:   "host",
		Short: "Run a VirtualPyTest host agent",
		RunE:  runHost,
	}
	root.Flags().StringVar(&flagHostID, "id", "", "host id (defaults to hostname)")
	root.Flags().StringVar(&flagHostURL, "url", "", "this host's own externally reachable URL")
	root.Flags().StringVar(&flagServerURL, "server-url", "", "server URL to register against")
	root.Flags().IntVar(&flagPort, "port", 0, "bind port (0: use config default)")
	root.Flags().StringVar(&flagRedisURL, "redis-url", "", "redis connection URL")
	root.Flags().BoolVar(&flagDevMode, "dev", false, "enable development mode (in-memory store unless --redis-url is set)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHost(cmd *cobra.Command, args []string) error {
	opts := []config.Option{config.WithName("virtualpytest-host")}
	if flagPort > 0 {
		opts = append(opts, config.WithPort(flagPort))
	}
	if flagRedisURL != "" {
		opts = append(opts, config.WithRedisURL(flagRedisURL))
	}
	if flagDevMode {
		opts = append(opts, config.WithDevMode(true))
		if flagRedisURL == "" {
			opts = append(opts, config.WithMockRedis(true))
		}
	}
	cfg, err := config.New(opts...)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: cfg.Name})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled: cfg.Telemetry.Enabled, Endpoint: cfg.Telemetry.Endpoint,
		ServiceName: cfg.Name, Insecure: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	registry := controller.NewRegistry(log)
	for category, commands := range controller.DefaultCommandSets() {
		registry.Register(category, commands, controller.NewLoggingDriverFactory(category, commands, log))
	}

	nav := navigation.NewEngine(store, log)
	cache := aicache.NewCache(store, log)

	hostID := flagHostID
	if hostID == "" {
		if hn, err := os.Hostname(); err == nil {
			hostID = hn
		} else {
			hostID = "host-1"
		}
	}
	hostURL := flagHostURL
	if hostURL == "" {
		hostURL = cfg.Host.URL
	}
	if hostURL == "" {
		hostURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	h := host.New(hostID, hostURL, store, registry, nav, cache, log, tel)

	serverURL := flagServerURL
	if serverURL == "" {
		serverURL = cfg.Server.URL
	}
	if serverURL != "" {
		registrar := host.NewRegistrar(h, serverURL, cfg.Host.HeartbeatInterval, log)
		registrar.Start(ctx)
	} else {
		log.Warn("no server-url configured; host will not register itself", logger.Fields{"host_id": hostID})
	}

	handler := httpapi.Chain(
		httpapi.RecoveryMiddleware(log),
		httpapi.LoggingMiddleware(log, cfg.Dev.Enabled),
		httpapi.PermissiveCORS,
	)(h.Router())
	handler = otelhttp.NewHandler(handler, "virtualpytest-host")

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("host HTTP server starting", logger.Fields{"addr": srv.Addr, "host_id": hostID})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down host", logger.Fields{"host_id": hostID})
	case err := <-errCh:
		return fmt.Errorf("host server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (persistence.Store, error) {
	if cfg.Dev.MockRedis || cfg.Redis.URL == "" {
		log.Info("using in-memory store", logger.Fields{"reason": "dev.mock_redis or no redis url configured"})
		return persistence.NewMemoryStore(log), nil
	}
	return persistence.NewRedisStore(ctx, persistence.RedisStoreOptions{
		RedisURL: cfg.Redis.URL, Namespace: cfg.Redis.Namespace, Logger: log,
	})
}
