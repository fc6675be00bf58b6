// Command server runs the stateless API server process (spec.md §2, §4.5,
// §6.1): the process every client and the UI talk to, which proxies
// device-scoped work to whichever Host currently owns it. Wiring grounded
// on the teacher framework's core/cmd/example (component assembly) and
// core/agent.go's Start/Stop (http.Server with graceful shutdown),
// restructured around spf13/cobra the way the rest of the ecosystem pack
// does CLIs.
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
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
	"github.com/angelstreet/virtualpytest-sub002/internal/resilience"
	"github.com/angelstreet/virtualpytest-sub002/internal/server"
	"github.com/angelstreet/virtualpytest-sub002/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	flagPort     int
	flagRedisURL string
	flagDevMode  bool
)

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "Run the VirtualPyTest API server",
		RunE:  runServer,
	}
	root.Flags().IntVar(&flagPort, "port", 0, "bind port (0: use config default)")
	root.Flags().StringVar(&flagRedisURL, "redis-url", "", "redis connection URL")
	root.Flags().BoolVar(&flagDevMode, "dev", false, "enable development mode (in-memory store unless --redis-url is set)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	opts := []config.Option{config.WithName("virtualpytest-server")}
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
	cache := aicache.NewCache(store, log)

	cbConfig := resilience.CircuitBreakerConfig{
		Threshold:        cfg.Resilience.CircuitBreakerThreshold,
		Timeout:          cfg.Resilience.CircuitBreakerTimeout,
		HalfOpenRequests: resilience.DefaultCircuitBreakerConfig().HalfOpenRequests,
	}

	s := server.New(store, cache,
		cfg.Server.HeartbeatInterval, cfg.Server.MissedHeartbeats,
		cfg.Server.ProxyTimeout, cbConfig, 1*time.Second,
		log, tel)

	// PlanGen and Analyzer are left unset: the real AI provider call is an
	// external collaborator out of scope here (spec.md §1), so the
	// aiagent/aitestcase endpoints degrade to GenerationUnavailable until a
	// real implementation is supplied via server.WithPlanGenerator /
	// server.WithTestcaseAnalyzer.

	s.Registry.StartSweeper(ctx)

	handler := httpapi.Chain(
		httpapi.RecoveryMiddleware(log),
		httpapi.LoggingMiddleware(log, cfg.Dev.Enabled),
		httpapi.PermissiveCORS,
	)(s.Router())
	handler = otelhttp.NewHandler(handler, "virtualpytest-server")

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server HTTP listener starting", logger.Fields{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server", logger.Fields{})
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
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
