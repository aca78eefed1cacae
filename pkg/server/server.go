// Package server assembles the ONA API from configuration and runs it until
// the process is told to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onaplatform/ona-api/internal/api"
	"github.com/onaplatform/ona-api/internal/archive"
	"github.com/onaplatform/ona-api/internal/auth"
	"github.com/onaplatform/ona-api/internal/config"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/onaplatform/ona-api/internal/ingest"
	"github.com/onaplatform/ona-api/internal/license"
	"github.com/onaplatform/ona-api/internal/logging"
	"github.com/onaplatform/ona-api/internal/quota"
	"github.com/onaplatform/ona-api/internal/websocket"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// DemoTenant is the graph anonymous callers explore.
const DemoTenant = "demo"

// App is a fully wired API with the resources it owns.
type App struct {
	cfg      *config.Config
	router   *api.Router
	licenses license.Store
	graphs   graphstore.Store
	counter  quota.Counter
	hub      *websocket.Hub
	checker  *licensing.Checker
	admin    *auth.AdminGuard

	stopHub context.CancelFunc
}

// New opens every backend named by cfg and builds the router. On error
// anything already opened is closed again.
func New(ctx context.Context, cfg *config.Config, version string) (_ *App, err error) {
	app := &App{cfg: cfg}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	policy, err := licensing.ParseUnknownLimitPolicy(cfg.License.UnknownLimitPolicy)
	if err != nil {
		return nil, err
	}
	app.checker = licensing.NewChecker(policy)

	if app.licenses, err = license.OpenStore(cfg.License); err != nil {
		return nil, fmt.Errorf("open license store: %w", err)
	}
	svc := license.NewService(app.licenses, licensing.NewValidator(licensing.DefaultCatalog()), app.checker, 0)

	if app.graphs, err = graphstore.Open(ctx, cfg.Graph); err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	app.counter = openCounter(ctx, cfg.Quota)

	store, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("open upload archive: %w", err)
	}

	app.hub = websocket.NewHub(cfg.Server.AllowedOrigins)
	hubCtx, stopHub := context.WithCancel(context.Background())
	app.stopHub = stopHub
	go app.hub.Run(hubCtx)

	app.admin = auth.NewAdminGuard(cfg.License.AdminTokenHash)
	if !app.admin.Enabled() {
		log.Info().Msg("No admin token hash configured, /admin routes are disabled")
	}

	fetcher := ingest.NewHTTPSource(cfg.Ingest.HTTPTimeout,
		ingest.WithMaxResponseBytes(int64(cfg.Ingest.MaxUploadMB)<<20),
		ingest.WithPrivateAddresses(cfg.Ingest.AllowPrivateSources))
	if cfg.Ingest.AllowPrivateSources {
		log.Warn().Msg("HTTP sources may reach private and loopback addresses")
	}

	app.router = api.NewRouter(api.Deps{
		Config:   cfg,
		Licenses: svc,
		Quota:    quota.NewEnforcer(app.counter, app.checker),
		Graphs:   app.graphs,
		Sources:  ingest.NewRegistry(),
		Archive:  store,
		Fetcher:  fetcher,
		Hub:      app.hub,
		Admin:    app.admin,
		Version:  version,
	})
	return app, nil
}

// openCounter prefers Redis so every replica shares the monthly totals. An
// unreachable Redis falls back to per-process counters.
func openCounter(ctx context.Context, cfg config.QuotaConfig) quota.Counter {
	if cfg.RedisURL == "" {
		return quota.NewMemoryCounter()
	}
	counter, err := quota.NewRedisCounter(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, counting API calls in memory")
		return quota.NewMemoryCounter()
	}
	return counter
}

// Handler returns the HTTP handler with all middleware applied.
func (a *App) Handler() http.Handler { return a.router.Handler() }

// ApplyReload pushes the runtime-reloadable settings of cfg into the
// running app.
func (a *App) ApplyReload(cfg *config.Config) {
	config.Mu.RLock()
	level := cfg.Log.Level
	policyName := cfg.License.UnknownLimitPolicy
	adminHash := cfg.License.AdminTokenHash
	config.Mu.RUnlock()

	logging.SetLevel(level)
	if policy, err := licensing.ParseUnknownLimitPolicy(policyName); err == nil {
		a.checker.SetUnknownLimitPolicy(policy)
	} else {
		log.Warn().Err(err).Msg("Keeping previous unknown limit policy")
	}
	a.admin.SetHash(adminHash)
}

// Close releases every backend. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.router != nil {
		a.router.Close()
	}
	if a.stopHub != nil {
		a.stopHub()
	}
	if a.counter != nil {
		if err := a.counter.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close quota counter")
		}
	}
	if a.graphs != nil {
		if err := a.graphs.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to close graph store")
		}
	}
	if a.licenses != nil {
		if err := a.licenses.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close license store")
		}
	}
}

// demoEdges is a small two-team organisation joined by a pair of brokers.
var demoEdges = []graphstore.Edge{
	{Source: "Alice", Target: "Bob", Weight: 3},
	{Source: "Alice", Target: "Carol", Weight: 2},
	{Source: "Bob", Target: "Carol", Weight: 2},
	{Source: "Carol", Target: "Dan", Weight: 1},
	{Source: "Dan", Target: "Erin", Weight: 4},
	{Source: "Erin", Target: "Frank", Weight: 2},
	{Source: "Frank", Target: "Grace", Weight: 3},
	{Source: "Erin", Target: "Grace", Weight: 1},
	{Source: "Grace", Target: "Heidi", Weight: 2},
	{Source: "Heidi", Target: "Ivan", Weight: 1},
	{Source: "Ivan", Target: "Judy", Weight: 2},
	{Source: "Heidi", Target: "Judy", Weight: 3},
}

// SeedDemo writes the demo graph when the demo tenant is empty and reports
// whether it did.
func (a *App) SeedDemo(ctx context.Context) (bool, error) {
	existing, err := a.graphs.FetchEdges(ctx, DemoTenant, graphstore.Filter{Limit: 1})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	if _, err := a.graphs.WriteEdges(ctx, DemoTenant, demoEdges); err != nil {
		return false, err
	}
	return true, nil
}

// Run loads configuration from configPath, serves the API and blocks until
// ctx is cancelled or the process receives SIGINT or SIGTERM. SIGHUP
// re-reads the config file.
func Run(ctx context.Context, version, configPath string) error {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "ona-api"})
	defer logging.Shutdown()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.Log.Format,
		Level:     cfg.Log.Level,
		Component: "ona-api",
		FilePath:  cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app, err := New(ctx, cfg, version)
	if err != nil {
		return err
	}
	if seeded, err := app.SeedDemo(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to seed demo graph")
	} else if seeded {
		log.Info().Int("edges", len(demoEdges)).Msg("Seeded demo graph")
	}

	if cfg.Server.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.Server.MetricsAddr)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           app.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      0, // graph streams are long lived
		IdleTimeout:       120 * time.Second,
	}

	configWatcher, err := config.NewConfigWatcher(cfg, app.ApplyReload)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, config changes will require a restart")
	} else {
		if err := configWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer configWatcher.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("ONA API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	defer signal.Stop(reloadChan)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Context cancelled, shutting down")
			break loop
		case <-sigChan:
			log.Info().Msg("Shutting down server")
			break loop
		case err := <-serveErr:
			runErr = fmt.Errorf("http server: %w", err)
			break loop
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration")
			if configWatcher != nil {
				configWatcher.ReloadConfig()
			}
		}
	}

	grace := cfg.Server.ShutdownTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	cancel()
	app.Close(shutdownCtx)

	log.Info().Msg("Server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
