// Package bootstrap wires configuration, storage and transports into a
// running chartlens server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/swaggo/swag"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "chartlens-server-go/docs"
	"chartlens-server-go/internal/app/services"
	domainauth "chartlens-server-go/internal/domain/auth"
	"chartlens-server-go/internal/domain/eventbus"
	domainimage "chartlens-server-go/internal/domain/image"
	"chartlens-server-go/internal/domain/verdict/store"
	platformconfig "chartlens-server-go/internal/platform/config"
	platformerrors "chartlens-server-go/internal/platform/errors"
	platformlogging "chartlens-server-go/internal/platform/logging"
	platformobservability "chartlens-server-go/internal/platform/observability"
	platformstorage "chartlens-server-go/internal/platform/storage"
	httptransport "chartlens-server-go/internal/transport/http"
	authhttp "chartlens-server-go/internal/transport/http/auth"
	charthttp "chartlens-server-go/internal/transport/http/chart"
	systemhttp "chartlens-server-go/internal/transport/http/system"
	"chartlens-server-go/internal/transport/ws"
)

const scalarHTML = `<!DOCTYPE html>
<html lang="en">
	<head>
		<meta charset="utf-8" />
		<title>chartlens API Reference</title>
		<meta name="viewport" content="width=device-width, initial-scale=1" />
	</head>
	<body>
		<script
			id="api-reference"
			data-url="/openapi.json"
			data-layout="modern"
			src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"
		></script>
	</body>
</html>`

const eventWorkers = 4

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	console               io.Writer
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	store                 store.Store
	bus                   *eventbus.AsyncEventBus
	pipeline              *domainimage.Pipeline
	chartService          *services.ChartCheckService
	authToken             *domainauth.AuthToken
}

// Run loads configuration, initialises dependencies and serves until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.close()
		return err
	}
	defer state.close()

	logger := state.logger
	logBootstrapGraph(steps, logger)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCtx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(groupCtx, state, group); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	return waitForShutdown(groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("BOOT", "init graph")
	for _, step := range steps {
		deps := "-"
		if len(step.DependsOn) > 0 {
			deps = strings.Join(step.DependsOn, ", ")
		}
		logger.InfoTag("BOOT", "  %s: %s (after %s)", step.ID, step.Title, deps)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open verdict database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "store:init-verdicts",
			Title:     "Initialise verdict store",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initVerdictStoreStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Start event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "services:init-chart",
			Title:     "Initialise chart check service",
			DependsOn: []string{"observability:setup-hooks", "store:init-verdicts", "events:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initChartServiceStep,
		},
		{
			ID:        "auth:init-token",
			Title:     "Initialise API token issuer",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindConfig,
			Execute:   initAuthStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	if state.config != nil {
		if state.configPath == "" {
			state.configPath = "preset"
		}
		return nil
	}

	res, err := platformconfig.NewLoader().WithDotEnv(true).Load()
	if err != nil {
		return err
	}
	state.config = res.Config
	state.configPath = res.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
		Console:  state.console,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	platformlogging.SetDefault(logger)
	logger.InfoTag("BOOT", "logging ready [%s] config=%s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled:  strings.EqualFold(state.config.Log.Level, "debug"),
		SlowSpan: state.config.Log.SlowSpan,
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	driver := strings.ToLower(state.config.Store.Driver)
	if !store.NeedsDatabase(driver) {
		return nil
	}

	dbCfg := platformstorage.DatabaseConfig{Dialect: platformstorage.Dialect(driver)}
	switch driver {
	case store.DriverSQLite:
		dbCfg.DSN = state.config.Store.SQLite.Path
	case store.DriverPostgres:
		dbCfg.DSN = state.config.Store.Postgres.DSN
	}

	db, err := platformstorage.Open(dbCfg)
	if err != nil {
		return err
	}
	state.db = db
	state.logger.InfoTag("BOOT", "database ready dialect=%s", driver)
	return nil
}

func initVerdictStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.Store
	storeCfg := store.Config{
		Driver: cfg.Driver,
		TTL:    cfg.TTL,
	}

	switch strings.ToLower(cfg.Driver) {
	case store.DriverMemory, "":
		storeCfg.Memory = &store.MemoryConfig{GCInterval: cfg.Cleanup}
	case store.DriverRedis:
		if cfg.Redis.Addr == "" {
			return platformerrors.New(platformerrors.KindConfig, "store:init-verdicts", "redis store addr is required")
		}
		storeCfg.Redis = &store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}

	verdicts, err := store.New(storeCfg, store.Dependencies{DB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "store:init-verdicts", "failed to create verdict store", err)
	}
	state.store = verdicts
	state.logger.InfoTag("BOOT", "verdict store ready driver=%s ttl=%s", storeCfg.Driver, cfg.TTL)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.NewAsyncEventBus(eventWorkers, state.logger)
	state.bus.Start()
	return nil
}

func initChartServiceStep(_ context.Context, state *appState) error {
	cfg := state.config

	pipeline, err := domainimage.NewPipeline(domainimage.Options{
		Security: &cfg.Image.Security,
		Logger:   state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "services:init-chart", "failed to create image pipeline", err)
	}
	state.pipeline = pipeline

	fetcher := domainimage.NewFetcher(cfg.Image.FetchTimeout, cfg.Image.UserAgent)
	if cfg.Image.AllowPrivateFetch {
		state.logger.WarnTag("IMAGE", "url checks may reach private networks")
		fetcher.AllowPrivateNetworks()
	}

	svc, err := services.NewChartCheckService(services.ChartCheckOptions{
		Pipeline: pipeline,
		Fetcher:  fetcher,
		Store:    state.store,
		Events:   state.bus,
		Logger:   state.logger,
		Config:   cfg.Chart,
	})
	if err != nil {
		return err
	}
	state.chartService = svc
	return nil
}

func initAuthStep(_ context.Context, state *appState) error {
	auth := state.config.Server.Auth
	if !auth.Enabled {
		return nil
	}
	token, err := domainauth.NewAuthToken(state.config.Server.Token)
	if err != nil {
		return err
	}
	state.authToken = token.WithTTL(auth.TokenTTL)
	return nil
}

// close releases everything the init steps acquired, in reverse order.
func (s *appState) close() {
	logger := s.logger
	warn := func(what string, err error) {
		if err != nil && logger != nil {
			logger.WarnTag("BOOT", "%s: %v", what, err)
		}
	}

	if s.bus != nil {
		s.bus.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.store != nil {
		warn("verdict store close", s.store.Close(ctx))
	}
	if s.db != nil {
		warn("database close", platformstorage.Close(s.db))
	}
	if s.observabilityShutdown != nil {
		warn("observability shutdown", s.observabilityShutdown(ctx))
	}
	if logger != nil {
		_ = logger.Close()
	}
}

func startServices(ctx context.Context, state *appState, g *errgroup.Group) error {
	startStoreCleanup(ctx, state, g)
	if _, err := startHTTPServer(ctx, state, g); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	return nil
}

func startStoreCleanup(ctx context.Context, state *appState, g *errgroup.Group) {
	interval := state.config.Store.Cleanup
	if interval <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := state.store.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
					state.logger.WarnTag("STORE", "cleanup expired verdicts failed: %v", err)
				}
			}
		}
	})
}

// buildHTTPHandler assembles every route. The returned feed must be stopped by
// the caller.
func buildHTTPHandler(ctx context.Context, state *appState) (*gin.Engine, *ws.Feed, error) {
	cfg := state.config
	logger := state.logger

	var authService *authhttp.Service
	var authMiddleware gin.HandlerFunc
	if state.authToken != nil {
		svc, err := authhttp.NewService(state.authToken, logger)
		if err != nil {
			return nil, nil, err
		}
		authService = svc
		authMiddleware = svc.Middleware()
	}

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:         cfg,
		Logger:         logger,
		AuthMiddleware: authMiddleware,
	})
	if err != nil {
		return nil, nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}
	router := httpRouter.Engine

	staticDir := cfg.Web.StaticDir
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			httptransport.RespondError(c, http.StatusNotFound, "api not found", gin.H{})
			return
		}
		if staticDir != "" {
			index := filepath.Join(staticDir, "index.html")
			if _, err := os.Stat(index); err == nil {
				c.File(index)
				return
			}
		}
		c.String(http.StatusNotFound, "not found")
	})

	if authService != nil {
		if err := authService.Register(ctx, httpRouter.API); err != nil {
			return nil, nil, err
		}
	}

	chartService, err := charthttp.NewService(charthttp.Options{
		Checker:        state.chartService,
		Logger:         logger,
		AllowedFormats: cfg.Image.Security.AllowedFormats,
		MaxBatchFiles:  cfg.Chart.MaxBatchFiles,
		MaxFileSize:    cfg.Image.Security.MaxFileSize,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := chartService.Register(ctx, httpRouter.Secured); err != nil {
		return nil, nil, err
	}

	systemService, err := systemhttp.NewService(state.chartService, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := systemService.Register(ctx, httpRouter.API); err != nil {
		return nil, nil, err
	}

	hub := ws.NewHub()
	feed := ws.NewFeed(state.bus, hub, logger)
	if err := feed.Start(); err != nil {
		return nil, nil, err
	}
	wsRouter := ws.NewRouter(ctx, hub, logger, ws.RouterOptions{AllowedOrigins: cfg.Web.AllowedOrigins})
	wsHandlers := []gin.HandlerFunc{}
	if authMiddleware != nil {
		wsHandlers = append(wsHandlers, authMiddleware)
	}
	wsHandlers = append(wsHandlers, gin.WrapF(wsRouter.Handle))
	router.GET("/ws/verdicts", wsHandlers...)

	router.GET("/openapi.json", func(c *gin.Context) {
		doc, err := swag.ReadDoc()
		if err != nil {
			logger.ErrorTag("HTTP", "render openapi document: %v", err)
			httptransport.RespondError(c, http.StatusInternalServerError, "failed to generate openapi document", gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
	})

	router.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(scalarHTML))
	})

	return router, feed, nil
}

func startHTTPServer(ctx context.Context, state *appState, g *errgroup.Group) (*http.Server, error) {
	cfg := state.config
	logger := state.logger

	handler, feed, err := buildHTTPHandler(ctx, state)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)
		logger.InfoTag("HTTP", "verdict feed: ws://%s/ws/verdicts", httpServer.Addr)
		logger.InfoTag("HTTP", "api docs: http://%s/docs", httpServer.Addr)

		go func() {
			<-ctx.Done()
			feed.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "http shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "http server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "http server failed: %v", err)
			return platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "http server failed", err)
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutting down: %v", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("BOOT", "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "shutdown timed out")
	}
	return nil
}
