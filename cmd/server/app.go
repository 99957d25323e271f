package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/browser"
	"browsernerd-actions/internal/config"
	"browsernerd-actions/internal/events"
	"browsernerd-actions/internal/locator"
	"browsernerd-actions/internal/mangle"
	mcpserver "browsernerd-actions/internal/mcp"
	"browsernerd-actions/internal/metrics"
	"browsernerd-actions/internal/policy"
	"browsernerd-actions/internal/recorder"
	"browsernerd-actions/internal/telemetry"
	"browsernerd-actions/internal/tempo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "browsernerd"

// app owns every long-lived component of the server.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	policies  *policy.Store
	watcher   *policy.Watcher
	network   *browser.NetworkMonitor
	sessions  *browser.SessionManager
	resolver  *locator.Resolver
	redis     *redis.Client
	facts     *mangle.Engine
	recorder  *recorder.Recorder
	collector *metrics.Collector
	tracing   *telemetry.Provider
	engine    *action.Engine
	server    *mcpserver.Server
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	initial := cfg.Policy
	if cfg.PolicyFile != "" {
		set, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
		initial = set
		a.policies = policy.NewStore(initial)
		a.watcher = policy.NewWatcher(cfg.PolicyFile, a.policies, time.Second, logger)
	} else {
		a.policies = policy.NewStore(initial)
	}

	a.network = browser.NewNetworkMonitor(cfg.Browser.NetworkHistory)
	a.sessions = browser.NewSessionManager(cfg.Browser, a.network, logger)

	cache, err := a.buildCache(ctx)
	if err != nil {
		return nil, err
	}
	opts := []locator.Option{locator.WithLogger(logger)}
	if cache != nil {
		opts = append(opts, locator.WithCache(cache))
	}
	a.resolver = locator.NewResolver(browser.NewDocument(a.sessions, logger), cfg.Locator, opts...)
	a.sessions.OnClose(a.resolver.Forget)
	a.sessions.OnClose(a.network.Forget)

	a.facts, err = mangle.NewEngine(cfg.Mangle, logger)
	if err != nil {
		return nil, fmt.Errorf("init mangle engine: %w", err)
	}
	sinks := events.Fanout{events.NewFactSink(a.facts, logger)}
	if cfg.Recorder.Enable {
		a.recorder, err = recorder.NewRecorder(cfg.Recorder, logger)
		if err != nil {
			return nil, fmt.Errorf("init recorder: %w", err)
		}
		sinks = append(sinks, events.NewRecorderSink(a.recorder))
	}

	var actionMetrics action.Metrics = action.NoopMetrics{}
	if cfg.Metrics.Enable {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.collector = metrics.NewCollector(metricsNamespace, reg, logger)
		actionMetrics = a.collector
	}

	a.tracing, err = telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var pacing action.Tempo = tempo.Noop{}
	if cfg.Tempo.Mode == "human" {
		pacing = tempo.NewHuman(cfg.Tempo.HumanConfig())
	}

	a.engine = action.New(action.Deps{
		Protocol:   browser.NewProtocol(a.sessions),
		Structural: browser.NewStructural(a.sessions),
		Network:    a.network,
		Locator:    a.resolver,
		Events:     sinks,
		Metrics:    actionMetrics,
		Tempo:      pacing,
		Policies:   a.policies,
		Logger:     logger,
		Tracer:     a.tracing.Tracer(),
	})

	a.server, err = mcpserver.NewServer(cfg, mcpserver.Deps{
		Sessions: a.sessions,
		Network:  a.network,
		Actions:  a.engine,
		Facts:    a.facts,
		Policies: a.policies,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init MCP server: %w", err)
	}

	ok = true
	return a, nil
}

func (a *app) buildCache(ctx context.Context) (locator.Cache, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case "memory", "":
		return locator.NewMemoryCache(c.MaxEntries, c.GetTTL()), nil
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis %s: %w", c.RedisAddr, err)
		}
		return locator.NewRedisCache(a.redis, c.Prefix, c.GetTTL()), nil
	default:
		return nil, nil
	}
}

// Run starts the background components and serves MCP until ctx is done.
func (a *app) Run(ctx context.Context) error {
	if a.cfg.Browser.AutoStart {
		if err := a.sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	} else {
		a.logger.Info("browser auto-start disabled; use launch-browser or attach-session")
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Run(ctx)
			return nil
		})
	}
	if a.collector != nil {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}
	g.Go(func() error {
		if a.cfg.MCP.SSEPort > 0 {
			a.logger.Info("starting MCP SSE server", zap.Int("port", a.cfg.MCP.SSEPort))
			return a.server.StartSSE(ctx, a.cfg.MCP.SSEPort)
		}
		a.logger.Info("starting MCP stdio server")
		return a.server.Start(ctx)
	})
	return g.Wait()
}

func (a *app) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.collector.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	a.logger.Info("metrics endpoint listening", zap.String("addr", a.cfg.Metrics.Addr), zap.String("path", a.cfg.Metrics.Path))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases everything buildApp acquired. Safe on a partial app.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.sessions != nil && a.sessions.IsConnected() {
		if err := a.sessions.Shutdown(ctx); err != nil {
			a.logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}
