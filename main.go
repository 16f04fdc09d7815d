package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentlab-ai/agentlab/internal/capability"
	"github.com/agentlab-ai/agentlab/internal/config"
	"github.com/agentlab-ai/agentlab/internal/health"
	"github.com/agentlab-ai/agentlab/internal/httpapi"
	"github.com/agentlab-ai/agentlab/internal/journal"
	"github.com/agentlab-ai/agentlab/internal/llm"
	"github.com/agentlab-ai/agentlab/internal/orchestrator"
	"github.com/agentlab-ai/agentlab/internal/patterns"
	"github.com/agentlab-ai/agentlab/internal/streaming"
	"github.com/agentlab-ai/agentlab/internal/tools"
	"github.com/agentlab-ai/agentlab/internal/tracing"
	"github.com/agentlab-ai/agentlab/internal/workspace"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGENTLAB_CONFIG"), "path to the agentlab config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
	logger, err := buildLogger(cfg.Logging.Format, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first so every component picks up the global provider.
	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build model provider", zap.Error(err))
	}

	ws, err := buildWorkspace(cfg.Workspace.Root)
	if err != nil {
		logger.Fatal("Failed to create workspace", zap.Error(err))
	}
	if cfg.Workspace.Root == "" {
		defer ws.Remove()
	}

	toolReg := tools.NewRegistry(
		tools.NewCalculator(),
		tools.NewScriptRunner(ws, cfg.Workspace.ScriptTimeout, logger),
		tools.NewFileOps(ws),
	)

	caps := patterns.Capabilities{
		Reasoning:  capability.NewReasoning(provider, logger),
		ToolUse:    capability.NewToolUse(provider, logger),
		Validation: capability.NewValidation(provider, logger),
		Synthesis:  capability.NewSynthesis(provider, logger),
	}
	capReg := capability.NewRegistry(caps.Reasoning, caps.ToolUse, caps.Validation, caps.Synthesis)

	orch := orchestrator.New(patterns.Default(caps), toolReg, logger)
	orch.SetModelDefaults(llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})

	healthMgr := health.NewManager(logger)

	var streamOpts []streaming.Option
	if cfg.Streaming.RingCapacity > 0 {
		streamOpts = append(streamOpts, streaming.WithCapacity(cfg.Streaming.RingCapacity))
	}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		streamOpts = append(streamOpts, streaming.WithRedisMirror(redisClient))
		healthMgr.Register(health.NewRedisChecker(redisClient))
		logger.Info("Redis event mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}
	streams := streaming.NewManager(logger, streamOpts...)
	orch.AddSink(streams)

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Fatal("Failed to open run journal", zap.Error(err))
		}
		defer jnl.Close()
		orch.AddSink(jnl)
		healthMgr.Register(health.NewJournalChecker(jnl))
		logger.Info("Run journal enabled", zap.String("path", cfg.Journal.Path))
	}

	// Hot reload: log level and ring capacity apply without a restart.
	if *configPath != "" {
		mgr, err := config.NewManager(*configPath, logger)
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			mgr.OnReload(func(next *config.Config) {
				logLevel.SetLevel(parseLevel(next.Logging.Level))
				streams.SetCapacity(next.Streaming.RingCapacity)
			})
			if err := mgr.Start(); err != nil {
				logger.Warn("Config watcher failed to start", zap.Error(err))
			} else {
				defer mgr.Stop()
			}
		}
	}

	// Admin server: health probes and Prometheus metrics, on its own port.
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: adminMux,
	}
	go func() {
		logger.Info("Admin server listening", zap.String("addr", adminSrv.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	apiMux := http.NewServeMux()
	httpapi.NewServer(orch, capReg, toolReg, streams, jnl, logger).RegisterRoutes(apiMux)
	apiSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      apiMux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}
	go func() {
		logger.Info("API server listening",
			zap.String("addr", apiSrv.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(format string, level zap.AtomicLevel) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func buildProvider(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "scripted":
		// Offline mode: patterns run but every model call fails fast. Useful
		// for exercising the HTTP surface without credentials.
		return llm.NewScriptedProvider(), nil
	default:
		return llm.NewOpenAIProvider(llm.OpenAIOptions{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		}, logger)
	}
}

func buildWorkspace(root string) (*workspace.Workspace, error) {
	if root == "" {
		return workspace.NewTemp(uuid.New().String())
	}
	return workspace.New(root)
}
