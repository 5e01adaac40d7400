package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxypedia/gateway/internal/cache"
	"github.com/proxypedia/gateway/internal/chat"
	"github.com/proxypedia/gateway/internal/config"
	"github.com/proxypedia/gateway/internal/datasource"
	"github.com/proxypedia/gateway/internal/frontdoor"
	"github.com/proxypedia/gateway/internal/limiter"
	"github.com/proxypedia/gateway/internal/server"
	"github.com/proxypedia/gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: config.yaml if present)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize OpenTelemetry
	spans, shutdownTracer, err := telemetry.InitTracer("proxypedia-gateway", telemetry.TracerOptions{
		SampleRate:     cfg.Trace.SampleRate,
		SpanBufferSize: 256,
		Stdout:         cfg.Trace.Stdout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	// Rate limit state, swept in the background.
	rateStore := limiter.NewMemoryStore()
	defer rateStore.Close()

	data := datasource.NewClient(cfg.DataSource.URL, cfg.DataSource.APIKey,
		datasource.WithTable(cfg.DataSource.Table),
		datasource.WithTimeout(cfg.DataSource.Timeout),
	)

	// Provider order is failover order: primary first, fallback second.
	providers := []*chat.Client{
		chat.NewClient("openai", cfg.Chat.BaseURL, chat.NewKeyPool(cfg.Chat.Keys),
			chat.WithTimeout(cfg.Chat.Timeout)),
		chat.NewClient("deepseek", cfg.Chat.FallbackURL, chat.NewKeyPool(cfg.Chat.FallbackKey),
			chat.WithTimeout(cfg.Chat.Timeout)),
	}
	models := map[string]string{
		"openai":   cfg.Chat.Model,
		"deepseek": cfg.Chat.FallbackModel,
	}
	completer := chat.NewService(providers, models, cfg.Chat.MaxTokens, cfg.Chat.Temperature, logger)

	searchCache := cache.NewLRU[frontdoor.SearchResponse](cfg.Cache.Size, cfg.Cache.TTL)

	srv := server.New(cfg.Server.Port, cfg.Server.Timeout, cfg.CORS.Origins, logger)

	handler := frontdoor.New(logger, data, completer, searchCache, cfg.Sanitize, spans)
	handler.Mount(srv.Router, rateStore, cfg.Limits)
	srv.Router.Handle("/metrics", promhttp.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("datasource", cfg.DataSource.URL),
		slog.Float64("trace_sample_rate", cfg.Trace.SampleRate),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}
