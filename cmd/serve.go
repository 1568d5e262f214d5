package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"

	"github.com/sorryformyhair/dmflow/internal/agent"
	"github.com/sorryformyhair/dmflow/internal/channels/instagram"
	"github.com/sorryformyhair/dmflow/internal/config"
	"github.com/sorryformyhair/dmflow/internal/dispatcher"
	"github.com/sorryformyhair/dmflow/internal/ingest"
	"github.com/sorryformyhair/dmflow/internal/normalizer"
	"github.com/sorryformyhair/dmflow/internal/outbound"
	"github.com/sorryformyhair/dmflow/internal/providers"
	"github.com/sorryformyhair/dmflow/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and buffer dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeE()
		},
	}
}

func runServe() {
	if err := runServeE(); err != nil {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

func runServeE() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Secrets.OpenAIAPIKey == "" {
		return fmt.Errorf("DMFLOW_OPENAI_API_KEY environment variable is not set")
	}
	if cfg.Secrets.IGAccessToken == "" {
		return fmt.Errorf("DMFLOW_IG_ACCESS_TOKEN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing()

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()
	slog.Info("stores ready", "backend", cfg.Database.Backend)

	provider := providers.NewOpenAIProvider(cfg.Secrets.OpenAIAPIKey, cfg.Agent.BaseURL, cfg.Agent.Model)

	registry := tools.NewRegistry()
	registry.Register(tools.NewCatalogTool(stores.Catalog))
	registry.Register(tools.NewOrderTool(stores.Orders))

	igClient := instagram.NewClient(cfg.Secrets.IGAccessToken, cfg.Secrets.IGPageID)
	segmenter := outbound.NewSegmenter(provider, cfg.Agent.SplitterModel,
		cfg.Outbound.HardLimitChars, cfg.Outbound.SoftLimitChars)
	sender := outbound.NewSender(igClient, segmenter, cfg.SegmentGap(), cfg.Outbound.SendsPerMinute)

	orchestrator := agent.New(agent.Config{
		Provider:      provider,
		Model:         cfg.Agent.Model,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		HistoryTurns:  cfg.Agent.HistoryTurns,
		MaxIterations: cfg.Agent.MaxToolIterations,
		History:       stores.History,
		Tools:         registry,
		Sender:        sender,
	})

	norm := normalizer.NewOpenAINormalizer(provider, cfg.Agent.VisionModel, cfg.Agent.TranscribeModel)

	disp := dispatcher.New(dispatcher.Config{
		Tick:           cfg.Tick(),
		Debounce:       cfg.Debounce(),
		BatchSize:      cfg.Dispatcher.BatchSize,
		MaxConcurrency: cfg.Dispatcher.MaxConcurrency,
		MaxRetries:     cfg.Buffer.MaxRetries,
		BaseRetryDelay: time.Duration(cfg.Buffer.BaseRetrySecs) * time.Second,
		MaxRetryDelay:  time.Duration(cfg.Buffer.MaxRetrySecs) * time.Second,
	}, stores.Buffer, norm, orchestrator)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := ingest.NewServer(addr, stores.Buffer, cfg.Secrets.IGVerifyToken, cfg.Server.RateLimitRPM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })

	slog.Info("dmflow running", "version", Version, "addr", addr)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("dmflow shut down")
	return nil
}

// setupTracing installs an OTLP HTTP exporter when an endpoint is
// configured; otherwise tracing stays a no-op.
func setupTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	if cfg.Telemetry.OTLPEndpoint == "" {
		return func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Telemetry.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.Telemetry.ServiceName),
		semconv.ServiceVersion(Version),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("trace provider shutdown failed", "error", err)
		}
	}, nil
}
