package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/yrelay/internal/config"
	"github.com/vango-dev/yrelay/pkg/middleware"
	"github.com/vango-dev/yrelay/pkg/server"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long: `Start the relay server.

Configuration is read from yrelay.yaml (or --config), then YRELAY_*
environment variables, then flags.

Endpoints:
  /ws/{room}   WebSocket sync endpoint
  /healthz     liveness probe
  /rooms       rooms and member counts (JSON)
  /rooms/{room} members of one room (JSON)
  /sessions    per-connection counters (JSON)
  /stats       server statistics (JSON)
  /metrics     Prometheus metrics (when enabled)

Examples:
  yrelay serve
  yrelay serve --address=:8080 --log-format=json
  YRELAY_SESSION_SEND_QUEUE_SIZE=1024 yrelay serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, os.Stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringP("address", "a", ":1234", "Address to listen on")
	flags.Int("max-connections", 0, "Maximum concurrent connections (0 = unlimited)")
	flags.StringSlice("allowed-origins", nil, `Allowed WebSocket origins ("*" allows all)`)
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.Bool("metrics", true, "Expose Prometheus metrics")
	flags.Bool("tracing", false, "Trace frames with OpenTelemetry (spans written to stderr)")

	return cmd
}

// relay is a configured server plus the observability it owns.
type relay struct {
	server   *server.Server
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
	logger   *slog.Logger
}

func newRelay(cfg *config.Config, logger *slog.Logger, traceOut io.Writer) (*relay, error) {
	r := &relay{logger: logger}
	sc := cfg.ServerConfig().WithLogger(logger)

	var sink server.EventSink = server.NewLogSink(logger)
	var metrics *middleware.Metrics
	if cfg.Metrics.Enabled {
		r.registry = prometheus.NewRegistry()
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = middleware.NewMetrics(
			middleware.WithRegistry(r.registry),
			middleware.WithNamespace(cfg.Metrics.Namespace),
		)
		sink = metrics.Sink(sink)
	}
	sc.EventSink = sink

	s := server.New(sc)
	r.server = s

	if cfg.Tracing.Enabled {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(traceOut))
		if err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
		r.tracer = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		s.Use(middleware.OpenTelemetry(
			middleware.WithTracerProvider(r.tracer),
			middleware.WithTracerName(cfg.Tracing.TracerName),
		))
	}

	if metrics != nil {
		s.Use(metrics.Middleware())
		metrics.ObserveServer(s)
		s.Handle(cfg.Metrics.Path, promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
			Registry: r.registry,
		}))
	}
	return r, nil
}

// close flushes the tracer. The server shuts itself down when its context
// ends.
func (r *relay) close(ctx context.Context) error {
	if r.tracer == nil {
		return nil
	}
	if err := r.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger, err := cfg.Logger(logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if f := cfg.File(); f != "" {
		logger.Info("config loaded", "file", f)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(cfg, logger, logOut)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return r.close(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
