package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/yrelay/pkg/protocol"
	"github.com/vango-dev/yrelay/pkg/room"
	"github.com/vango-dev/yrelay/pkg/server"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "yrelay").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for frame duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "yrelay",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the relay's Prometheus collectors. Create one per registry;
// registering twice on the same registry panics.
type Metrics struct {
	config  MetricsConfig
	factory promauto.Factory

	framesTotal       *prometheus.CounterVec
	frameDuration     *prometheus.HistogramVec
	frameBytes        *prometheus.CounterVec
	frameErrors       *prometheus.CounterVec
	connectsTotal     prometheus.Counter
	disconnectsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	sessionErrors     *prometheus.CounterVec
}

// NewMetrics creates and registers the relay metrics.
//
// Metrics collected:
//   - yrelay_frames_total: inbound frames by kind and status
//   - yrelay_frame_duration_seconds: frame processing duration by kind
//   - yrelay_frame_bytes_total: inbound bytes by kind
//   - yrelay_frame_errors_total: frame failures by kind and error type
//   - yrelay_connections_total: accepted connections
//   - yrelay_disconnections_total: closed connections
//   - yrelay_active_connections: currently open connections
//   - yrelay_session_errors_total: errors reported to the event sink
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//
//	cfg := server.DefaultServerConfig().
//	    WithEventSink(m.Sink(server.NewLogSink(logger)))
//	s := server.New(cfg)
//	s.Use(m.Middleware())
//	m.ObserveServer(s)
//	s.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)
	return &Metrics{
		config:  config,
		factory: factory,

		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_total",
			Help:        "Total number of inbound frames processed",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "status"}),

		frameDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_duration_seconds",
			Help:        "Frame processing duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"}),

		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_bytes_total",
			Help:        "Total inbound frame bytes",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		frameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_errors_total",
			Help:        "Total number of frame processing errors",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "error_type"}),

		connectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of accepted WebSocket connections",
			ConstLabels: config.ConstLabels,
		}),

		disconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnections_total",
			Help:        "Total number of closed WebSocket connections",
			ConstLabels: config.ConstLabels,
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open WebSocket connections",
			ConstLabels: config.ConstLabels,
		}),

		sessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_errors_total",
			Help:        "Total errors reported for connected clients by type",
			ConstLabels: config.ConstLabels,
		}, []string{"error_type"}),
	}
}

// Middleware returns a frame middleware that counts and times every frame.
func (m *Metrics) Middleware() server.FrameMiddleware {
	return func(ctx context.Context, f *server.Frame, next func(context.Context) error) error {
		kind := f.Kind()
		start := time.Now()

		err := next(ctx)

		m.frameDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		m.frameBytes.WithLabelValues(kind).Add(float64(f.Size()))

		status := "success"
		if err != nil {
			status = "error"
			m.frameErrors.WithLabelValues(kind, ErrorType(err)).Inc()
		}
		m.framesTotal.WithLabelValues(kind, status).Inc()
		return err
	}
}

// Sink wraps next with connection and error counting. A nil next only
// counts.
func (m *Metrics) Sink(next server.EventSink) server.EventSink {
	return &metricsSink{metrics: m, next: next}
}

// ObserveServer registers gauges that read the server's live statistics.
// Call it at most once per Metrics.
func (m *Metrics) ObserveServer(s *server.Server) {
	c := m.config
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        "rooms",
		Help:        "Number of rooms held in memory",
		ConstLabels: c.ConstLabels,
	}, func() float64 {
		return float64(len(s.Registry().Rooms()))
	})
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        "updates_applied_total",
		Help:        "Total number of document updates applied",
		ConstLabels: c.ConstLabels,
	}, func() float64 {
		return float64(s.Stats().UpdatesApplied)
	})
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        "broadcast_recipients_total",
		Help:        "Total number of frames fanned out to room members",
		ConstLabels: c.ConstLabels,
	}, func() float64 {
		return float64(s.Stats().BroadcastRecipients)
	})
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        "queue_overflows_total",
		Help:        "Total number of connections closed for a full send queue",
		ConstLabels: c.ConstLabels,
	}, func() float64 {
		return float64(s.Stats().QueueOverflows)
	})
}

type metricsSink struct {
	metrics *Metrics
	next    server.EventSink
}

func (s *metricsSink) OnConnect(clientID string) {
	s.metrics.connectsTotal.Inc()
	s.metrics.activeConnections.Inc()
	if s.next != nil {
		s.next.OnConnect(clientID)
	}
}

func (s *metricsSink) OnDisconnect(clientID string) {
	s.metrics.disconnectsTotal.Inc()
	s.metrics.activeConnections.Dec()
	if s.next != nil {
		s.next.OnDisconnect(clientID)
	}
}

func (s *metricsSink) OnMessage(clientID string, msg *protocol.Message) {
	if s.next != nil {
		s.next.OnMessage(clientID, msg)
	}
}

func (s *metricsSink) OnError(clientID string, err error) {
	s.metrics.sessionErrors.WithLabelValues(ErrorType(err)).Inc()
	if s.next != nil {
		s.next.OnError(clientID, err)
	}
}

// ErrorType returns a low-cardinality label for err.
func ErrorType(err error) string {
	var routingErr *server.RoutingError
	switch {
	case err == nil:
		return "none"
	case protocol.IsDecodeError(err):
		return "decode"
	case errors.Is(err, room.ErrApply):
		return "apply"
	case errors.Is(err, room.ErrSync):
		return "sync"
	case errors.Is(err, room.ErrClosed):
		return "closed"
	case errors.Is(err, server.ErrTextFrame):
		return "text_frame"
	case errors.Is(err, server.ErrSendQueueFull), errors.Is(err, server.ErrSessionClosed):
		return "send"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &routingErr):
		return "routing"
	default:
		return "internal"
	}
}
