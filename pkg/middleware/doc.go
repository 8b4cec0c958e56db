// Package middleware provides observability for the relay.
//
// This package includes:
//   - OpenTelemetry tracing of inbound frames
//   - Prometheus metrics for frames, connections and rooms
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware opens one span per inbound frame, named after
// the frame kind, with room, size and client id attributes.
//
//	s := server.New(server.DefaultServerConfig())
//	s.Use(middleware.OpenTelemetry())
//
// # Prometheus Metrics
//
// Metrics combines a frame middleware with an event sink wrapper so that
// both per-frame and per-connection counters are collected:
//   - yrelay_frames_total: frames processed by kind and status
//   - yrelay_frame_duration_seconds: frame processing duration histogram
//   - yrelay_active_connections: currently open connections
//   - yrelay_rooms: rooms held in memory
//
//	reg := prometheus.NewRegistry()
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	cfg := server.DefaultServerConfig().WithEventSink(m.Sink(nil))
//	s := server.New(cfg)
//	s.Use(m.Middleware())
//	m.ObserveServer(s)
//	s.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// Middleware runs in the order it is registered, so register tracing before
// metrics to have the metrics middleware inside the span.
package middleware
