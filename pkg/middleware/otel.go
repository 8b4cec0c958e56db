package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/yrelay/pkg/server"
)

// Default tracer name.
const defaultTracerName = "yrelay"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "yrelay").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// IncludeClientID includes the client id in spans.
	// Enabled by default.
	IncludeClientID bool

	// Filter determines which frames to trace.
	// Return true to trace the frame, false to skip.
	// If nil, all frames are traced.
	Filter func(f *server.Frame) bool

	// AttributeExtractor extracts custom attributes from the frame.
	AttributeExtractor func(f *server.Frame) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeClientID enables/disables the client id attribute.
func WithIncludeClientID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeClientID = include
	}
}

// WithFrameFilter sets a filter function for frames.
func WithFrameFilter(filter func(f *server.Frame) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(f *server.Frame) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:      defaultTracerName,
		IncludeClientID: true,
	}
}

// OpenTelemetry creates middleware that traces every inbound frame.
//
// Each span is named "yrelay.<kind>" (for example "yrelay.update" or
// "yrelay.awareness") and carries the room, frame size and, unless
// disabled, the client id. Errors are recorded and set the span status.
// The span context is passed down the chain, so later middleware can use
// trace.SpanFromContext.
//
// Example:
//
//	s.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("relay"),
//	    middleware.WithFrameFilter(func(f *server.Frame) bool {
//	        return f.Kind() != "awareness"
//	    }),
//	))
//
// Without WithTracerProvider the global provider is used. Configure it in
// main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) server.FrameMiddleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.TracerProvider != nil {
		tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}

	return func(ctx context.Context, f *server.Frame, next func(context.Context) error) error {
		if config.Filter != nil && !config.Filter(f) {
			return next(ctx)
		}

		kind := f.Kind()
		attrs := []attribute.KeyValue{
			attribute.String("yrelay.kind", kind),
			attribute.String("yrelay.room", f.Room),
			attribute.Int("yrelay.frame_size", f.Size()),
		}
		if config.IncludeClientID {
			attrs = append(attrs, attribute.String("yrelay.client_id", f.ClientID))
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(f)...)
		}

		spanCtx, span := tracer.Start(ctx, "yrelay."+kind,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		err := next(spanCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("yrelay.error_type", ErrorType(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
