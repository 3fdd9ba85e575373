// Package telemetry exports traces over OTLP and wraps the transport event
// hooks in spans, so one relayed message shows up as a single trace from
// ingress through fan-out.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/relay"
	"github.com/interchat-hq/interchat/internal/transport"
)

const tracerName = "github.com/interchat-hq/interchat"

const defaultServiceName = "interchat-relay"

// Start installs the global tracer provider per cfg and returns a shutdown
// that flushes pending spans. Disabled telemetry returns a no-op shutdown.
func Start(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	slog.Info("telemetry enabled",
		"endpoint", cfg.Endpoint, "protocol", cfg.Protocol, "sample_ratio", ratio)
	return tp.Shutdown, nil
}

// WrapHandlers returns a copy of h whose hooks each run inside a span.
// Nil hooks stay nil so the transport's own guards keep working.
func WrapHandlers(h transport.Handlers) transport.Handlers {
	tr := otel.Tracer(tracerName)
	wrapped := h

	if inner := h.OnMessage; inner != nil {
		wrapped.OnMessage = func(ctx context.Context, m relay.MessageSnapshot) {
			ctx, span := tr.Start(ctx, "relay.message", trace.WithAttributes(
				attribute.String("channel.id", m.ChannelID),
				attribute.String("server.id", m.ServerID),
			))
			defer span.End()
			inner(ctx, m)
		}
	}
	if inner := h.OnMessageEdit; inner != nil {
		wrapped.OnMessageEdit = func(ctx context.Context, e relay.EditSnapshot) {
			ctx, span := tr.Start(ctx, "relay.edit", trace.WithAttributes(
				attribute.String("channel.id", e.ChannelID),
			))
			defer span.End()
			inner(ctx, e)
		}
	}
	if inner := h.OnMessageDelete; inner != nil {
		wrapped.OnMessageDelete = func(ctx context.Context, d relay.DeleteSnapshot) {
			ctx, span := tr.Start(ctx, "relay.delete", trace.WithAttributes(
				attribute.String("channel.id", d.ChannelID),
			))
			defer span.End()
			inner(ctx, d)
		}
	}
	if inner := h.OnTyping; inner != nil {
		wrapped.OnTyping = func(ctx context.Context, channelID, userID string) {
			ctx, span := tr.Start(ctx, "relay.typing", trace.WithAttributes(
				attribute.String("channel.id", channelID),
			))
			defer span.End()
			inner(ctx, channelID, userID)
		}
	}
	if inner := h.OnServerRemoved; inner != nil {
		wrapped.OnServerRemoved = func(ctx context.Context, serverID string) {
			ctx, span := tr.Start(ctx, "relay.server_removed", trace.WithAttributes(
				attribute.String("server.id", serverID),
			))
			defer span.End()
			inner(ctx, serverID)
		}
	}
	return wrapped
}
