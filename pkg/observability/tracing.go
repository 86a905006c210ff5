// Package observability provides unified observability functionality for the
// control plane. It consolidates logging, metrics, and tracing into a
// cohesive interface.
package observability

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// otelSpanWrapper wraps an OpenTelemetry span to implement the Span interface
type otelSpanWrapper struct {
	span trace.Span
}

func (o *otelSpanWrapper) End() {
	o.span.End()
}

func (o *otelSpanWrapper) SetStatus(code int, description string) {
	var statusCode codes.Code
	switch code {
	case 1:
		statusCode = codes.Ok
	case 2:
		statusCode = codes.Error
	default:
		statusCode = codes.Unset
	}
	o.span.SetStatus(statusCode, description)
}

func (o *otelSpanWrapper) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		o.span.SetAttributes(attribute.String(key, v))
	case int:
		o.span.SetAttributes(attribute.Int(key, v))
	case int64:
		o.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		o.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		o.span.SetAttributes(attribute.Bool(key, v))
	case []attribute.KeyValue:
		o.span.SetAttributes(v...)
	default:
		o.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (o *otelSpanWrapper) AddEvent(name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	o.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (o *otelSpanWrapper) RecordError(err error) {
	o.span.RecordError(err)
}

func (o *otelSpanWrapper) SpanContext() trace.SpanContext {
	return o.span.SpanContext()
}

func (o *otelSpanWrapper) TracerProvider() trace.TracerProvider {
	return o.span.TracerProvider()
}

// Span attribute keys used across the control plane
const (
	TaskIDAttributeKey     = attribute.Key("awcp.task_id")
	AgentIDAttributeKey    = attribute.Key("awcp.agent_id")
	OwnerIDAttributeKey    = attribute.Key("awcp.owner_id")
	ResourceIDAttributeKey = attribute.Key("awcp.resource_id")
	MessageTypeAttrKey     = attribute.Key("awcp.message_type")
)

// InitTracing initializes an in-process OpenTelemetry tracer provider. It
// does not dial any collector: wiring a real OTLP exporter is left to the
// binary's main() the way the caller wires a database or cache. Sampling is
// always-on, matching the low request volume of a control-plane process.
func InitTracing(cfg TracingConfig) (func(), error) {
	if !cfg.Enabled {
		log.Println("tracing disabled")
		return func() {}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "awcp"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	SetTracer(otel.Tracer(cfg.ServiceName))

	log.Printf("tracing initialized: service=%s environment=%s", cfg.ServiceName, cfg.Environment)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}, nil
}

var (
	globalTracer     trace.Tracer
	globalTracerInit bool
)

// SetTracer sets the global tracer
func SetTracer(t trace.Tracer) {
	globalTracer = t
	globalTracerInit = true
}

// GetTracer returns the global tracer, falling back to a no-op tracer.
func GetTracer() trace.Tracer {
	if !globalTracerInit {
		return trace.NewNoopTracerProvider().Tracer("")
	}
	return globalTracer
}

// StartSpan starts a new span and returns the wrapped span and context.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, otelSpan := GetTracer().Start(ctx, name)
	return ctx, &otelSpanWrapper{span: otelSpan}
}

// SetSpanStatus records an error, if any, on the current span.
func SetSpanStatus(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceDistribution wraps a Distributor.Distribute tick.
func TraceDistribution(ctx context.Context, ownerID string) (context.Context, Span) {
	ctx, span := StartSpan(ctx, "distributor.distribute")
	span.SetAttribute(string(OwnerIDAttributeKey), ownerID)
	return ctx, span
}

// TraceMessage wraps a Fabric.Send call.
func TraceMessage(ctx context.Context, messageType string) (context.Context, Span) {
	ctx, span := StartSpan(ctx, "fabric.send")
	span.SetAttribute(string(MessageTypeAttrKey), messageType)
	return ctx, span
}

// TraceResourceUpdate wraps a ResourceMonitor.UpdateUsage call.
func TraceResourceUpdate(ctx context.Context, resourceID string) (context.Context, Span) {
	ctx, span := StartSpan(ctx, "resources.update_usage")
	span.SetAttribute(string(ResourceIDAttributeKey), resourceID)
	return ctx, span
}
