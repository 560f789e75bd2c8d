// Package telemetry sets up trace export for the command line tools.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/specklesystems/objectloader2/internal/build"
)

type TracerOption func(d *customTracer)

// WithOTLPEndpoint exports spans over OTLP/gRPC to endpoint. Without it no
// exporter is installed.
func WithOTLPEndpoint(endpoint string) TracerOption {
	return func(d *customTracer) {
		d.endpoint = endpoint
	}
}

func WithInsecure(insecure bool) TracerOption {
	return func(d *customTracer) {
		d.insecure = insecure
	}
}

func WithServiceName(serviceName string) TracerOption {
	return func(d *customTracer) {
		d.attributes = append(d.attributes, semconv.ServiceNameKey.String(serviceName))
	}
}

func WithAttributes(attrs ...attribute.KeyValue) TracerOption {
	return func(d *customTracer) {
		d.attributes = append(d.attributes, attrs...)
	}
}

func WithSamplingRatio(samplingRatio float64) TracerOption {
	return func(d *customTracer) {
		d.samplingRatio = samplingRatio
	}
}

type customTracer struct {
	endpoint      string
	insecure      bool
	attributes    []attribute.KeyValue
	samplingRatio float64
}

// MustNewTracerProvider builds a tracer provider, installs it as the global
// one and panics when the exporter cannot be created. Callers shut it down.
func MustNewTracerProvider(opts ...TracerOption) *sdktrace.TracerProvider {
	tracer := &customTracer{
		attributes: []attribute.KeyValue{
			semconv.ServiceNameKey.String(build.ProjectName),
			semconv.ServiceVersionKey.String(build.Version),
		},
	}

	for _, opt := range opts {
		opt(tracer)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(tracer.attributes...),
	)
	if err != nil {
		panic(err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tracer.samplingRatio))),
		sdktrace.WithResource(res),
	}

	if tracer.endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tracer.endpoint)}
		if tracer.insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}

		exp, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			panic(fmt.Sprintf("failed to establish a connection with the otlp exporter: %v", err))
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)

	return tp
}

// TraceError records err on span and marks the span failed.
func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
