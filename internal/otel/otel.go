package otel

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanpama/notegraph/internal/eventbus"
	"github.com/hanpama/notegraph/internal/events"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Subscribe(otel.Tracer("notegraph"))

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscribe traces loader batches and store aggregations with tracer.
// Aggregations issued by a batch become children of the batch span.
func Subscribe(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer     trace.Tracer
	batchSpans sync.Map // batch id -> trace.Span
	aggSpans   sync.Map // op id -> trace.Span
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.LoaderBatchStart) {
			_, span := s.tracer.Start(ctx, "loader.batch")
			span.SetAttributes(
				attribute.String("loader.name", e.Loader),
				attribute.String("loader.group", e.Group),
				attribute.Int("loader.keys", e.Keys),
				attribute.Int("loader.ids", e.IDs),
			)
			s.batchSpans.Store(e.BatchID, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.LoaderBatchFinish) {
			v, ok := s.batchSpans.LoadAndDelete(e.BatchID)
			if !ok {
				return
			}
			end(v.(trace.Span), e.Err)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.AggregateStart) {
			parent := ctx
			if e.BatchID != uuid.Nil {
				if v, ok := s.batchSpans.Load(e.BatchID); ok {
					parent = trace.ContextWithSpan(ctx, v.(trace.Span))
				}
			}
			_, span := s.tracer.Start(parent, "mongodb.aggregate", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				semconv.DBSystemMongoDB,
				semconv.DBOperationKey.String("aggregate"),
				semconv.DBMongoDBCollectionKey.String(e.Collection),
				attribute.Int("db.mongodb.stages", e.Stages),
			)
			s.aggSpans.Store(e.OpID, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.AggregateFinish) {
			v, ok := s.aggSpans.LoadAndDelete(e.OpID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Int("db.mongodb.documents", e.Documents))
			end(span, e.Err)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func end(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
