package emit

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans for distributed tracing.
// Each event becomes one immediately-ended span: events are points in time,
// not durations.
//
//	tracer := otel.Tracer("dealgraph")
//	emitter := emit.NewOTelEmitter(tracer)
//
// Span attributes use the "dealgraph." namespace: run_id, seq, step, kind,
// and the touched channel names. Error events set the span status to Error.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter over tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as a span.
func (o *OTelEmitter) Emit(event Event) {
	name := string(event.Kind)
	if event.Step != "" {
		name = event.Step
	}

	_, span := o.tracer.Start(context.Background(), name)
	defer span.End()

	span.SetAttributes(
		attribute.String("dealgraph.run_id", event.RunID),
		attribute.Int("dealgraph.seq", event.Seq),
		attribute.String("dealgraph.kind", string(event.Kind)),
	)
	if event.Step != "" {
		span.SetAttributes(attribute.String("dealgraph.step", event.Step))
	}
	if len(event.Channels) > 0 {
		names := make([]string, 0, len(event.Channels))
		for channel := range event.Channels {
			names = append(names, channel)
		}
		sort.Strings(names)
		span.SetAttributes(attribute.StringSlice("dealgraph.channels", names))
	}

	if event.Kind == KindError {
		span.SetStatus(codes.Error, event.Reason)
		span.RecordError(errors.New(event.Reason))
	}
}

// Flush forces export of pending spans from the global provider, when it
// supports flushing. Call before shutdown.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
