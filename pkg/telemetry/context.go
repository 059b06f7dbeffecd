package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// MetricsFrom returns the context's metrics. The result may be nil; every
// Metrics method is a no-op on nil.
func MetricsFrom(ctx context.Context) *Metrics {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.Metrics
	}
	return nil
}

// EventsFrom returns the context's event publisher, possibly nil.
func EventsFrom(ctx context.Context) *EventPublisher {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.Events
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

type runSpanKey struct{}
type runTimerKey struct{}

// WithRunContext creates a context enriched with run-specific telemetry.
func WithRunContext(ctx context.Context, runID, user string, machines int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID)

	logger := FromContext(ctx).WithRunID(runID).WithField("user", user)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(user)
	_ = tel.Events.PublishRunStarted(runID, user, machines)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())
	return spanCtx
}

// EndRunContext completes the run context, recording metrics and events.
func EndRunContext(ctx context.Context, runID string, status engine.RunStatus, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(string(status)))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordRunCompleted(string(status), duration)
	_ = tel.Events.PublishRunCompleted(runID, status, duration)
}

type phaseSpanKey struct{}
type phaseTimerKey struct{}

// WithPhaseContext creates a context enriched with phase-specific telemetry.
func WithPhaseContext(ctx context.Context, runID, phase string, machines int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartPhaseSpan(ctx, phase, machines)

	logger := FromContext(ctx).WithPhase(phase)
	spanCtx = logger.WithContext(spanCtx)

	_ = tel.Events.PublishPhaseStarted(runID, phase, machines)

	spanCtx = context.WithValue(spanCtx, phaseSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, phaseTimerKey{}, NewTimer())
	return spanCtx
}

// EndPhaseContext completes the phase context.
func EndPhaseContext(ctx context.Context, runID, phase string, failed int) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(phaseSpanKey{}).(trace.Span); ok {
		span.SetAttributes(attribute.Int("phase.failed", failed))
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(phaseTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordPhaseFailures(phase, failed)
	_ = tel.Events.PublishPhaseCompleted(runID, phase, failed, duration)
}

// TraceCall wraps one sub-service call with a span and records its metrics.
// fn receives the span context; its error is returned unchanged.
func TraceCall(ctx context.Context, phase, machine, service, capability string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	callCtx, span := tel.Tracer.StartCallSpan(ctx, machine, service, capability)
	defer span.End()
	callCtx = FromContext(ctx).WithMachine(machine).WithService(service, capability).WithContext(callCtx)

	timer := NewTimer()
	err := fn(callCtx)

	status := "succeeded"
	if err != nil {
		status = "failed"
		class := string(engine.ClassOf(err))
		if class == "" {
			class = "unclassified"
		}
		RecordError(span, err)
		span.SetAttributes(AttrErrorClass.String(class))
		tel.Metrics.RecordError(class, engine.CodeOf(err))
		FromContext(callCtx).WithError(err).WithField("error_class", class).Debug("Sub-service call failed")
	} else {
		RecordSuccess(span)
	}
	tel.Metrics.RecordPhaseCall(phase, service, capability, status, timer.Duration())
	return err
}
