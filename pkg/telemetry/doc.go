// Package telemetry provides logging, tracing, metrics and events for ironfleet.
//
// Four pieces share one Config:
//
//  1. Logger wraps zerolog with run, phase, machine and service fields.
//  2. Tracer wraps the OpenTelemetry SDK (otlp, stdout or none exporters).
//  3. Metrics registers Prometheus collectors on a private registry.
//  4. EventPublisher fans engine.Event values out to subscribers, such as
//     the SQLite store that keeps the run timeline.
//
// Initialize once and carry it in the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// The orchestrator brackets runs and phases with WithRunContext /
// EndRunContext and WithPhaseContext / EndPhaseContext, and wraps every
// sub-service call in TraceCall. Without telemetry in the context these
// helpers do nothing.
package telemetry
