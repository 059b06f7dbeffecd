package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for ironfleet.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phaseCalls        *prometheus.CounterVec
	phaseCallDuration *prometheus.HistogramVec
	phaseRetries      *prometheus.CounterVec
	phaseFailures     *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Model metrics
	serversResolved  *prometheus.CounterVec
	resolutionErrors *prometheus.CounterVec
	lintFindings     *prometheus.CounterVec

	// Drift metrics
	driftDetections  *prometheus.CounterVec
	policyViolations *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of sync runs started",
			},
			[]string{"user"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of sync runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		phaseCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_calls_total",
				Help:      "Total number of sub-service calls made by sync phases",
			},
			[]string{"phase", "service", "capability", "status"},
		),
		phaseCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_call_duration_seconds",
				Help:      "Duration of sub-service calls in seconds, retries included",
				Buckets:   buckets,
			},
			[]string{"phase", "service"},
		),
		phaseRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_retries_total",
				Help:      "Total number of sub-service call retries",
			},
			[]string{"service", "class"},
		),
		phaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_failed_machines_total",
				Help:      "Total number of machines with at least one failed sub-service per phase",
			},
			[]string{"phase"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		serversResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "servers_resolved_total",
				Help:      "Total number of servers resolved from definitions",
			},
			[]string{"realm"},
		),
		resolutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolution_errors_total",
				Help:      "Total number of entities that failed to resolve",
			},
			[]string{"realm"},
		),
		lintFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lint_findings_total",
				Help:      "Total number of lint findings by field",
			},
			[]string{"field"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift comparisons by outcome",
			},
			[]string{"status"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active sync runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phaseCalls,
		m.phaseCallDuration,
		m.phaseRetries,
		m.phaseFailures,
		m.errorsByClass,
		m.errorsByCode,
		m.serversResolved,
		m.resolutionErrors,
		m.lintFindings,
		m.driftDetections,
		m.policyViolations,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(user string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(user).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Phase Metrics

// RecordPhaseCall records one sub-service call of a phase.
func (m *Metrics) RecordPhaseCall(phase, service, capability, status string, duration time.Duration) {
	if m == nil || m.phaseCalls == nil {
		return
	}
	m.phaseCalls.WithLabelValues(phase, service, capability, status).Inc()
	m.phaseCallDuration.WithLabelValues(phase, service).Observe(duration.Seconds())
}

// RecordRetry records a retried sub-service call.
func (m *Metrics) RecordRetry(service, errorClass string) {
	if m == nil || m.phaseRetries == nil {
		return
	}
	m.phaseRetries.WithLabelValues(service, errorClass).Inc()
}

// RecordPhaseFailures adds the number of failed machines of a phase.
func (m *Metrics) RecordPhaseFailures(phase string, failed int) {
	if m == nil || m.phaseFailures == nil || failed == 0 {
		return
	}
	m.phaseFailures.WithLabelValues(phase).Add(float64(failed))
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Model Metrics

// RecordResolution records the outcome of resolving one realm.
func (m *Metrics) RecordResolution(realm string, servers, failures int) {
	if m == nil || m.serversResolved == nil {
		return
	}
	m.serversResolved.WithLabelValues(realm).Add(float64(servers))
	if failures > 0 {
		m.resolutionErrors.WithLabelValues(realm).Add(float64(failures))
	}
}

// RecordLintFinding records a lint finding for a field.
func (m *Metrics) RecordLintFinding(field string) {
	if m == nil || m.lintFindings == nil {
		return
	}
	m.lintFindings.WithLabelValues(field).Inc()
}

// Drift Metrics

// RecordDriftDetection records a drift comparison outcome.
func (m *Metrics) RecordDriftDetection(status string) {
	if m == nil || m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(status).Inc()
}

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the private registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
