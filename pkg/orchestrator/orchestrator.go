package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// RunRecorder persists runs and their phase results.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *engine.Run) error
	UpdateRun(ctx context.Context, run *engine.Run) error
	RecordPhaseResults(ctx context.Context, results []engine.PhaseResult) error
}

// Config tunes fan-out and retries.
type Config struct {
	// Concurrency bounds the machines processed at once. Default 8.
	Concurrency int

	// MaxRetries is the number of retries after the first attempt. Default 3.
	MaxRetries int

	// BaseBackoff is the first retry delay. Default 1s.
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay. Default 1m.
	MaxBackoff time.Duration

	// User is recorded on runs.
	User string
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		MaxRetries:  3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Orchestrator runs sync phases over batches of machines.
type Orchestrator struct {
	phases   map[Phase][]handle
	cfg      Config
	recorder RunRecorder
	logger   zerolog.Logger
}

// New creates an Orchestrator. recorder may be nil, in which case runs are
// not persisted.
func New(services Subservices, cfg Config, recorder RunRecorder, logger zerolog.Logger) (*Orchestrator, error) {
	if services.Clients == nil || services.Nodes == nil || services.Roles == nil {
		return nil, engine.NewPermanentError("clients, nodes and roles sub-services are required", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return &Orchestrator{
		phases:   phaseTable(services),
		cfg:      cfg.withDefaults(),
		recorder: recorder,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// CreateDependencies registers client credentials for each machine.
func (o *Orchestrator) CreateDependencies(ctx context.Context, machines []Machine) *PhaseReport {
	return o.runPhase(ctx, "", PhaseCreateDependencies, machines)
}

// CreateInstances registers a node for each machine.
func (o *Orchestrator) CreateInstances(ctx context.Context, machines []Machine) *PhaseReport {
	return o.runPhase(ctx, "", PhaseCreateInstances, machines)
}

// Save writes node records and then role documents for each machine.
func (o *Orchestrator) Save(ctx context.Context, machines []Machine) *PhaseReport {
	return o.runPhase(ctx, "", PhaseSave, machines)
}

// Load fetches node and client records for each machine.
func (o *Orchestrator) Load(ctx context.Context, machines []Machine) *PhaseReport {
	return o.runPhase(ctx, "", PhaseLoad, machines)
}

// Correlate matches each machine with its node and client records.
func (o *Orchestrator) Correlate(ctx context.Context, machines []Machine) *PhaseReport {
	return o.runPhase(ctx, "", PhaseCorrelate, machines)
}

// Validate checks that each machine's client record exists.
func (o *Orchestrator) Validate(ctx context.Context, machines []Machine) *PhaseReport {
	return o.runPhase(ctx, "", PhaseValidate, machines)
}

// RunPhase executes a single phase by name.
func (o *Orchestrator) RunPhase(ctx context.Context, phase Phase, machines []Machine) (*PhaseReport, error) {
	if err := phase.Validate(); err != nil {
		return nil, err
	}
	return o.runPhase(ctx, "", phase, machines), nil
}

// Run executes phases in order over machines under a new run ID. Phase
// failures are reported through the returned reports and the run status;
// the error is non-nil only when the run could not be recorded or the
// context was cancelled.
func (o *Orchestrator) Run(ctx context.Context, machines []Machine, phases ...Phase) (*engine.Run, []*PhaseReport, error) {
	if len(phases) == 0 {
		phases = DefaultPhases
	}
	for _, p := range phases {
		if err := p.Validate(); err != nil {
			return nil, nil, err
		}
	}

	run := &engine.Run{
		ID:        uuid.New().String(),
		Phases:    make([]string, len(phases)),
		Machines:  make([]string, len(machines)),
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		User:      o.cfg.User,
	}
	for i, p := range phases {
		run.Phases[i] = string(p)
	}
	for i, m := range machines {
		run.Machines[i] = m.Name()
	}

	// records outlive a cancelled run context
	storeCtx := context.WithoutCancel(ctx)
	if o.recorder != nil {
		if err := o.recorder.CreateRun(storeCtx, run); err != nil {
			return nil, nil, fmt.Errorf("record run: %w", err)
		}
	}

	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Strs("phases", run.Phases).Int("machines", len(machines)).Msg("Starting run")

	ctx = telemetry.WithRunContext(ctx, run.ID, run.User, len(machines))

	var (
		reports []*PhaseReport
		runErr  error
	)
	failed := make(map[string]bool)
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		report := o.runPhase(ctx, run.ID, p, machines)
		reports = append(reports, report)

		summary := report.Summary()
		run.Summary.Total += summary.Total
		run.Summary.Succeeded += summary.Succeeded
		run.Summary.Failed += summary.Failed
		run.Summary.Retried += summary.Retried
		for _, name := range report.Failed() {
			failed[name] = true
		}

		if o.recorder != nil {
			if err := o.recorder.RecordPhaseResults(storeCtx, report.Results()); err != nil {
				logger.Error().Err(err).Str("phase", string(p)).Msg("Failed to record phase results")
			}
		}
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(run.StartedAt)
	if runErr != nil {
		run.Status = engine.RunStatusCancelled
	} else {
		run.Status = statusOf(len(failed), len(machines))
	}

	if o.recorder != nil {
		if err := o.recorder.UpdateRun(storeCtx, run); err != nil && runErr == nil {
			runErr = fmt.Errorf("record run: %w", err)
		}
	}
	telemetry.EndRunContext(ctx, run.ID, run.Status, runErr)

	logger.Info().
		Str("status", string(run.Status)).
		Int("failed_calls", run.Summary.Failed).
		Dur("duration", run.Duration).
		Msg("Run finished")

	return run, reports, runErr
}

// runPhase fans out over machines with bounded concurrency. Within a
// machine the phase's sub-services run in order.
func (o *Orchestrator) runPhase(ctx context.Context, runID string, phase Phase, machines []Machine) *PhaseReport {
	handles := o.phases[phase]
	report := &PhaseReport{
		Phase:     phase,
		RunID:     runID,
		Machines:  make([]string, len(machines)),
		StartedAt: time.Now().UTC(),
	}
	for i, m := range machines {
		report.Machines[i] = m.Name()
	}

	ctx = telemetry.WithPhaseContext(ctx, runID, string(phase), len(machines))
	o.logger.Debug().Str("phase", string(phase)).Int("machines", len(machines)).Msg("Starting phase")

	perMachine := make([][]Outcome, len(machines))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, m := range machines {
		g.Go(func() error {
			outcomes := make([]Outcome, 0, len(handles))
			for _, h := range handles {
				outcomes = append(outcomes, o.call(ctx, runID, phase, h, m))
			}
			perMachine[i] = outcomes
			return nil
		})
	}
	_ = g.Wait()

	for _, outcomes := range perMachine {
		report.Outcomes = append(report.Outcomes, outcomes...)
	}
	report.CompletedAt = time.Now().UTC()

	failed := report.Failed()
	telemetry.EndPhaseContext(ctx, runID, string(phase), len(failed))
	if len(failed) > 0 {
		o.logger.Warn().Str("phase", string(phase)).Strs("failed", failed).Msg("Phase finished with failures")
	} else {
		o.logger.Debug().Str("phase", string(phase)).Dur("duration", report.Duration()).Msg("Phase finished")
	}
	return report
}

// call invokes one sub-service capability for one machine, retrying
// retryable errors.
func (o *Orchestrator) call(ctx context.Context, runID string, phase Phase, h handle, m Machine) Outcome {
	name := m.Name()
	out := Outcome{Machine: name, Service: h.service, Capability: h.capability}
	start := time.Now()

	var err, lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			if lastErr != nil {
				err = fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			break
		}
		out.Attempts++

		var record directory.Document
		err = telemetry.TraceCall(ctx, string(phase), name, h.service, string(h.capability), func(ctx context.Context) error {
			var callErr error
			record, callErr = h.call(ctx, m)
			return callErr
		})
		if err == nil {
			out.Record = record
			break
		}

		if !engine.IsRetryable(err) || attempt >= o.cfg.MaxRetries {
			break
		}
		lastErr = err

		backoff := o.calculateBackoff(attempt, err)
		telemetry.MetricsFrom(ctx).RecordRetry(h.service, string(engine.ClassOf(err)))
		telemetry.AddMachineEvent(telemetry.SpanFromContext(ctx), name, "call.retry", err.Error())
		o.logger.Debug().
			Err(err).
			Str("machine", name).
			Str("service", h.service).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying sub-service call")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}
	out.Duration = time.Since(start)

	if err != nil {
		out.Err = subserviceError(phase, h, name, err)
		_ = telemetry.EventsFrom(ctx).PublishSubserviceFailed(runID, string(phase), name, h.service, out.Attempts, err.Error())
		o.logger.Warn().
			Err(err).
			Str("phase", string(phase)).
			Str("machine", name).
			Str("service", h.service).
			Int("attempts", out.Attempts).
			Msg("Sub-service call failed")
	}
	return out
}

// calculateBackoff calculates exponential backoff with jitter.
func (o *Orchestrator) calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := o.cfg.BaseBackoff

	// Use different base delays for different error types
	if engine.IsThrottled(err) {
		baseDelay *= 5
	} else if engine.IsConflict(err) {
		baseDelay *= 2
	}

	// Exponential backoff: delay = baseDelay * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))

	if delay > o.cfg.MaxBackoff {
		delay = o.cfg.MaxBackoff
	}

	// Add jitter (±25%)
	if jitter := int64(delay) / 4; jitter > 0 {
		delay += time.Duration(rand.Int64N(2*jitter+1) - jitter)
	}
	if delay > o.cfg.MaxBackoff {
		delay = o.cfg.MaxBackoff
	}

	return delay
}

// subserviceError classifies a failed call. The cause's class is kept so
// callers can still tell transient from permanent failures.
func subserviceError(phase Phase, h handle, machine string, err error) error {
	class := engine.ClassOf(err)
	if class == "" {
		class = engine.ErrorClassPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		class = engine.ErrorClassTransient
	}
	return &engine.EngineError{
		Class:     class,
		Message:   fmt.Sprintf("%s %s failed", h.service, h.capability),
		Code:      engine.ErrCodeSubservice,
		Resource:  machine,
		Operation: string(phase),
		Err:       err,
	}
}
