package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// Engine evaluates Rego policies against machine manifests and drift.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	loader   *Loader
	builtins bool
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBuiltins controls whether the built-in policies are loaded. They are
// by default.
func WithBuiltins(enabled bool) Option {
	return func(e *Engine) {
		e.builtins = enabled
	}
}

// NewEngine creates a new policy engine.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: true,
	}
	e.loader = NewLoader(logger)
	for _, opt := range opts {
		opt(e)
	}

	if e.builtins {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}

	return e, nil
}

// EvaluateManifest evaluates every enabled policy against one manifest.
func (e *Engine) EvaluateManifest(ctx context.Context, m *manifest.Manifest, pctx *PolicyContext) (*PolicyResult, error) {
	return e.evaluate(ctx, &PolicyInput{
		Machine:  m.FullName(),
		Manifest: m.ToWire(),
		Context:  withTimestamp(pctx),
	})
}

// EvaluateManifests evaluates every manifest and folds the results.
func (e *Engine) EvaluateManifests(ctx context.Context, manifests []*manifest.Manifest, pctx *PolicyContext) (*PolicyResult, error) {
	start := time.Now()
	combined := &PolicyResult{Allowed: true, EvaluatedAt: start.UTC()}
	for _, m := range manifests {
		result, err := e.EvaluateManifest(ctx, m, pctx)
		if err != nil {
			return nil, err
		}
		combined.merge(result)
	}
	combined.Duration = time.Since(start)
	if combined.EvaluatedPolicies == nil {
		combined.EvaluatedPolicies = e.enabledNames()
	}
	return combined, nil
}

// EvaluateDrift evaluates policies against a detected drift of a machine.
func (e *Engine) EvaluateDrift(ctx context.Context, m *manifest.Manifest, drift *engine.DriftDetection, pctx *PolicyContext) (*PolicyResult, error) {
	return e.evaluate(ctx, &PolicyInput{
		Machine:  m.FullName(),
		Manifest: m.ToWire(),
		Drift:    drift,
		Context:  withTimestamp(pctx),
	})
}

func withTimestamp(pctx *PolicyContext) *PolicyContext {
	out := PolicyContext{Operation: "validate"}
	if pctx != nil {
		out = *pctx
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return &out
}

func (e *Engine) evaluate(ctx context.Context, input *PolicyInput) (*PolicyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &PolicyResult{Allowed: true, EvaluatedAt: startTime.UTC()}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("machine", input.Machine).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	metrics := telemetry.MetricsFrom(ctx)
	events := telemetry.EventsFrom(ctx)
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			result.Allowed = false
		}
		metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = events.PublishPolicyViolation(v.Machine, v.Policy, v.Message)
	}

	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Str("machine", input.Machine).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a PolicyViolation from a deny set member.
func createViolation(policy *Policy, result interface{}, input *PolicyInput) PolicyViolation {
	violation := PolicyViolation{
		Policy:     policy.Name,
		Machine:    input.Machine,
		Severity:   policy.Severity,
		DetectedAt: time.Now().UTC(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if details, ok := v["details"].(map[string]interface{}); ok {
			violation.Details = details
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// LoadPolicies loads policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

// ReplacePolicies swaps every loaded policy for the given set, keeping the
// built-in ones. Nothing changes when any policy fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	next := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		next[policies[i].Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if cp.policy.Builtin {
			if _, overridden := next[name]; !overridden {
				next[name] = cp
			}
		}
	}
	e.policies = next
	return nil
}

// Watch reloads the policies under paths whenever they change, until ctx
// is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// compileAndStorePolicy compiles a policy and stores it. The caller holds
// the write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	cp, err := e.compile(ctx, policy)
	if err != nil {
		return err
	}
	e.policies[policy.Name] = cp

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")
	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// ReloadPolicies drops every loaded policy and reloads the built-in ones.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	if !e.builtins {
		return nil
	}
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) enabledNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var names []string
	for _, name := range e.sortedNames() {
		if e.policies[name].policy.Enabled {
			names = append(names, name)
		}
	}
	return names
}
