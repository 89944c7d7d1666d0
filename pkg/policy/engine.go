package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// Engine evaluates Rego admission policies against install requests.
// It implements aur.Admission.
type Engine struct {
	mu        sync.RWMutex
	policies  map[string]*compiledPolicy
	store     storage.Store
	logger    zerolog.Logger
	protected []string
	forbidden []string
	now       func() time.Time
}

// compiledPolicy is a policy with its deny query prepared against the store.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithProtectedPackages replaces the packages that may not be removed.
func WithProtectedPackages(names ...string) Option {
	return func(e *Engine) {
		e.protected = names
	}
}

// WithForbiddenArgs replaces the rejected extra argument prefixes.
func WithForbiddenArgs(prefixes ...string) Option {
	return func(e *Engine) {
		e.forbidden = prefixes
	}
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies:  make(map[string]*compiledPolicy),
		logger:    logger.With().Str("component", "policy-engine").Logger(),
		protected: DefaultProtectedPackages,
		forbidden: DefaultForbiddenArgs,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.store = inmem.NewFromObject(map[string]interface{}{
		"aur": map[string]interface{}{
			"protected_packages": toValues(e.protected),
			"forbidden_args":     toValues(e.forbidden),
		},
	})

	ctx := context.Background()
	for _, p := range BuiltinPolicies() {
		cp, err := e.compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = cp
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies loaded")
	return e, nil
}

// Admit evaluates every enabled policy against req and returns a
// policy-denied error listing the blocking violations.
func (e *Engine) Admit(ctx context.Context, req aur.InstallRequest, helper string) error {
	result, err := e.Evaluate(ctx, NewInput(req, helper))
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("package", w.Package).
			Msg(w.Message)
	}

	if result.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		msgs = append(msgs, v.Message)
	}
	return aur.NewPolicyDeniedError("denied by policy: "+strings.Join(msgs, "; ")).
		WithDetail("violations", result.Violations)
}

// NewInput builds the policy input for req and the selected helper.
func NewInput(req aur.InstallRequest, helper string) *Input {
	args, err := aur.SplitArgs(req.ExtraArgs)
	if err != nil {
		args = strings.Fields(req.ExtraArgs)
	}
	if args == nil {
		args = []string{}
	}

	packages := req.Packages
	if packages == nil {
		packages = []string{}
	}

	return &Input{
		Request: RequestInput{
			Operation:      req.Operation(),
			Helper:         helper,
			Packages:       packages,
			State:          string(req.State),
			Upgrade:        req.Upgrade,
			ExtraArgs:      args,
			LocalSourceDir: req.LocalSourceDir,
			SkipPGPCheck:   req.SkipSignatureCheck,
			IgnoreArch:     req.IgnoreArch,
			AUROnly:        req.AUROnly,
			UpdateCache:    req.UpdateCache,
		},
	}
}

// Evaluate runs every enabled policy against input. A policy that fails to
// evaluate is reported in Result.Errors and does not block.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if input == nil {
		return nil, fmt.Errorf("policy input is required")
	}

	start := e.now()
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = start
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Str("operation", input.Request.Operation).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy runs the prepared deny query of one policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		denySet, ok := r.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// newViolation converts one deny entry, a string or an object with
// message, severity and package fields.
func newViolation(p *Policy, entry interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if pkg, ok := d["package"].(string); ok {
			v.Package = pkg
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}

	if v.Message == "" {
		v.Message = fmt.Sprintf("violates policy %s", p.Name)
	}
	return v
}

// compile parses a policy and prepares its deny query.
func (e *Engine) compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled successfully")

	return &compiledPolicy{
		policy:   &p,
		module:   module,
		query:    query,
		compiled: e.now(),
	}, nil
}

// LoadPolicies loads policy files or directories and adds them to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies replaces every non built-in policy with policies. Nothing is
// replaced when any of them fails to compile.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[policies[i].Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			e.logger.Info().Str("policy", name).Msg("Overriding built-in policy")
		}
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded successfully")
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

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
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

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toValues(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
