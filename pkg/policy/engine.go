package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/engine"
	"github.com/validio/validio-go/pkg/resources"
)

// Engine evaluates Rego guardrails over diffs. It implements
// engine.PolicyChecker.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	limits   Limits
	user     string
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// evalTimeout bounds the evaluation of a single policy.
const evalTimeout = 5 * time.Second

var _ engine.PolicyChecker = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLimits overrides the thresholds of the built-in policies.
func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithUser sets the user reported in the evaluation context.
func WithUser(user string) Option {
	return func(e *Engine) { e.user = user }
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		limits:   DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, p := range GetBuiltinPolicies() {
		if err := e.AddPolicy(context.Background(), p); err != nil {
			return nil, fmt.Errorf("built-in %w", err)
		}
	}

	return e, nil
}

// CheckDiff implements engine.PolicyChecker.
func (e *Engine) CheckDiff(ctx context.Context, namespace string, diff *engine.GraphDiff, actual *resources.DiffContext) (*engine.PolicyResult, error) {
	input := &PolicyInput{
		Diff:   NewDiffInput(namespace, diff, actual),
		Limits: e.limits,
		Context: &PolicyContext{
			User:      e.user,
			Timestamp: time.Now(),
			Operation: "apply",
		},
	}
	return e.Evaluate(ctx, input)
}

// NewDiffInput summarizes diff and actual by kind and name.
func NewDiffInput(namespace string, diff *engine.GraphDiff, actual *resources.DiffContext) *DiffInput {
	in := &DiffInput{
		Namespace: namespace,
		Create:    []ResourceRef{},
		Update:    []UpdateRef{},
		Delete:    []ResourceRef{},
		Actual:    make(map[string]int),
	}

	for _, kind := range api.Kinds {
		for _, r := range diff.ToCreate.Of(kind) {
			in.Create = append(in.Create, refOf(r))
		}
		for _, up := range diff.ToUpdate.Of(kind) {
			u := UpdateRef{ResourceRef: refOf(up.Manifest), Paths: []string{}}
			for _, c := range up.Changes {
				u.Paths = append(u.Paths, c.Path)
			}
			in.Update = append(in.Update, u)
		}
		for _, r := range diff.ToDelete.Of(kind) {
			in.Delete = append(in.Delete, refOf(r))
		}
		if actual != nil {
			if n := actual.Len(kind); n > 0 {
				in.Actual[string(kind)] = n
				in.ActualTotal += n
			}
		}
	}
	return in
}

func refOf(r resources.Resource) ResourceRef {
	return ResourceRef{Kind: string(r.Kind()), Name: r.Name(), Typename: r.Typename()}
}

// Evaluate runs every enabled policy against input in name order. A policy
// that fails to evaluate is reported as a warning and does not block.
func (e *Engine) Evaluate(ctx context.Context, input *PolicyInput) (*engine.PolicyResult, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &engine.PolicyResult{Allowed: true, EvaluatedPolicies: []string{}}
	for _, cp := range e.sorted() {
		if !cp.policy.Enabled {
			continue
		}
		name := cp.policy.Name
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := cp.eval(ctx, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, engine.PolicyViolation{
				Policy:   name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: string(SeverityWarning),
			})
			continue
		}

		for _, v := range violations {
			if !Severity(v.Severity).Blocks() {
				result.Warnings = append(result.Warnings, v)
				continue
			}
			result.Allowed = false
			result.Violations = append(result.Violations, v)
		}
	}
	result.EvaluatedAt = time.Now()

	e.logger.Debug().
		Int("policies", len(result.EvaluatedPolicies)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("Diff evaluated")

	return result, nil
}

// eval returns one violation per element of the deny set.
func (cp *compiledPolicy) eval(ctx context.Context, input *PolicyInput) ([]engine.PolicyViolation, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var out []engine.PolicyViolation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, elem := range set {
				out = append(out, cp.policy.violation(elem))
			}
		}
	}
	return out, nil
}

// violation converts a deny set element. Strings are messages; objects may
// also override the severity and name the offending resource.
func (p *Policy) violation(elem interface{}) engine.PolicyViolation {
	v := engine.PolicyViolation{Policy: p.Name, Severity: string(p.Severity)}

	obj, ok := elem.(map[string]interface{})
	if !ok {
		if msg, ok := elem.(string); ok {
			v.Message = msg
		} else {
			v.Message = fmt.Sprint(elem)
		}
		return v
	}

	v.Message, _ = obj["message"].(string)
	v.Resource, _ = obj["resource"].(string)
	if s, ok := obj["severity"].(string); ok {
		if sev, err := parseSeverity(s); err == nil {
			v.Severity = string(sev)
		}
	}
	if v.Message == "" {
		v.Message = fmt.Sprint(elem)
	}
	return v
}

// LoadPolicies reads policy files below paths and adds them. Nothing is
// added unless every file compiles.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("policy %s (%s): %w", policies[i].Name, policies[i].Metadata["source"], err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		if _, ok := e.policies[cp.policy.Name]; ok {
			e.logger.Info().Str("policy", cp.policy.Name).Msg("Policy file overrides a loaded policy")
		}
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policy files loaded")
	return nil
}

// AddPolicy compiles p and adds it, replacing a policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, &p)
	if err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = cp
	return nil
}

// compile prepares the deny query of the package declared by p.
func compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, err
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &compiledPolicy{policy: p, query: query}, nil
}

func (e *Engine) sorted() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// GetPolicy returns a copy of the named policy.
func (e *Engine) GetPolicy(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, false
	}
	return *cp.policy, true
}

// ListPolicies returns copies of all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.sorted() {
		out = append(out, *cp.policy)
	}
	return out
}

// EnablePolicy turns a policy on.
func (e *Engine) EnablePolicy(name string) error { return e.setEnabled(name, true) }

// DisablePolicy turns a policy off, e.g. a built-in guardrail a workspace
// does not want.
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("unknown policy %q", name)
	}
	cp.policy.Enabled = enabled

	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
