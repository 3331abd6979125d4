// Package validation implements the Validation & Correction Pipeline (spec
// §4.D): schema and semantic pre-checks at three selectable levels, an
// ordered auto-correction strategy chain, and a per-(channel,tool) pattern
// store that strategy 2 (missing-required inference) learns from.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
)

// Level selects which validation checks run before admission, chosen by the
// tool's RiskLevel (spec §4.D).
type Level = core.RiskLevel

// Issue mirrors the teacher's tools.FieldIssue shape: a single structural or
// semantic problem with a payload, carrying enough detail for both UIs and
// the correction strategies below to act on.
type Issue struct {
	Field      string
	Constraint string
	Allowed    []string
	Pattern    string
	Min, Max   *float64
}

// SemanticRule is a per-tool semantic check (path safety, size bounds, enum
// membership, cross-field constraints) run after schema validation passes.
type SemanticRule func(params map[string]any) []Issue

// Pipeline runs schema + semantic validation and, on failure, the ordered
// auto-correction chain from spec §4.D.
type Pipeline struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	rules   map[string][]SemanticRule

	patterns *PatternStore

	confidenceThreshold float64
	maxRetries          int
	logger              telemetry.Logger
	metrics             telemetry.Metrics
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithConfidenceThreshold overrides the minimum confidence required before a
// correction is applied (spec default 0.7).
func WithConfidenceThreshold(t float64) Option {
	return func(p *Pipeline) { p.confidenceThreshold = t }
}

// WithMaxRetries overrides the maximum correction attempts per execution
// (spec default 3).
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) { p.maxRetries = n }
}

// WithLogger sets the structured logger used for correction attempts.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink used for correction-attempt counters.
func WithMetrics(m telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		schemas:             make(map[string]*jsonschema.Schema),
		rules:                make(map[string][]SemanticRule),
		patterns:            NewPatternStore(),
		confidenceThreshold: core.DefaultCorrectionConfidenceThreshold,
		maxRetries:          core.DefaultMaxCorrectionRetries,
		logger:              telemetry.NewNoopLogger(),
		metrics:             telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterSchema compiles and binds a JSON Schema to a tool name.
func (p *Pipeline) RegisterSchema(toolName string, schemaJSON []byte) error {
	c := jsonschema.NewCompiler()
	url := "mem://" + toolName
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("validation: invalid schema for %q: %w", toolName, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("validation: add schema resource for %q: %w", toolName, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("validation: compile schema for %q: %w", toolName, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[toolName] = compiled
	return nil
}

// RegisterSemanticRule adds a semantic rule for a tool, run after schema
// validation passes.
func (p *Pipeline) RegisterSemanticRule(toolName string, rule SemanticRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[toolName] = append(p.rules[toolName], rule)
}

// Result is the outcome of running the pipeline for one execution attempt.
type Result struct {
	Params     map[string]any
	Issues     []Issue
	Corrected  bool
	Exhausted  bool
}

// Validate runs schema and semantic validation (selected per level) and, on
// failure, the auto-correction chain, retrying until a corrected payload
// re-validates, confidence drops below threshold, or maxRetries is exceeded
// (spec §4.D). AsyncLevel never blocks: it always returns success with the
// original params and reports issues for out-of-band logging only.
func (p *Pipeline) Validate(ctx context.Context, channelID, toolName string, level Level, params map[string]any) Result {
	issues := p.check(toolName, params)
	if len(issues) == 0 {
		return Result{Params: params}
	}
	if level == core.RiskAsync {
		// Fire-and-forget: never blocks execution (spec §4.D).
		p.logger.Warn(ctx, "async validation issues ignored", "tool", toolName, "issues", len(issues))
		return Result{Params: params, Issues: issues}
	}

	current := params
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		corrected, confidence, applied := p.correct(channelID, toolName, current, issues)
		if !applied || confidence < p.confidenceThreshold {
			break
		}
		newIssues := p.check(toolName, corrected)
		if len(newIssues) == 0 {
			p.patterns.RecordSuccess(channelID, toolName, corrected)
			p.metrics.IncCounter("correction_applied", 1, "tool", toolName)
			return Result{Params: corrected, Corrected: true}
		}
		current = corrected
		issues = newIssues
	}
	p.patterns.RecordFailure(channelID, toolName, current)
	p.metrics.IncCounter("correction_exhausted", 1, "tool", toolName)
	return Result{Params: current, Issues: issues, Exhausted: true}
}

// check runs schema validation (if a schema is registered) followed by any
// registered semantic rules, returning the union of issues found.
func (p *Pipeline) check(toolName string, params map[string]any) []Issue {
	var issues []Issue

	p.mu.RLock()
	schema, hasSchema := p.schemas[toolName]
	rules := p.rules[toolName]
	p.mu.RUnlock()

	if hasSchema {
		inst, err := toInstance(params)
		if err != nil {
			return []Issue{{Field: "", Constraint: "invalid_field_type"}}
		}
		if verr := schema.Validate(inst); verr != nil {
			issues = append(issues, schemaIssues(verr)...)
		}
	}
	for _, rule := range rules {
		issues = append(issues, rule(params)...)
	}
	return issues
}

func toInstance(params map[string]any) (any, error) {
	buf, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(buf))
}

// schemaIssues converts a jsonschema validation error into the flatter Issue
// shape the correction strategies act on. jsonschema/v6 errors nest one
// ValidationError per failed keyword; we only need the leaf causes.
func schemaIssues(err error) []Issue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Constraint: "invalid_field_type"}}
	}
	var out []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			field := ""
			if len(v.InstanceLocation) > 0 {
				field = v.InstanceLocation[len(v.InstanceLocation)-1]
			}
			out = append(out, Issue{Field: field, Constraint: classify(v.Error())})
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

func classify(msg string) string {
	switch {
	case containsAny(msg, "required"):
		return "missing_field"
	case containsAny(msg, "enum"):
		return "invalid_enum_value"
	case containsAny(msg, "pattern"):
		return "invalid_pattern"
	case containsAny(msg, "type"):
		return "invalid_field_type"
	case containsAny(msg, "minimum", "maximum", "range"):
		return "invalid_range"
	case containsAny(msg, "minLength", "maxLength", "length"):
		return "invalid_length"
	default:
		return "invalid_format"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// correct applies the ordered auto-correction strategies (spec §4.D) and
// returns the corrected payload, the confidence of the applied strategy, and
// whether any strategy fired. Strategies are tried in confidence order and
// the first one that fires wins for this attempt.
func (p *Pipeline) correct(channelID, toolName string, params map[string]any, issues []Issue) (map[string]any, float64, bool) {
	if corrected, conf, ok := coerceTypes(params, issues); ok {
		return corrected, conf, true
	}
	if corrected, conf, ok := p.patterns.InferMissing(channelID, toolName, params, issues); ok {
		return corrected, conf, true
	}
	if corrected, conf, ok := filterUnknown(params, issues); ok {
		return corrected, conf, true
	}
	if corrected, conf, ok := normalizeConstraints(params, issues); ok {
		return corrected, conf, true
	}
	return params, 0, false
}

// coerceTypes implements strategy 1: numeric-string -> number, number ->
// string where the schema expects string.
func coerceTypes(params map[string]any, issues []Issue) (map[string]any, float64, bool) {
	applied := false
	out := cloneParams(params)
	for _, iss := range issues {
		if iss.Constraint != "invalid_field_type" || iss.Field == "" {
			continue
		}
		v, ok := out[iss.Field]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				out[iss.Field] = n
				applied = true
			}
		case float64:
			out[iss.Field] = strconv.FormatFloat(val, 'f', -1, 64)
			applied = true
		}
	}
	return out, 0.9, applied
}

// filterUnknown implements strategy 3: drop properties the schema never
// declared. A field counts as unknown only when an Issue names it with
// Constraint "unknown_property", as a SemanticRule can produce; schema
// validation failures are never mapped to that constraint.
func filterUnknown(params map[string]any, issues []Issue) (map[string]any, float64, bool) {
	applied := false
	out := cloneParams(params)
	// Conservative: only remove fields explicitly flagged as unknown via a
	// SemanticRule-produced Issue with Constraint "unknown_property".
	for _, iss := range issues {
		if iss.Constraint == "unknown_property" && iss.Field != "" {
			delete(out, iss.Field)
			applied = true
		}
	}
	return out, 0.8, applied
}

// normalizeConstraints implements strategy 4: clamp numeric fields to
// [Min,Max] and apply a default extension to path-like string fields failing
// a pattern check.
func normalizeConstraints(params map[string]any, issues []Issue) (map[string]any, float64, bool) {
	applied := false
	out := cloneParams(params)
	for _, iss := range issues {
		v, ok := out[iss.Field]
		if !ok || iss.Field == "" {
			continue
		}
		switch iss.Constraint {
		case "invalid_range":
			if n, ok := v.(float64); ok {
				if iss.Min != nil && n < *iss.Min {
					out[iss.Field] = *iss.Min
					applied = true
				}
				if iss.Max != nil && n > *iss.Max {
					out[iss.Field] = *iss.Max
					applied = true
				}
			}
		case "invalid_pattern":
			if s, ok := v.(string); ok && iss.Pattern != "" && looksLikePath(s) && !hasExtension(s) {
				out[iss.Field] = s + ".txt"
				applied = true
			}
		}
	}
	return out, 0.6, applied
}

func looksLikePath(s string) bool {
	return len(s) > 0 && (s[0] == '/' || indexOf(s, "/") >= 0)
}

func hasExtension(s string) bool {
	for i := len(s) - 1; i >= 0 && s[i] != '/'; i-- {
		if s[i] == '.' {
			return true
		}
	}
	return false
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
