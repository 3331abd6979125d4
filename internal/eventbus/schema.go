package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/orpar-labs/orpar-core/internal/core"
)

// SchemaRegistry holds the compiled JSON Schema bound to each event name.
// Validation happens once per Emit/receive, using santhosh-tekuri/jsonschema/v6
// the same way the teacher validates tool payloads (runtime/toolregistry).
//
// The registry is a closed enumeration at the boundary (spec §4.A, §9): every
// schema is registered during assembly, never mutated at runtime.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[core.EventName]*jsonschema.Schema
}

// NewSchemaRegistry constructs an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[core.EventName]*jsonschema.Schema)}
}

// Register compiles and binds a JSON Schema document to an event name.
// Registering a name that already has a schema replaces the earlier schema;
// Register does not report an error for it.
func (r *SchemaRegistry) Register(name core.EventName, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	url := "mem://" + string(name)
	if err := c.AddResource(url, mustUnmarshalSchema(schemaJSON)); err != nil {
		return fmt.Errorf("eventbus: add schema resource for %q: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("eventbus: compile schema for %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = compiled
	return nil
}

// Validate checks payload against the schema registered for name. An
// unregistered event name is itself a SchemaViolation: the closed enumeration
// means every emitted event must have a schema.
func (r *SchemaRegistry) Validate(name core.EventName, payload any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no schema registered for event %q", core.ErrSchemaViolation, name)
	}
	// jsonschema/v6 validates against decoded JSON values (map[string]any,
	// []any, string, float64, bool, nil), not arbitrary Go structs, so a
	// struct payload is round-tripped through its JSON encoding first.
	inst, err := toJSONInstance(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: encode payload: %v", core.ErrSchemaViolation, name, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSchemaViolation, name, err)
	}
	return nil
}

func toJSONInstance(payload any) (any, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(buf))
}

func mustUnmarshalSchema(schemaJSON string) any {
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("eventbus: invalid schema literal: %v", err))
	}
	return v
}
