package validation

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// StructRule builds a SemanticRule from a go-playground/validator struct
// tag set: params is decoded into a zero value of T via JSON round-trip,
// validated, and any failing fields are reported as Issues. This lets a
// tool register declarative `validate:"..."` struct tags instead of a
// hand-written semantic rule closure, for tools whose params map cleanly
// onto a Go struct.
func StructRule[T any](v *validator.Validate) SemanticRule {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return func(params map[string]any) []Issue {
		raw, err := json.Marshal(params)
		if err != nil {
			return []Issue{{Field: "", Constraint: fmt.Sprintf("encode params: %v", err)}}
		}
		var target T
		if err := json.Unmarshal(raw, &target); err != nil {
			return []Issue{{Field: "", Constraint: fmt.Sprintf("decode params: %v", err)}}
		}
		err = v.Struct(target)
		if err == nil {
			return nil
		}
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []Issue{{Field: "", Constraint: err.Error()}}
		}
		issues := make([]Issue, 0, len(verrs))
		for _, fe := range verrs {
			issues = append(issues, Issue{
				Field:      fe.Field(),
				Constraint: fe.Tag(),
				Pattern:    fe.Param(),
			})
		}
		return issues
	}
}
