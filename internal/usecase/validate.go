package usecase

import (
	"bytes"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"easel-ai/internal/domain"
)

// actionValidator checks completed actions against a host-supplied JSON
// schema. Absent a schema it accepts everything.
type actionValidator struct {
	raw    []byte
	schema *jsonschema.Schema
}

func newActionValidator(raw []byte) (*actionValidator, error) {
	if len(raw) == 0 {
		return &actionValidator{}, nil
	}
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile custom action schema: %w", err)
	}
	return &actionValidator{raw: raw, schema: schema}, nil
}

// matches reports whether the validator was compiled from the given schema
// bytes, letting the agent reuse the compiled form across requests.
func (v *actionValidator) matches(raw []byte) bool {
	return v != nil && bytes.Equal(v.raw, raw)
}

func (v *actionValidator) Valid(a domain.Action) bool {
	if v == nil || v.schema == nil {
		return true
	}
	return v.schema.Validate(a.Fields).IsValid()
}
