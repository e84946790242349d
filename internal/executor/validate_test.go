package executor

import (
	"testing"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

func schemaWith(required []string, props map[string]domain.ParameterProperty) domain.ParameterSchema {
	return domain.ParameterSchema{Type: "object", Properties: props, Required: required}
}

func TestValidateArgumentsMissingRequiredField(t *testing.T) {
	schema := schemaWith([]string{"name"}, map[string]domain.ParameterProperty{"name": {Type: "string"}})
	_, err := validateArguments(schema, map[string]any{})
	if err == nil || err.Kind != domain.KindMissingRequired {
		t.Fatalf("expected MISSING_REQUIRED, got %+v", err)
	}
}

func TestValidateArgumentsTypeMismatch(t *testing.T) {
	schema := schemaWith(nil, map[string]domain.ParameterProperty{"age": {Type: "integer"}})
	_, err := validateArguments(schema, map[string]any{"age": "not-a-number"})
	if err == nil || err.Kind != domain.KindTypeMismatch {
		t.Fatalf("expected TYPE_MISMATCH, got %+v", err)
	}
}

func TestValidateArgumentsCoercesStringToInteger(t *testing.T) {
	schema := schemaWith(nil, map[string]domain.ParameterProperty{"age": {Type: "integer"}})
	out, err := validateArguments(schema, map[string]any{"age": "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["age"] != int64(42) {
		t.Fatalf("expected coerced int64(42), got %#v", out["age"])
	}
}

func TestValidateArgumentsCoercesStringToBoolean(t *testing.T) {
	schema := schemaWith(nil, map[string]domain.ParameterProperty{"enabled": {Type: "boolean"}})
	out, err := validateArguments(schema, map[string]any{"enabled": "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["enabled"] != true {
		t.Fatalf("expected coerced bool true, got %#v", out["enabled"])
	}
}

func TestValidateArgumentsPassesThroughExtraArguments(t *testing.T) {
	schema := schemaWith(nil, map[string]domain.ParameterProperty{})
	out, err := validateArguments(schema, map[string]any{"extra": "value"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["extra"] != "value" {
		t.Fatalf("expected extra argument passed through, got %#v", out["extra"])
	}
}
