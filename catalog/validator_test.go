package catalog_test

import (
	"encoding/json"
	"testing"

	"github.com/hookline/hookline/catalog"
)

var orderSchema = map[string]any{
	"type":     "object",
	"required": []any{"order_id", "amount"},
	"properties": map[string]any{
		"order_id": map[string]any{"type": "string"},
		"amount":   map[string]any{"type": "number", "minimum": float64(0)},
	},
}

func TestValidateAccepts(t *testing.T) {
	v := catalog.NewValidator()

	payload := map[string]any{"order_id": "ord_1", "amount": float64(9900)}
	if err := v.Validate(orderSchema, payload); err != nil {
		t.Fatalf("expected valid payload to pass, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	v := catalog.NewValidator()

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing required field", map[string]any{"order_id": "ord_1"}},
		{"wrong type", map[string]any{"order_id": "ord_1", "amount": "a lot"}},
		{"below minimum", map[string]any{"order_id": "ord_1", "amount": float64(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Validate(orderSchema, tt.payload); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateNilSchemaSkips(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate(nil, map[string]any{"anything": true}); err != nil {
		t.Fatalf("nil schema must skip validation, got %v", err)
	}
}

func TestValidateRawSchema(t *testing.T) {
	// Ingest hands the validator the stored raw schema document.
	v := catalog.NewValidator()
	raw := json.RawMessage(`{"type":"object","required":["name"]}`)

	if err := v.Validate(raw, map[string]any{"name": "ok"}); err != nil {
		t.Fatalf("expected raw schema to compile and pass, got %v", err)
	}
	if err := v.Validate(raw, map[string]any{}); err == nil {
		t.Error("expected raw schema to reject missing field")
	}
}

func TestValidateBadSchema(t *testing.T) {
	v := catalog.NewValidator()

	bad := map[string]any{"type": 42} // "type" must be a string or array
	if err := v.Validate(bad, map[string]any{}); err == nil {
		t.Error("expected schema compilation error")
	}
}

func TestValidateCachesCompiledSchema(t *testing.T) {
	v := catalog.NewValidator()

	payload := map[string]any{"order_id": "ord_1", "amount": float64(1)}
	for range 3 {
		if err := v.Validate(orderSchema, payload); err != nil {
			t.Fatal(err)
		}
	}
}
