package workflow

import (
	"reflect"
	"testing"
)

func TestNormalizePromotesAndReshapes(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sections": map[string]any{"type": "array", "minItems": 3},
		},
	}
	artifact := map[string]any{
		"sections":   []any{"Revenue grew 20% year over year [D1:p2]"},
		"risks":      []any{"Leverage above 4x EBITDA [D2:p7]", map[string]any{"description": "Customer concentration", "severity": "EXTREME"}},
		"confidence": 85.0,
		"notes":      nil,
	}

	out := Normalize(artifact, schema)

	if _, ok := out["notes"]; ok {
		t.Fatalf("null field must be omitted")
	}

	sections, _ := out["sections"].([]any)
	if len(sections) != 3 {
		t.Fatalf("minItems padding: want=3 got=%d", len(sections))
	}
	first, _ := sections[0].(map[string]any)
	if first["key"] != "sections_1" || first["title"] != "Sections" {
		t.Fatalf("promotion fields: %v", first)
	}
	if cits, _ := first["citations"].([]any); len(cits) != 1 || cits[0] != "[D1:p2]" {
		t.Fatalf("promoted citations: %v", first["citations"])
	}
	pad, _ := sections[2].(map[string]any)
	if pad["content"] != placeholderContent {
		t.Fatalf("padding content: %v", pad["content"])
	}

	risks, _ := out["risks"].([]any)
	r0, _ := risks[0].(map[string]any)
	if r0["description"] == "" || r0["severity"] != "medium" || r0["category"] != "general" {
		t.Fatalf("string risk reshape: %v", r0)
	}
	r1, _ := risks[1].(map[string]any)
	if r1["severity"] != "medium" {
		t.Fatalf("out-of-enum severity must coerce to medium: %v", r1["severity"])
	}

	if out["confidence"] != 0.85 {
		t.Fatalf("confidence clamp: %v", out["confidence"])
	}

	refs, _ := out["references"].([]any)
	want := []any{"[D1:p2]", "[D2:p7]"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("references: want=%v got=%v", want, refs)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sections": map[string]any{"type": "array", "minItems": 2},
		},
	}
	artifact := map[string]any{
		"sections":      []any{"Margins declined [D1:p4]"},
		"opportunities": []any{"Expand into EU [D2:p1]"},
		"confidence":    92.0,
	}

	once := Normalize(artifact, schema)
	twice := Normalize(once, schema)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("normalize not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestNormalizeLeavesMetricObjectsAlone(t *testing.T) {
	artifact := map[string]any{
		"key_metrics": []any{map[string]any{"name": "ARR", "value": "$12M"}},
	}
	out := Normalize(artifact, nil)
	m, _ := out["key_metrics"].([]any)[0].(map[string]any)
	if _, ok := m["title"]; ok {
		t.Fatalf("metric object must not be promoted: %v", m)
	}
	if m["name"] != "ARR" || m["value"] != "$12M" {
		t.Fatalf("metric mutated: %v", m)
	}
}

func TestValidateClosure(t *testing.T) {
	artifact := map[string]any{
		"summary": "Strong quarter [D1:p3] though churn rose [D4:p9]",
	}
	allowed := map[string]bool{"[D1:p3]": true}
	invalid := ValidateClosure(artifact, allowed)
	if len(invalid) != 1 || invalid[0] != "[D4:p9]" {
		t.Fatalf("invalid citations: %v", invalid)
	}
}
