package jsonx

import "testing"

func TestDecodeLenientStrictFirst(t *testing.T) {
	var out map[string]any
	if err := DecodeLenient(`{"a":1}`, &out); err != nil {
		t.Fatalf("strict parse: %v", err)
	}
	if out["a"].(float64) != 1 {
		t.Fatalf("value: %v", out["a"])
	}
}

func TestDecodeLenientCodeFence(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"sections\": [\"a\", \"b\"]}\n```\nLet me know if you need more."
	var out map[string]any
	if err := DecodeLenient(raw, &out); err != nil {
		t.Fatalf("fenced parse: %v", err)
	}
	if len(out["sections"].([]any)) != 2 {
		t.Fatalf("sections: %v", out["sections"])
	}
}

func TestDecodeLenientPreambleAndTrailingComma(t *testing.T) {
	raw := `Sure! {"items": [1, 2, 3,], "done": true,} hope that helps`
	var out struct {
		Items []int `json:"items"`
		Done  bool  `json:"done"`
	}
	if err := DecodeLenient(raw, &out); err != nil {
		t.Fatalf("repair parse: %v", err)
	}
	if len(out.Items) != 3 || !out.Done {
		t.Fatalf("out: %+v", out)
	}
}

func TestRepairBalancesQuote(t *testing.T) {
	got := closeUnbalancedQuote(`{"a": "unterminated`)
	if got != `{"a": "unterminated"` {
		t.Fatalf("got %q", got)
	}
}

func TestRepairKeepsCommaInsideStrings(t *testing.T) {
	raw := `{"a": "x,}", "b": 2}`
	var out map[string]any
	if err := DecodeLenient(Repair(raw), &out); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out["a"] != "x,}" {
		t.Fatalf("a: %v", out["a"])
	}
}
