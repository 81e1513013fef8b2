package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Normalization is domain-agnostic cleanup of model output before
// persistence. It is idempotent: normalizing an already-normalized artifact
// is a no-op.
//
// Rules:
//   - null fields are omitted
//   - string-array sections are promoted to object arrays
//     {key, title, content, citations}
//   - risks and opportunities are reshaped to
//     {description, category, severity|impact, citations} with the level
//     coerced to the closed set low|medium|high
//   - minimum section counts (schema minItems) are enforced by padding with
//     explicit placeholder entries
//   - references is rebuilt as the deduped sorted set of citation tokens
//     actually present in the text
//   - confidence values outside [0,1] are clamped, treating >1 as a
//     percentage

const placeholderContent = "No supporting content was retrieved for this section."

var severityLevels = map[string]bool{"low": true, "medium": true, "high": true}

func Normalize(artifact map[string]any, outputSchema map[string]any) map[string]any {
	if artifact == nil {
		return map[string]any{}
	}
	out := stripNulls(artifact).(map[string]any)

	for key, v := range out {
		switch key {
		case "references":
			// Rebuilt below from the final text.
		case "risks":
			out[key] = normalizeFindings(v, "severity")
		case "opportunities":
			out[key] = normalizeFindings(v, "impact")
		default:
			if arr, ok := v.([]any); ok {
				out[key] = promoteSections(key, arr)
			}
		}
	}

	padToMinimums(out, outputSchema)
	clampConfidence(out)

	delete(out, "references")
	refs := ExtractCitations(collectText(out))
	sort.Strings(refs)
	asAny := make([]any, len(refs))
	for i, r := range refs {
		asAny[i] = r
	}
	out["references"] = asAny
	return out
}

func stripNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, e := range t {
			if e == nil {
				continue
			}
			out[k] = stripNulls(e)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			out = append(out, stripNulls(e))
		}
		return out
	default:
		return v
	}
}

// promoteSections lifts bare strings into section objects and fills missing
// fields on existing objects. Citations are always rebuilt from the content.
func promoteSections(key string, arr []any) []any {
	out := make([]any, 0, len(arr))
	for i, e := range arr {
		switch t := e.(type) {
		case string:
			out = append(out, sectionObject(key, i, t))
		case map[string]any:
			if !isSectionLike(t) {
				out = append(out, t)
				continue
			}
			content, _ := t["content"].(string)
			if _, ok := t["key"]; !ok {
				t["key"] = fmt.Sprintf("%s_%d", key, i+1)
			}
			if _, ok := t["title"]; !ok {
				t["title"] = titleize(key)
			}
			if _, ok := t["content"]; !ok {
				t["content"] = ""
			}
			t["citations"] = citationsOf(content)
			out = append(out, t)
		default:
			out = append(out, e)
		}
	}
	return out
}

// isSectionLike keeps the promotion away from metric/value object arrays
// that carry none of the section fields.
func isSectionLike(m map[string]any) bool {
	for _, k := range []string{"key", "title", "content"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func sectionObject(key string, i int, content string) map[string]any {
	return map[string]any{
		"key":       fmt.Sprintf("%s_%d", key, i+1),
		"title":     titleize(key),
		"content":   content,
		"citations": citationsOf(content),
	}
}

// normalizeFindings reshapes risk/opportunity entries; levelField is
// "severity" for risks and "impact" for opportunities.
func normalizeFindings(v any, levelField string) []any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(arr))
	for _, e := range arr {
		switch t := e.(type) {
		case string:
			out = append(out, map[string]any{
				"description": t,
				"category":    "general",
				levelField:    "medium",
				"citations":   citationsOf(t),
			})
		case map[string]any:
			desc, _ := t["description"].(string)
			if desc == "" {
				if s, ok := t["content"].(string); ok {
					desc = s
				}
			}
			level, _ := t[levelField].(string)
			level = strings.ToLower(strings.TrimSpace(level))
			if !severityLevels[level] {
				level = "medium"
			}
			category, _ := t["category"].(string)
			if category == "" {
				category = "general"
			}
			out = append(out, map[string]any{
				"description": desc,
				"category":    category,
				levelField:    level,
				"citations":   citationsOf(desc),
			})
		}
	}
	return out
}

// padToMinimums enforces minItems for array properties declared in the
// output schema.
func padToMinimums(out map[string]any, schema map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	for key, raw := range props {
		prop, _ := raw.(map[string]any)
		min := asInt(prop["minItems"])
		if min <= 0 {
			continue
		}
		arr, _ := out[key].([]any)
		for i := len(arr); i < min; i++ {
			arr = append(arr, sectionObject(key, i, placeholderContent))
		}
		out[key] = arr
	}
}

func clampConfidence(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if k == "confidence" {
				if f, ok := asFloat(e); ok {
					if f > 1 {
						f = f / 100
					}
					if f > 1 {
						f = 1
					}
					if f < 0 {
						f = 0
					}
					t[k] = f
					continue
				}
			}
			clampConfidence(e)
		}
	case []any:
		for _, e := range t {
			clampConfidence(e)
		}
	}
}

func citationsOf(text string) []any {
	toks := ExtractCitations(text)
	out := make([]any, len(toks))
	for i, tok := range toks {
		out[i] = tok
	}
	return out
}

func titleize(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
