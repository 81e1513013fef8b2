package workflow

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
)

// citationRe matches the wire form [D{n}:p{page}].
var citationRe = regexp.MustCompile(`\[D\d+:p\d+\]`)

// CitationToken renders the token for a chunk given the run's document order.
func CitationToken(sc *chunks.ScoredChunk, docIndex map[uuid.UUID]int) string {
	return fmt.Sprintf("[D%d:p%d]", docIndex[sc.Chunk.DocumentID], sc.Chunk.PageNumber)
}

// ExtractCitations returns the tokens in text, deduped, in first-seen order.
func ExtractCitations(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range citationRe.FindAllString(text, -1) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// collectText walks a decoded artifact and concatenates every string value,
// so citation checks cover nested sections and object arrays.
func collectText(v any) string {
	switch t := v.(type) {
	case string:
		return t + "\n"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out string
		for _, k := range keys {
			out += collectText(t[k])
		}
		return out
	case []any:
		var out string
		for _, e := range t {
			out += collectText(e)
		}
		return out
	default:
		return ""
	}
}

// ValidateClosure checks that every token in the artifact lies in the set of
// tokens assembled into the retrieval context. It returns the tokens that do
// not, sorted.
func ValidateClosure(artifact map[string]any, allowed map[string]bool) []string {
	var invalid []string
	seen := map[string]bool{}
	for _, tok := range citationRe.FindAllString(collectText(artifact), -1) {
		if !allowed[tok] && !seen[tok] {
			seen[tok] = true
			invalid = append(invalid, tok)
		}
	}
	sort.Strings(invalid)
	return invalid
}
