package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/domain"
)

type PromptVariant string

const (
	PromptStandard            PromptVariant = "standard"
	PromptComparison          PromptVariant = "comparison"
	PromptFactBasedComparison PromptVariant = "fact_based_comparison"
	PromptNoChunks            PromptVariant = "no_chunks"
)

// PromptInput is everything the builder needs; the builder itself is a pure
// function with no I/O.
type PromptInput struct {
	UserMessage    string
	Chunks         []*chunks.ScoredChunk
	RecentMessages []*domain.Message
	SummaryText    string
	KeyFacts       []string
	Variant        PromptVariant
	// DocumentOrder fixes the 1-based D{n} indexes for citation tokens.
	DocumentOrder []uuid.UUID
	// FactsByDocument feeds the fact-based comparison variant.
	FactsByDocument map[uuid.UUID][]string
}

const citationInstruction = "Cite every claim drawn from a source using its token, e.g. [D1:p3]. " +
	"Use only tokens that appear in the source headers. Never invent citations."

// BuildPrompt renders the system and user prompts for a chat turn.
func BuildPrompt(in PromptInput) (system, user string) {
	docIndex := map[uuid.UUID]int{}
	for i, id := range in.DocumentOrder {
		docIndex[id] = i + 1
	}

	var sys strings.Builder
	switch in.Variant {
	case PromptComparison:
		sys.WriteString("You compare documents for an analyst. Structure the answer as a comparison: ")
		sys.WriteString("lead with a short verdict, then a markdown table contrasting the documents point by point, then notable differences. ")
		sys.WriteString(citationInstruction)
	case PromptFactBasedComparison:
		sys.WriteString("You compare documents using the extracted facts provided per document. ")
		sys.WriteString("Prefer the extracted facts over re-deriving figures; fall back to the source passages only when a fact is missing. ")
		sys.WriteString("Answer as a comparison table followed by key differences. ")
		sys.WriteString(citationInstruction)
	case PromptNoChunks:
		sys.WriteString("No relevant passages were found in the selected documents. ")
		sys.WriteString("Say so plainly, answer from conversation context if possible, and never fabricate document content or citations.")
	default:
		sys.WriteString("You answer questions about the user's documents using only the source passages below. ")
		sys.WriteString("If the sources do not contain the answer, say so. ")
		sys.WriteString(citationInstruction)
	}

	var u strings.Builder
	if in.SummaryText != "" {
		u.WriteString("SUMMARY\n")
		u.WriteString(in.SummaryText)
		u.WriteString("\n\n")
	}
	if len(in.KeyFacts) > 0 {
		u.WriteString("KEY FACTS\n")
		for _, f := range in.KeyFacts {
			fmt.Fprintf(&u, "- %s\n", f)
		}
		u.WriteString("\n")
	}
	if len(in.RecentMessages) > 0 {
		u.WriteString("RECENT MESSAGES\n")
		for _, m := range in.RecentMessages {
			fmt.Fprintf(&u, "%s: %s\n", m.Role, m.Content)
		}
		u.WriteString("\n")
	}
	if in.Variant == PromptFactBasedComparison && len(in.FactsByDocument) > 0 {
		u.WriteString("EXTRACTED FACTS\n")
		for _, id := range in.DocumentOrder {
			facts := in.FactsByDocument[id]
			if len(facts) == 0 {
				continue
			}
			fmt.Fprintf(&u, "Document D%d:\n", docIndex[id])
			for _, f := range facts {
				fmt.Fprintf(&u, "- %s\n", f)
			}
		}
		u.WriteString("\n")
	}
	if len(in.Chunks) > 0 {
		u.WriteString("SOURCES\n")
		for _, sc := range in.Chunks {
			u.WriteString(sourceHeader(sc, docIndex))
			u.WriteString("\n")
			u.WriteString(sc.Chunk.Text)
			u.WriteString("\n\n")
		}
	}
	u.WriteString("QUESTION\n")
	u.WriteString(in.UserMessage)

	return sys.String(), u.String()
}

// sourceHeader renders the per-source header carrying the citation token,
// filename, page, and optional section heading.
func sourceHeader(sc *chunks.ScoredChunk, docIndex map[uuid.UUID]int) string {
	n := docIndex[sc.Chunk.DocumentID]
	filename, _ := sc.Metadata["document_filename"].(string)
	header := fmt.Sprintf("[D%d:p%d] %s", n, sc.Chunk.PageNumber, filename)
	if sc.Chunk.SectionHeading != "" {
		header += " - " + sc.Chunk.SectionHeading
	}
	return header
}
