package retrieval

import (
	"regexp"
	"strings"
)

// QueryType steers boosting, expansion, and prompt selection.
type QueryType string

const (
	QueryDataExtraction QueryType = "data_extraction"
	QuerySummarization  QueryType = "summarization"
	QueryEntityLookup   QueryType = "entity_lookup"
	QueryGeneralQA      QueryType = "general_qa"
	QueryComparison     QueryType = "comparison"
)

// Analysis is the classifier output: the query type plus content preferences
// derived from it and from explicit wording.
type Analysis struct {
	Type            QueryType
	PreferTables    bool
	PreferNarrative bool
}

var (
	comparisonRe = regexp.MustCompile(`(?i)\b(compare|comparison|versus|vs\.?|differ|difference|between .+ and )\b`)
	dataRe       = regexp.MustCompile(`(?i)\b(how (much|many)|revenue|ebitda|margin|total|amount|number of|figure|value|percentage|ratio|cost|price|balance|cash flow|fy\d{2,4}|q[1-4])\b`)
	summaryRe    = regexp.MustCompile(`(?i)\b(summar(y|ize|ise)|overview|high.?level|key (points|takeaways)|tl;?dr|brief)\b`)
	entityRe     = regexp.MustCompile(`(?i)\b(who is|who are|what is the name|which (company|firm|entity|person)|ceo|cfo|founder|counterpart|signatory)\b`)
	tableWordRe  = regexp.MustCompile(`(?i)\b(table|row|column|spreadsheet|schedule|line item)\b`)
)

// Classify is rule-based: cheap, deterministic, and good enough to steer
// retrieval; the LLM never sees this decision directly.
func Classify(query string) Analysis {
	q := strings.TrimSpace(query)
	a := Analysis{Type: QueryGeneralQA}
	switch {
	case comparisonRe.MatchString(q):
		a.Type = QueryComparison
	case summaryRe.MatchString(q):
		a.Type = QuerySummarization
	case dataRe.MatchString(q):
		a.Type = QueryDataExtraction
	case entityRe.MatchString(q):
		a.Type = QueryEntityLookup
	}

	switch a.Type {
	case QueryDataExtraction:
		a.PreferTables = true
	case QuerySummarization:
		a.PreferNarrative = true
	}
	if tableWordRe.MatchString(q) {
		a.PreferTables = true
	}
	return a
}
