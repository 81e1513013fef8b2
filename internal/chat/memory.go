package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docmindhq/docmind-backend/internal/data/repos/messages"
	"github.com/docmindhq/docmind-backend/internal/data/repos/sessions"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/redisbus"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
)

type MemoryConfig struct {
	MaxHistoryMessages   int
	VerbatimMessageCount int
	// SummaryTriggerRatio of the input budget at which summarization kicks in,
	// provided at least MinMessages exist.
	SummaryTriggerRatio float64
	MinMessages         int
	InputTokenBudget    int
	SummaryMaxChars     int
	MaxKeyFacts         int
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxHistoryMessages:   40,
		VerbatimMessageCount: 6,
		SummaryTriggerRatio:  0.6,
		MinMessages:          6,
		InputTokenBudget:     8000,
		SummaryMaxChars:      2000,
		MaxKeyFacts:          10,
	}
}

// MemoryContext is what the prompt builder receives.
type MemoryContext struct {
	SummaryText    string
	RecentMessages []*domain.Message
	KeyFacts       []string
}

// Memory maintains the progressive rolling summary: database is the source
// of truth, Redis the read-through accelerator keyed by message count.
type Memory struct {
	log      *logger.Logger
	sessions sessions.SessionRepo
	messages messages.MessageRepo
	cache    redisbus.SummaryCache // may be nil
	llm      openai.Client
	cfg      MemoryConfig
}

func NewMemory(log *logger.Logger, sessionRepo sessions.SessionRepo, messageRepo messages.MessageRepo, cache redisbus.SummaryCache, llm openai.Client, cfg MemoryConfig) *Memory {
	if cfg.MaxKeyFacts <= 0 {
		cfg = DefaultMemoryConfig()
	}
	return &Memory{
		log:      log.With("service", "ConversationMemory"),
		sessions: sessionRepo,
		messages: messageRepo,
		cache:    cache,
		llm:      llm,
		cfg:      cfg,
	}
}

// Build loads bounded history, decides whether a summary is needed, and
// returns (summary, recent verbatim messages, key facts), persisting any
// recomputed summary to DB and cache.
func (m *Memory) Build(dbc dbctx.Context, session *domain.Session, userMessage string) (*MemoryContext, error) {
	history, err := m.messages.ListRecent(dbc, session.ID, m.cfg.MaxHistoryMessages)
	if err != nil {
		return nil, err
	}

	recent := history
	if len(recent) > m.cfg.VerbatimMessageCount {
		recent = recent[len(recent)-m.cfg.VerbatimMessageCount:]
	}
	out := &MemoryContext{RecentMessages: recent, KeyFacts: decodeKeyFacts(session)}

	used := tokens.Estimate(userMessage)
	for _, msg := range history {
		used += tokens.Estimate(msg.Content)
	}
	ratio := float64(used) / float64(m.cfg.InputTokenBudget)
	if ratio < m.cfg.SummaryTriggerRatio || len(history) < m.cfg.MinMessages {
		out.SummaryText = session.LastSummaryText
		return out, nil
	}

	// Cache hit requires the exact message count the summary covered.
	if m.cache != nil {
		if cached, ok, err := m.cache.Get(dbc.Ctx, session.ID, session.MessageCount); err != nil {
			m.log.Warn("summary cache read failed", "session_id", session.ID, "error", err)
		} else if ok {
			out.SummaryText = cached.SummaryText
			out.KeyFacts = cached.KeyFacts
			return out, nil
		}
	}

	// Persistent summary still covers everything? Use it as-is.
	if session.LastSummaryText != "" && session.LastSummarizedIndex >= session.MessageCount-m.cfg.VerbatimMessageCount {
		out.SummaryText = session.LastSummaryText
		m.writeCache(dbc, session, session.LastSummaryText, out.KeyFacts, session.LastSummarizedIndex)
		return out, nil
	}

	summary, facts, summarizedIndex, err := m.recompute(dbc, session, history)
	if err != nil {
		// Memory is best-effort; a failed summary falls back to the last one.
		m.log.Warn("summary recompute failed", "session_id", session.ID, "error", err)
		out.SummaryText = session.LastSummaryText
		return out, nil
	}
	out.SummaryText = summary
	out.KeyFacts = facts

	if err := m.sessions.SaveSummary(dbc, session.ID, summary, facts, summarizedIndex); err != nil {
		return nil, err
	}
	m.writeCache(dbc, session, summary, facts, summarizedIndex)
	return out, nil
}

func (m *Memory) recompute(dbc dbctx.Context, session *domain.Session, history []*domain.Message) (string, []string, int, error) {
	// Summarize everything older than the verbatim window that the previous
	// summary has not covered.
	cutoff := session.MessageCount - m.cfg.VerbatimMessageCount
	var fresh []*domain.Message
	maxIndex := session.LastSummarizedIndex
	for _, msg := range history {
		if msg.MessageIndex >= session.LastSummarizedIndex && msg.MessageIndex < cutoff {
			fresh = append(fresh, msg)
			if msg.MessageIndex+1 > maxIndex {
				maxIndex = msg.MessageIndex + 1
			}
		}
	}
	if len(fresh) == 0 {
		return session.LastSummaryText, decodeKeyFacts(session), session.LastSummarizedIndex, nil
	}

	newFacts, err := m.extractKeyFacts(dbc, fresh)
	if err != nil {
		return "", nil, 0, err
	}
	facts := MergeKeyFacts(decodeKeyFacts(session), newFacts, m.cfg.MaxKeyFacts)

	summary, err := m.progressiveSummary(dbc, session.LastSummaryText, fresh, facts)
	if err != nil {
		return "", nil, 0, err
	}
	if len(summary) > m.cfg.SummaryMaxChars {
		summary = summary[:m.cfg.SummaryMaxChars]
	}
	return summary, facts, maxIndex, nil
}

func (m *Memory) extractKeyFacts(dbc dbctx.Context, msgs []*domain.Message) ([]string, error) {
	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key_facts": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"maxItems": m.cfg.MaxKeyFacts,
			},
		},
		"required": []string{"key_facts"},
	}
	system := "Extract up to 10 key facts from the conversation: entities, numbers, decisions, and stated preferences. One short sentence each."
	resp, err := m.llm.GenerateJSON(dbc.Ctx, system, b.String(), schema)
	if err != nil {
		return nil, apierr.New(apierr.KindSummarizing, "", apierr.IsRetryable(err), err)
	}
	raw, _ := resp.Data["key_facts"].([]any)
	facts := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			facts = append(facts, strings.TrimSpace(s))
		}
	}
	return facts, nil
}

func (m *Memory) progressiveSummary(dbc dbctx.Context, previous string, msgs []*domain.Message, facts []string) (string, error) {
	var b strings.Builder
	if previous != "" {
		fmt.Fprintf(&b, "Previous summary:\n%s\n\n", previous)
	}
	b.WriteString("New messages:\n")
	for _, msg := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	if len(facts) > 0 {
		b.WriteString("\nKey facts to preserve:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	system := fmt.Sprintf("Update the conversation summary to cover the new messages. Preserve the key facts verbatim where relevant. At most %d characters. Output only the summary.", m.cfg.SummaryMaxChars)
	out, _, err := m.llm.GenerateText(dbc.Ctx, system, b.String())
	if err != nil {
		return "", apierr.New(apierr.KindSummarizing, "", apierr.IsRetryable(err), err)
	}
	return strings.TrimSpace(out), nil
}

func (m *Memory) writeCache(dbc dbctx.Context, session *domain.Session, summary string, facts []string, summarizedIndex int) {
	if m.cache == nil {
		return
	}
	err := m.cache.Set(dbc.Ctx, redisbus.CachedSummary{
		SessionID:           session.ID,
		SummaryText:         summary,
		KeyFacts:            facts,
		LastSummarizedIndex: summarizedIndex,
		MessageCount:        session.MessageCount,
	})
	if err != nil {
		m.log.Warn("summary cache write failed", "session_id", session.ID, "error", err)
	}
}

// MergeKeyFacts dedups case-insensitively, new facts last, keeping the max
// most recent.
func MergeKeyFacts(existing, fresh []string, max int) []string {
	seen := map[string]int{}
	var merged []string
	add := func(f string) {
		f = strings.TrimSpace(f)
		if f == "" {
			return
		}
		key := strings.ToLower(f)
		if idx, ok := seen[key]; ok {
			// Re-stating a fact refreshes its recency.
			merged = append(merged[:idx], merged[idx+1:]...)
			for k, v := range seen {
				if v > idx {
					seen[k] = v - 1
				}
			}
		}
		seen[key] = len(merged)
		merged = append(merged, f)
	}
	for _, f := range existing {
		add(f)
	}
	for _, f := range fresh {
		add(f)
	}
	if len(merged) > max {
		merged = merged[len(merged)-max:]
	}
	return merged
}

func decodeKeyFacts(session *domain.Session) []string {
	if session == nil || len(session.LastSummaryKeyFacts) == 0 {
		return nil
	}
	var facts []string
	if err := json.Unmarshal(session.LastSummaryKeyFacts, &facts); err != nil {
		return nil
	}
	return facts
}
