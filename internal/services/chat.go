package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/chat"
	chunksrepo "github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	extractionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/extractions"
	messagesrepo "github.com/docmindhq/docmind-backend/internal/data/repos/messages"
	sessionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/sessions"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/retrieval"
)

// ChatRetriever, ChatReranker, and ChatExpander are the narrow retrieval
// boundaries the chat flow depends on.
type ChatRetriever interface {
	Retrieve(dbc dbctx.Context, tenantID uuid.UUID, query string, scope chunksrepo.Scope, k int) ([]*chunksrepo.ScoredChunk, retrieval.Analysis, error)
}

type ChatReranker interface {
	Rerank(ctx context.Context, query string, cands []*chunksrepo.ScoredChunk) ([]*chunksrepo.ScoredChunk, error)
}

type ChatExpander interface {
	Expand(dbc dbctx.Context, ranked []*chunksrepo.ScoredChunk, queryType retrieval.QueryType) ([]*chunksrepo.ScoredChunk, error)
}

type MemoryBuilder interface {
	Build(dbc dbctx.Context, session *domain.Session, userMessage string) (*chat.MemoryContext, error)
}

// ChatTurn is one completed exchange.
type ChatTurn struct {
	UserMessage      *domain.Message `json:"user_message"`
	AssistantMessage *domain.Message `json:"assistant_message"`
}

type ChatService interface {
	CreateSession(dbc dbctx.Context, actor Actor, title string, documentIDs []uuid.UUID) (*domain.Session, error)
	GetSession(dbc dbctx.Context, actor Actor, id uuid.UUID, messageLimit int) (*domain.Session, []*domain.Message, []uuid.UUID, error)
	ListSessions(dbc dbctx.Context, actor Actor) ([]*domain.Session, error)
	LinkDocument(dbc dbctx.Context, actor Actor, sessionID, documentID uuid.UUID) error
	UnlinkDocument(dbc dbctx.Context, actor Actor, sessionID, documentID uuid.UUID) error
	DeleteSession(dbc dbctx.Context, actor Actor, id uuid.UUID) error

	// SendMessage runs the full retrieval-augmented turn and persists the
	// user+assistant pair. onDelta receives streamed answer fragments and may
	// be nil.
	SendMessage(dbc dbctx.Context, actor Actor, sessionID uuid.UUID, content string, onDelta func(delta string)) (*ChatTurn, error)
}

type ChatConfig struct {
	TopK             int
	InputTokenBudget int
	CostPer1KTokens  float64
	MaxFactsPerDoc   int
}

func ChatConfigFromEnv() ChatConfig {
	return ChatConfig{
		TopK:             envutil.GetEnvInt("CHAT_TOP_K", 10),
		InputTokenBudget: envutil.GetEnvInt("CHAT_INPUT_TOKEN_BUDGET", 8000),
		CostPer1KTokens:  envutil.GetEnvFloat("LLM_COST_PER_1K_TOKENS", 0.01),
		MaxFactsPerDoc:   envutil.GetEnvInt("CHAT_MAX_FACTS_PER_DOC", 10),
	}
}

type chatService struct {
	log         *logger.Logger
	sessions    sessionsrepo.SessionRepo
	messages    messagesrepo.MessageRepo
	docs        documentsrepo.DocumentRepo
	extractions extractionsrepo.ExtractionRepo

	memory    MemoryBuilder
	retriever ChatRetriever
	reranker  ChatReranker // may be nil
	expander  ChatExpander // may be nil
	compare   *chat.ComparisonEngine
	llm       openai.Client
	cfg       ChatConfig
}

func NewChatService(
	baseLog *logger.Logger,
	sessionRepo sessionsrepo.SessionRepo,
	messageRepo messagesrepo.MessageRepo,
	docRepo documentsrepo.DocumentRepo,
	extractionRepo extractionsrepo.ExtractionRepo,
	memory MemoryBuilder,
	retriever ChatRetriever,
	reranker ChatReranker,
	expander ChatExpander,
	compare *chat.ComparisonEngine,
	llm openai.Client,
	cfg ChatConfig,
) ChatService {
	if cfg.TopK <= 0 {
		cfg = ChatConfigFromEnv()
	}
	return &chatService{
		log:         baseLog.With("service", "ChatService"),
		sessions:    sessionRepo,
		messages:    messageRepo,
		docs:        docRepo,
		extractions: extractionRepo,
		memory:      memory,
		retriever:   retriever,
		reranker:    reranker,
		expander:    expander,
		compare:     compare,
		llm:         llm,
		cfg:         cfg,
	}
}

func (s *chatService) CreateSession(dbc dbctx.Context, actor Actor, title string, documentIDs []uuid.UUID) (*domain.Session, error) {
	if !actor.Valid() {
		return nil, apierr.ErrInvalidArgument
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New session"
	}
	if len(documentIDs) > 0 {
		found, err := s.docs.GetByIDs(dbc, actor.TenantID, documentIDs)
		if err != nil {
			return nil, err
		}
		if len(found) != len(dedupe(documentIDs)) {
			return nil, fmt.Errorf("%w: one or more documents not found", apierr.ErrNotFound)
		}
	}
	session, err := s.sessions.Create(dbc, &domain.Session{
		TenantID: actor.TenantID,
		UserID:   actor.UserID,
		Title:    title,
	})
	if err != nil {
		return nil, err
	}
	for _, id := range dedupe(documentIDs) {
		if err := s.sessions.LinkDocument(dbc, session.ID, id); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (s *chatService) GetSession(dbc dbctx.Context, actor Actor, id uuid.UUID, messageLimit int) (*domain.Session, []*domain.Message, []uuid.UUID, error) {
	session, err := s.sessions.GetByID(dbc, actor.TenantID, id)
	if err != nil {
		return nil, nil, nil, err
	}
	msgs, err := s.messages.ListRecent(dbc, session.ID, messageLimit)
	if err != nil {
		return nil, nil, nil, err
	}
	docIDs, err := s.sessions.DocumentIDs(dbc, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return session, msgs, docIDs, nil
}

func (s *chatService) ListSessions(dbc dbctx.Context, actor Actor) ([]*domain.Session, error) {
	return s.sessions.ListByUser(dbc, actor.TenantID, actor.UserID)
}

func (s *chatService) LinkDocument(dbc dbctx.Context, actor Actor, sessionID, documentID uuid.UUID) error {
	if _, err := s.sessions.GetByID(dbc, actor.TenantID, sessionID); err != nil {
		return err
	}
	if _, err := s.docs.GetByID(dbc, actor.TenantID, documentID); err != nil {
		return err
	}
	return s.sessions.LinkDocument(dbc, sessionID, documentID)
}

func (s *chatService) UnlinkDocument(dbc dbctx.Context, actor Actor, sessionID, documentID uuid.UUID) error {
	if _, err := s.sessions.GetByID(dbc, actor.TenantID, sessionID); err != nil {
		return err
	}
	return s.sessions.UnlinkDocument(dbc, sessionID, documentID)
}

func (s *chatService) DeleteSession(dbc dbctx.Context, actor Actor, id uuid.UUID) error {
	return s.sessions.Delete(dbc, actor.TenantID, id)
}

func (s *chatService) SendMessage(dbc dbctx.Context, actor Actor, sessionID uuid.UUID, content string, onDelta func(delta string)) (*ChatTurn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "message content required")
	}
	session, err := s.sessions.GetByID(dbc, actor.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	docIDs, err := s.sessions.DocumentIDs(dbc, session.ID)
	if err != nil {
		return nil, err
	}

	mem, err := s.memory.Build(dbc, session, content)
	if err != nil {
		return nil, err
	}

	variant := chat.PromptStandard
	var ranked []*chunksrepo.ScoredChunk
	var analysis retrieval.Analysis
	if len(docIDs) > 0 {
		scope := chunksrepo.Scope{DocumentIDs: docIDs}
		ranked, analysis, err = s.retriever.Retrieve(dbc, actor.TenantID, content, scope, s.cfg.TopK)
		if err != nil {
			return nil, err
		}
		if s.reranker != nil {
			if ranked, err = s.reranker.Rerank(dbc.Ctx, content, ranked); err != nil {
				return nil, err
			}
		}
		if s.expander != nil {
			if ranked, err = s.expander.Expand(dbc, ranked, analysis.Type); err != nil {
				return nil, err
			}
		}
	}

	var comparisonMeta map[string]any
	var factsByDoc map[uuid.UUID][]string
	if analysis.Type == retrieval.QueryComparison && len(docIDs) >= 2 {
		variant = chat.PromptComparison
		comparisonMeta = s.buildComparison(ranked, docIDs)
		factsByDoc = s.extractedFacts(dbc, actor, docIDs)
		if len(factsByDoc) >= 2 {
			variant = chat.PromptFactBasedComparison
		}
	}

	kept, summary := chat.EnforceBudget(ranked, mem, content, s.cfg.InputTokenBudget)
	if len(kept) == 0 && variant == chat.PromptStandard {
		variant = chat.PromptNoChunks
	}
	s.attachFilenames(dbc, actor, kept)

	system, user := chat.BuildPrompt(chat.PromptInput{
		UserMessage:     content,
		Chunks:          kept,
		RecentMessages:  mem.RecentMessages,
		SummaryText:     summary,
		KeyFacts:        mem.KeyFacts,
		Variant:         variant,
		DocumentOrder:   docIDs,
		FactsByDocument: factsByDoc,
	})

	if onDelta == nil {
		onDelta = func(string) {}
	}
	answer, usage, err := s.llm.StreamText(dbc.Ctx, system, user, onDelta)
	if err != nil {
		return nil, apierr.New(apierr.KindLLM, "", apierr.IsRetryable(err), err)
	}

	userMsg := &domain.Message{
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   content,
	}
	assistantMsg := &domain.Message{
		SessionID:          session.ID,
		Role:               domain.RoleAssistant,
		Content:            answer,
		SourceChunkIDs:     chunkIDsJSON(kept),
		RetrievalQuery:     content,
		NumChunksRetrieved: len(kept),
		Model:              s.llm.Model(),
		Tokens:             usage.TotalTokens,
		Cost:               float64(usage.TotalTokens) / 1000 * s.cfg.CostPer1KTokens,
	}
	if comparisonMeta != nil {
		if raw, err := json.Marshal(comparisonMeta); err == nil {
			assistantMsg.ComparisonMetadata = datatypes.JSON(raw)
		}
	}
	if meta := citationMetadata(answer, docIDs); meta != nil {
		if raw, err := json.Marshal(meta); err == nil {
			assistantMsg.CitationMetadata = datatypes.JSON(raw)
		}
	}

	if err := s.messages.AppendPair(dbc, session.ID, userMsg, assistantMsg); err != nil {
		return nil, err
	}
	s.log.Info("chat turn completed",
		"session_id", session.ID.String(), "variant", string(variant),
		"chunks", len(kept), "tokens", usage.TotalTokens)
	return &ChatTurn{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// buildComparison persists a compact trace of the paired or clustered
// structure so the frontend can render the alignment.
func (s *chatService) buildComparison(ranked []*chunksrepo.ScoredChunk, docIDs []uuid.UUID) map[string]any {
	if s.compare == nil || len(ranked) == 0 {
		return nil
	}
	byDoc := map[uuid.UUID][]*chunksrepo.ScoredChunk{}
	for _, sc := range ranked {
		byDoc[sc.Chunk.DocumentID] = append(byDoc[sc.Chunk.DocumentID], sc)
	}

	if len(docIDs) == 2 {
		pairs := s.compare.Pair(byDoc[docIDs[0]], byDoc[docIDs[1]])
		if len(pairs) == 0 {
			return nil
		}
		out := make([]map[string]any, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, map[string]any{
				"topic":      p.Topic,
				"similarity": p.Similarity,
				"chunk_a":    p.A.Chunk.ID.String(),
				"chunk_b":    p.B.Chunk.ID.String(),
			})
		}
		return map[string]any{"mode": "paired", "pairs": out}
	}

	clusters := s.compare.Cluster(byDoc, docIDs)
	if len(clusters) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(clusters))
	for _, c := range clusters {
		members := map[string]string{}
		for docID, sc := range c.Chunks {
			members[docID.String()] = sc.Chunk.ID.String()
		}
		out = append(out, map[string]any{
			"topic":          c.Topic,
			"avg_similarity": c.AvgSimilarity,
			"chunks":         members,
		})
	}
	return map[string]any{"mode": "clustered", "clusters": out}
}

// extractedFacts loads the latest completed extraction per document and
// flattens top-level scalars into "key: value" facts. Documents without a
// completed extraction are simply absent.
func (s *chatService) extractedFacts(dbc dbctx.Context, actor Actor, docIDs []uuid.UUID) map[uuid.UUID][]string {
	out := map[uuid.UUID][]string{}
	for _, id := range docIDs {
		ext, err := s.extractions.LatestCompletedByDocument(dbc, actor.TenantID, id)
		if err != nil {
			continue
		}
		facts := flattenFacts(ext.Result, s.cfg.MaxFactsPerDoc)
		if len(facts) > 0 {
			out[id] = facts
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *chatService) attachFilenames(dbc dbctx.Context, actor Actor, kept []*chunksrepo.ScoredChunk) {
	if len(kept) == 0 {
		return
	}
	idSet := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, sc := range kept {
		if !idSet[sc.Chunk.DocumentID] {
			idSet[sc.Chunk.DocumentID] = true
			ids = append(ids, sc.Chunk.DocumentID)
		}
	}
	docs, err := s.docs.GetByIDs(dbc, actor.TenantID, ids)
	if err != nil {
		s.log.Warn("filename lookup failed", "error", err)
		return
	}
	names := map[uuid.UUID]string{}
	for _, d := range docs {
		names[d.ID] = d.Filename
	}
	for _, sc := range kept {
		if name, ok := names[sc.Chunk.DocumentID]; ok {
			sc.Metadata["document_filename"] = name
		}
	}
}

var answerCitationRe = regexp.MustCompile(`\[D(\d+):p(\d+)\]`)

// citationMetadata maps every citation token in the answer to its document
// id and page. Tokens pointing outside the document order are flagged.
func citationMetadata(answer string, docOrder []uuid.UUID) map[string]any {
	matches := answerCitationRe.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]bool{}
	citations := make([]map[string]any, 0, len(matches))
	var invalid []string
	for _, m := range matches {
		token := m[0]
		if seen[token] {
			continue
		}
		seen[token] = true
		n, _ := strconv.Atoi(m[1])
		page, _ := strconv.Atoi(m[2])
		if n < 1 || n > len(docOrder) {
			invalid = append(invalid, token)
			continue
		}
		citations = append(citations, map[string]any{
			"token":       token,
			"document_id": docOrder[n-1].String(),
			"page":        page,
		})
	}
	out := map[string]any{"citations": citations}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		out["invalid"] = invalid
	}
	return out
}

func chunkIDsJSON(kept []*chunksrepo.ScoredChunk) datatypes.JSON {
	if len(kept) == 0 {
		return nil
	}
	ids := make([]string, len(kept))
	for i, sc := range kept {
		ids[i] = sc.Chunk.ID.String()
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// flattenFacts turns an extraction result's scalar leaves into short
// human-readable facts, depth-first through one level of nesting.
func flattenFacts(raw datatypes.JSON, max int) []string {
	if len(raw) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	var facts []string
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "context_stats" || k == "red_flags" {
			continue
		}
		switch v := data[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				facts = append(facts, fmt.Sprintf("%s: %s", k, v))
			}
		case float64:
			facts = append(facts, fmt.Sprintf("%s: %g", k, v))
		case bool:
			facts = append(facts, fmt.Sprintf("%s: %t", k, v))
		case map[string]any:
			subKeys := make([]string, 0, len(v))
			for sk := range v {
				subKeys = append(subKeys, sk)
			}
			sort.Strings(subKeys)
			for _, sk := range subKeys {
				switch sv := v[sk].(type) {
				case string:
					facts = append(facts, fmt.Sprintf("%s.%s: %s", k, sk, sv))
				case float64:
					facts = append(facts, fmt.Sprintf("%s.%s: %g", k, sk, sv))
				}
			}
		}
	}
	if len(facts) > max {
		facts = facts[:max]
	}
	return facts
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
