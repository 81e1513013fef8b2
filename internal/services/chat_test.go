package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

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
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/retrieval"
)

type fakeSessionRepo struct {
	session *domain.Session
	docIDs  []uuid.UUID
}

func (f *fakeSessionRepo) Create(_ dbctx.Context, s *domain.Session) (*domain.Session, error) {
	s.ID = uuid.New()
	f.session = s
	return s, nil
}
func (f *fakeSessionRepo) GetByID(_ dbctx.Context, tenantID, id uuid.UUID) (*domain.Session, error) {
	if f.session == nil || f.session.ID != id || f.session.TenantID != tenantID {
		return nil, apierr.ErrNotFound
	}
	return f.session, nil
}
func (f *fakeSessionRepo) ListByUser(dbctx.Context, uuid.UUID, uuid.UUID) ([]*domain.Session, error) {
	return []*domain.Session{f.session}, nil
}
func (f *fakeSessionRepo) LinkDocument(_ dbctx.Context, _ uuid.UUID, documentID uuid.UUID) error {
	f.docIDs = append(f.docIDs, documentID)
	return nil
}
func (f *fakeSessionRepo) UnlinkDocument(dbctx.Context, uuid.UUID, uuid.UUID) error { return nil }
func (f *fakeSessionRepo) DocumentIDs(dbctx.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.docIDs, nil
}
func (f *fakeSessionRepo) SaveSummary(dbctx.Context, uuid.UUID, string, []string, int) error {
	return nil
}
func (f *fakeSessionRepo) Delete(dbctx.Context, uuid.UUID, uuid.UUID) error { return nil }

var _ sessionsrepo.SessionRepo = (*fakeSessionRepo)(nil)

type fakeMessageRepo struct {
	pairs [][2]*domain.Message
}

func (f *fakeMessageRepo) AppendPair(_ dbctx.Context, _ uuid.UUID, userMsg, assistantMsg *domain.Message) error {
	f.pairs = append(f.pairs, [2]*domain.Message{userMsg, assistantMsg})
	return nil
}
func (f *fakeMessageRepo) ListRecent(dbctx.Context, uuid.UUID, int) ([]*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessageRepo) ListSince(dbctx.Context, uuid.UUID, int) ([]*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessageRepo) Count(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }

var _ messagesrepo.MessageRepo = (*fakeMessageRepo)(nil)

type fakeDocRepo struct {
	docs map[uuid.UUID]*domain.Document
}

func (f *fakeDocRepo) Create(_ dbctx.Context, d *domain.Document) (*domain.Document, bool, error) {
	for _, existing := range f.docs {
		if existing.TenantID == d.TenantID && existing.ContentHash == d.ContentHash {
			return existing, true, nil
		}
	}
	if f.docs == nil {
		f.docs = map[uuid.UUID]*domain.Document{}
	}
	f.docs[d.ID] = d
	return d, false, nil
}
func (f *fakeDocRepo) GetByID(_ dbctx.Context, tenantID, id uuid.UUID) (*domain.Document, error) {
	d, ok := f.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, apierr.ErrNotFound
	}
	return d, nil
}
func (f *fakeDocRepo) GetByHash(dbctx.Context, uuid.UUID, string) (*domain.Document, error) {
	return nil, apierr.ErrNotFound
}
func (f *fakeDocRepo) GetByIDs(_ dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*domain.Document, error) {
	var out []*domain.Document
	for _, id := range ids {
		if d, ok := f.docs[id]; ok && d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDocRepo) ListByUser(dbctx.Context, uuid.UUID, uuid.UUID, int, int) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocRepo) MarkCompleted(dbctx.Context, uuid.UUID, int, int, int64, string) error {
	return nil
}
func (f *fakeDocRepo) MarkFailed(dbctx.Context, uuid.UUID, string) error { return nil }
func (f *fakeDocRepo) Delete(_ dbctx.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.docs, id)
	return nil
}

var _ documentsrepo.DocumentRepo = (*fakeDocRepo)(nil)

type fakeExtractionRepo struct {
	byDocument map[uuid.UUID]*domain.Extraction
}

func (f *fakeExtractionRepo) Create(_ dbctx.Context, e *domain.Extraction) (*domain.Extraction, error) {
	e.ID = uuid.New()
	return e, nil
}
func (f *fakeExtractionRepo) GetByID(dbctx.Context, uuid.UUID, uuid.UUID) (*domain.Extraction, error) {
	return nil, apierr.ErrNotFound
}
func (f *fakeExtractionRepo) ListByUser(dbctx.Context, uuid.UUID, uuid.UUID, int) ([]*domain.Extraction, error) {
	return nil, nil
}
func (f *fakeExtractionRepo) LatestCompletedByDocument(_ dbctx.Context, _ uuid.UUID, documentID uuid.UUID) (*domain.Extraction, error) {
	if e, ok := f.byDocument[documentID]; ok {
		return e, nil
	}
	return nil, apierr.ErrNotFound
}
func (f *fakeExtractionRepo) MarkCompleted(dbctx.Context, uuid.UUID, datatypes.JSON, int, float64) error {
	return nil
}
func (f *fakeExtractionRepo) MarkFailed(dbctx.Context, uuid.UUID, string) error { return nil }
func (f *fakeExtractionRepo) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}

var _ extractionsrepo.ExtractionRepo = (*fakeExtractionRepo)(nil)

type fakeMemory struct{}

func (fakeMemory) Build(_ dbctx.Context, _ *domain.Session, _ string) (*chat.MemoryContext, error) {
	return &chat.MemoryContext{}, nil
}

type fakeChatRetriever struct {
	hits     []*chunksrepo.ScoredChunk
	analysis retrieval.Analysis
	calls    int
}

func (f *fakeChatRetriever) Retrieve(_ dbctx.Context, _ uuid.UUID, _ string, _ chunksrepo.Scope, _ int) ([]*chunksrepo.ScoredChunk, retrieval.Analysis, error) {
	f.calls++
	return f.hits, f.analysis, nil
}

type fakeChatLLM struct {
	answer     string
	lastSystem string
	lastUser   string
	deltas     []string
}

func (f *fakeChatLLM) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (f *fakeChatLLM) EmbedModel() string   { return "text-embedding-3-small" }
func (f *fakeChatLLM) EmbedDimension() int  { return 2 }
func (f *fakeChatLLM) Model() string        { return "gpt-4o" }
func (f *fakeChatLLM) GenerateJSON(context.Context, string, string, map[string]any) (*openai.Structured, error) {
	return &openai.Structured{Data: map[string]any{}}, nil
}
func (f *fakeChatLLM) GenerateText(context.Context, string, string) (string, openai.Usage, error) {
	return "", openai.Usage{}, nil
}
func (f *fakeChatLLM) StreamText(_ context.Context, system, user string, onDelta func(string)) (string, openai.Usage, error) {
	f.lastSystem = system
	f.lastUser = user
	for _, part := range strings.SplitAfter(f.answer, " ") {
		f.deltas = append(f.deltas, part)
		onDelta(part)
	}
	return f.answer, openai.Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140}, nil
}
func (f *fakeChatLLM) SummarizeChunksBatch(_ context.Context, inputs []openai.ChunkSummaryInput) ([]string, error) {
	return make([]string, len(inputs)), nil
}

var _ openai.Client = (*fakeChatLLM)(nil)

func chatChunk(docID uuid.UUID, page, tokens int, text string) *chunksrepo.ScoredChunk {
	emb, _ := json.Marshal([]float32{0.5, 0.5})
	return &chunksrepo.ScoredChunk{
		Chunk: &domain.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			PageNumber: page,
			Text:       text,
			TokenCount: tokens,
			Embedding:  datatypes.JSON(emb),
			CreatedAt:  time.Now(),
		},
		Metadata: map[string]any{},
		Score:    0.9,
	}
}

func newChatFixture(t *testing.T, docIDs []uuid.UUID, retr *fakeChatRetriever, llm *fakeChatLLM) (ChatService, *fakeSessionRepo, *fakeMessageRepo, *fakeExtractionRepo, Actor) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	actor := Actor{TenantID: uuid.New(), UserID: uuid.New()}
	sessionRepo := &fakeSessionRepo{
		session: &domain.Session{ID: uuid.New(), TenantID: actor.TenantID, UserID: actor.UserID},
		docIDs:  docIDs,
	}
	docRepo := &fakeDocRepo{docs: map[uuid.UUID]*domain.Document{}}
	for i, id := range docIDs {
		docRepo.docs[id] = &domain.Document{
			ID: id, TenantID: actor.TenantID, UserID: actor.UserID,
			Filename: "doc" + string(rune('A'+i)) + ".pdf", Status: domain.StatusCompleted,
		}
	}
	msgRepo := &fakeMessageRepo{}
	extRepo := &fakeExtractionRepo{byDocument: map[uuid.UUID]*domain.Extraction{}}
	svc := NewChatService(log, sessionRepo, msgRepo, docRepo, extRepo,
		fakeMemory{}, retr, nil, nil,
		chat.NewComparisonEngine(log, chat.DefaultComparisonConfig()), llm,
		ChatConfig{TopK: 10, InputTokenBudget: 8000, CostPer1KTokens: 0.01, MaxFactsPerDoc: 10})
	return svc, sessionRepo, msgRepo, extRepo, actor
}

func TestSendMessagePersistsTurnWithRetrievalTrace(t *testing.T) {
	docID := uuid.New()
	retr := &fakeChatRetriever{
		hits: []*chunksrepo.ScoredChunk{
			chatChunk(docID, 3, 100, "Revenue was 42m in FY23."),
			chatChunk(docID, 7, 120, "Margins improved year on year."),
		},
		analysis: retrieval.Analysis{Type: retrieval.QueryGeneralQA},
	}
	llm := &fakeChatLLM{answer: "Revenue grew to 42m [D1:p3] while margins improved [D1:p7]."}
	svc, sessions, msgs, _, actor := newChatFixture(t, []uuid.UUID{docID}, retr, llm)
	dbc := dbctx.New(context.Background())

	var streamed strings.Builder
	turn, err := svc.SendMessage(dbc, actor, sessions.session.ID, "How did revenue do?", func(d string) {
		streamed.WriteString(d)
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if streamed.String() != llm.answer {
		t.Fatalf("streamed %q, want full answer", streamed.String())
	}
	if len(msgs.pairs) != 1 {
		t.Fatalf("pairs: %d", len(msgs.pairs))
	}
	assistant := turn.AssistantMessage
	if assistant.NumChunksRetrieved != 2 {
		t.Fatalf("num chunks: %d", assistant.NumChunksRetrieved)
	}
	if assistant.Tokens != 140 {
		t.Fatalf("tokens: %d", assistant.Tokens)
	}
	var ids []string
	if err := json.Unmarshal(assistant.SourceChunkIDs, &ids); err != nil || len(ids) != 2 {
		t.Fatalf("source chunk ids: %v %v", ids, err)
	}

	var meta map[string]any
	if err := json.Unmarshal(assistant.CitationMetadata, &meta); err != nil {
		t.Fatalf("citation metadata: %v", err)
	}
	cites, _ := meta["citations"].([]any)
	if len(cites) != 2 {
		t.Fatalf("citations: %v", meta)
	}
	first, _ := cites[0].(map[string]any)
	if first["document_id"] != docID.String() {
		t.Fatalf("citation document: %v", first)
	}
	if !strings.Contains(llm.lastUser, "[D1:p3]") {
		t.Fatalf("source header missing citation token:\n%s", llm.lastUser)
	}
	if !strings.Contains(llm.lastUser, "docA.pdf") {
		t.Fatalf("source header missing filename:\n%s", llm.lastUser)
	}
}

func TestSendMessageWithoutDocumentsSkipsRetrieval(t *testing.T) {
	retr := &fakeChatRetriever{}
	llm := &fakeChatLLM{answer: "I don't have any documents to draw on."}
	svc, sessions, _, _, actor := newChatFixture(t, nil, retr, llm)
	dbc := dbctx.New(context.Background())

	turn, err := svc.SendMessage(dbc, actor, sessions.session.ID, "What does the contract say?", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if retr.calls != 0 {
		t.Fatalf("retriever called with empty scope")
	}
	if !strings.Contains(llm.lastSystem, "No relevant passages") {
		t.Fatalf("expected no-chunks prompt variant, got:\n%s", llm.lastSystem)
	}
	if turn.AssistantMessage.NumChunksRetrieved != 0 {
		t.Fatalf("num chunks: %d", turn.AssistantMessage.NumChunksRetrieved)
	}
}

func TestSendMessageComparisonRecordsPairedMetadata(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()
	retr := &fakeChatRetriever{
		hits: []*chunksrepo.ScoredChunk{
			chatChunk(docA, 2, 100, "Company A revenue 10m."),
			chatChunk(docB, 4, 100, "Company B revenue 12m."),
		},
		analysis: retrieval.Analysis{Type: retrieval.QueryComparison},
	}
	llm := &fakeChatLLM{answer: "A made 10m [D1:p2], B made 12m [D2:p4]."}
	svc, sessions, _, _, actor := newChatFixture(t, []uuid.UUID{docA, docB}, retr, llm)
	dbc := dbctx.New(context.Background())

	turn, err := svc.SendMessage(dbc, actor, sessions.session.ID, "Compare A versus B revenue", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(llm.lastSystem, "compare documents") {
		t.Fatalf("expected comparison prompt, got:\n%s", llm.lastSystem)
	}
	var meta map[string]any
	if err := json.Unmarshal(turn.AssistantMessage.ComparisonMetadata, &meta); err != nil {
		t.Fatalf("comparison metadata: %v", err)
	}
	if meta["mode"] != "paired" {
		t.Fatalf("mode: %v", meta["mode"])
	}
	pairs, _ := meta["pairs"].([]any)
	if len(pairs) == 0 {
		t.Fatalf("no pairs recorded: %v", meta)
	}
}

func TestSendMessageFactBasedComparisonWhenExtractionsExist(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()
	retr := &fakeChatRetriever{
		hits: []*chunksrepo.ScoredChunk{
			chatChunk(docA, 1, 100, "A narrative."),
			chatChunk(docB, 1, 100, "B narrative."),
		},
		analysis: retrieval.Analysis{Type: retrieval.QueryComparison},
	}
	llm := &fakeChatLLM{answer: "A grew faster [D1:p1]."}
	svc, sessions, _, extRepo, actor := newChatFixture(t, []uuid.UUID{docA, docB}, retr, llm)
	resultA, _ := json.Marshal(map[string]any{"company_name": "Acme", "revenue": 10.5})
	resultB, _ := json.Marshal(map[string]any{"company_name": "Bolt", "revenue": 12.0})
	extRepo.byDocument[docA] = &domain.Extraction{Result: datatypes.JSON(resultA)}
	extRepo.byDocument[docB] = &domain.Extraction{Result: datatypes.JSON(resultB)}
	dbc := dbctx.New(context.Background())

	if _, err := svc.SendMessage(dbc, actor, sessions.session.ID, "Compare Acme versus Bolt", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(llm.lastSystem, "extracted facts") {
		t.Fatalf("expected fact-based prompt, got:\n%s", llm.lastSystem)
	}
	if !strings.Contains(llm.lastUser, "company_name: Acme") {
		t.Fatalf("extracted facts missing from prompt:\n%s", llm.lastUser)
	}
}

func TestCreateSessionRejectsUnknownDocuments(t *testing.T) {
	svc, _, _, _, actor := newChatFixture(t, nil, &fakeChatRetriever{}, &fakeChatLLM{})
	dbc := dbctx.New(context.Background())

	_, err := svc.CreateSession(dbc, actor, "Deal review", []uuid.UUID{uuid.New()})
	if err == nil {
		t.Fatalf("expected not-found for unknown document")
	}
}
