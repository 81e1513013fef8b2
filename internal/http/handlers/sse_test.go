package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/http/middleware"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/redisbus"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type fakeJobService struct {
	job *domain.Job
	err error
}

func (f *fakeJobService) Get(_ dbctx.Context, actor services.Actor, id uuid.UUID) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.job == nil || f.job.ID != id || f.job.TenantID != actor.TenantID {
		return nil, apierr.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobService) Retry(_ dbctx.Context, _ services.Actor, _ uuid.UUID) (*domain.Job, error) {
	return f.job, f.err
}

type fakeSubscription struct {
	events []redisbus.ProgressEvent
}

func (s *fakeSubscription) Get(timeout time.Duration) (redisbus.ProgressEvent, bool) {
	if len(s.events) == 0 {
		return redisbus.ProgressEvent{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}

func (s *fakeSubscription) Close() {}

type fakeProgressBus struct {
	sub        *fakeSubscription
	subscribed int
}

func (b *fakeProgressBus) Publish(_ context.Context, _ redisbus.ProgressEvent) error { return nil }
func (b *fakeProgressBus) Subscribe(_ context.Context, _ uuid.UUID) (redisbus.Subscription, error) {
	b.subscribed++
	return b.sub, nil
}
func (b *fakeProgressBus) Close() error { return nil }

func authedToken(t *testing.T, actor services.Actor) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		TenantID: actor.TenantID.String(),
		UserID:   actor.UserID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newStreamRouter(t *testing.T, jobs services.JobService, bus redisbus.ProgressBus) *gin.Engine {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	mw, err := middleware.NewAuthMiddleware(log)
	if err != nil {
		t.Fatalf("auth middleware: %v", err)
	}
	h := NewJobStreamHandler(log, jobs, bus)
	r := gin.New()
	r.GET("/jobs/:id/events", mw.RequireAuth(), h.Stream)
	return r
}

func TestJobStreamTerminalSnapshotSkipsBus(t *testing.T) {
	actor := services.Actor{TenantID: uuid.New(), UserID: uuid.New()}
	docID := uuid.New()
	job := &domain.Job{
		ID: uuid.New(), TenantID: actor.TenantID, UserID: actor.UserID,
		JobType: "document_index", DocumentID: &docID,
		Status: domain.StatusCompleted,
	}
	bus := &fakeProgressBus{sub: &fakeSubscription{}}
	r := newStreamRouter(t, &fakeJobService{job: job}, bus)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String()+"/events?token="+authedToken(t, actor), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("missing complete event: %q", body)
	}
	if !strings.Contains(body, docID.String()) {
		t.Fatalf("complete event missing owner id: %q", body)
	}
	if n := strings.Count(body, "event: end"); n != 1 {
		t.Fatalf("end events: %d", n)
	}
	if bus.subscribed != 0 {
		t.Fatalf("terminal snapshot must not subscribe")
	}
}

func TestJobStreamRelaysBusUntilTerminal(t *testing.T) {
	actor := services.Actor{TenantID: uuid.New(), UserID: uuid.New()}
	docID := uuid.New()
	job := &domain.Job{
		ID: uuid.New(), TenantID: actor.TenantID, UserID: actor.UserID,
		JobType: "document_index", DocumentID: &docID,
		Status: domain.StatusProcessing, CurrentStage: domain.StageParse, ProgressPercent: 10,
	}
	bus := &fakeProgressBus{sub: &fakeSubscription{events: []redisbus.ProgressEvent{
		{JobID: job.ID, Status: domain.StatusProcessing, Stage: domain.StageEmbed, Progress: 60},
		{JobID: job.ID, Status: domain.StatusCompleted, Progress: 100},
	}}}
	r := newStreamRouter(t, &fakeJobService{job: job}, bus)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String()+"/events?token="+authedToken(t, actor), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Count(body, "event: progress") != 2 {
		t.Fatalf("progress events: %q", body)
	}
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("missing complete event: %q", body)
	}
	if n := strings.Count(body, "event: end"); n != 1 {
		t.Fatalf("end events: %d", n)
	}
	if bus.subscribed != 1 {
		t.Fatalf("subscriptions: %d", bus.subscribed)
	}
}

func TestJobStreamFailedSnapshotCarriesStage(t *testing.T) {
	actor := services.Actor{TenantID: uuid.New(), UserID: uuid.New()}
	docID := uuid.New()
	job := &domain.Job{
		ID: uuid.New(), TenantID: actor.TenantID, UserID: actor.UserID,
		JobType: "document_index", DocumentID: &docID,
		Status: domain.StatusFailed, ErrorStage: domain.StageEmbed, ErrorMessage: "embedding provider down",
	}
	bus := &fakeProgressBus{sub: &fakeSubscription{}}
	r := newStreamRouter(t, &fakeJobService{job: job}, bus)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String()+"/events?token="+authedToken(t, actor), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "embedding provider down") {
		t.Fatalf("missing error detail: %q", body)
	}
	if n := strings.Count(body, "event: end"); n != 1 {
		t.Fatalf("end events: %d", n)
	}
}

func TestJobStreamHidesOtherTenants(t *testing.T) {
	owner := services.Actor{TenantID: uuid.New(), UserID: uuid.New()}
	intruder := services.Actor{TenantID: uuid.New(), UserID: uuid.New()}
	docID := uuid.New()
	job := &domain.Job{
		ID: uuid.New(), TenantID: owner.TenantID, UserID: owner.UserID,
		JobType: "document_index", DocumentID: &docID,
		Status: domain.StatusProcessing,
	}
	bus := &fakeProgressBus{sub: &fakeSubscription{}}
	r := newStreamRouter(t, &fakeJobService{job: job}, bus)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String()+"/events?token="+authedToken(t, intruder), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}
