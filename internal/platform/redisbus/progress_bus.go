package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// ProgressEvent is what pipelines publish and the SSE layer forwards.
type ProgressEvent struct {
	JobID    uuid.UUID      `json:"job_id"`
	Stage    string         `json:"stage"`
	Progress int            `json:"progress"`
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Subscription delivers events for a single job until Close.
type Subscription interface {
	// Get blocks up to timeout for the next event; ok=false on timeout or
	// after Close.
	Get(timeout time.Duration) (ProgressEvent, bool)
	Close()
}

// ProgressBus fans job progress out over per-job redis channels so any API
// replica can serve the SSE stream for a job processed elsewhere.
type ProgressBus interface {
	Publish(ctx context.Context, ev ProgressEvent) error
	Subscribe(ctx context.Context, jobID uuid.UUID) (Subscription, error)
	Close() error
}

type progressBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewProgressBus(log *logger.Logger) (ProgressBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(envutil.GetEnv("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.GetEnv("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &progressBus{
		log: log.With("service", "RedisProgressBus"),
		rdb: rdb,
	}, nil
}

// NewProgressBusWithClient exists for tests (miniredis or a shared client).
func NewProgressBusWithClient(log *logger.Logger, rdb *goredis.Client) ProgressBus {
	return &progressBus{log: log.With("service", "RedisProgressBus"), rdb: rdb}
}

func channelFor(jobID uuid.UUID) string {
	return "job:progress:" + jobID.String()
}

func (b *progressBus) Publish(ctx context.Context, ev ProgressEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("progress bus not initialized")
	}
	if ev.JobID == uuid.Nil {
		return fmt.Errorf("progress event requires job_id")
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelFor(ev.JobID), raw).Err()
}

func (b *progressBus) Subscribe(ctx context.Context, jobID uuid.UUID) (Subscription, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("progress bus not initialized")
	}
	sub := b.rdb.Subscribe(ctx, channelFor(jobID))

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &subscription{
		events: make(chan ProgressEvent, 64),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.events)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-s.done:
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad progress payload", "job_id", jobID, "error", err)
					continue
				}
				select {
				case s.events <- ev:
				default:
					// Slow consumer; drop rather than block the forwarder.
					b.log.Warn("progress subscriber lagging, dropping event", "job_id", jobID, "stage", ev.Stage)
				}
			}
		}
	}()
	return s, nil
}

func (b *progressBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

type subscription struct {
	events chan ProgressEvent
	done   chan struct{}
	closed bool
}

func (s *subscription) Get(timeout time.Duration) (ProgressEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-s.events:
		return ev, ok
	case <-timer.C:
		return ProgressEvent{}, false
	}
}

func (s *subscription) Close() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}
