package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

const summaryTTL = 24 * time.Hour

// CachedSummary is the progressive conversation summary snapshot. MessageCount
// records how many messages the summary covered; a cached entry is only valid
// for a session that still has that count.
type CachedSummary struct {
	SessionID           uuid.UUID `json:"session_id"`
	SummaryText         string    `json:"summary_text"`
	KeyFacts            []string  `json:"key_facts"`
	LastSummarizedIndex int       `json:"last_summarized_index"`
	MessageCount        int       `json:"message_count"`
}

// SummaryCache fronts the sessions table for hot conversations.
type SummaryCache interface {
	// Get returns ok=false on miss or when the cached entry covers a
	// different message count than currentMessageCount.
	Get(ctx context.Context, sessionID uuid.UUID, currentMessageCount int) (CachedSummary, bool, error)
	Set(ctx context.Context, s CachedSummary) error
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}

type summaryCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewSummaryCache(log *logger.Logger, rdb *goredis.Client) (SummaryCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &summaryCache{log: log.With("service", "SummaryCache"), rdb: rdb}, nil
}

func summaryKey(sessionID uuid.UUID) string {
	return "session:summary:" + sessionID.String()
}

func (c *summaryCache) Get(ctx context.Context, sessionID uuid.UUID, currentMessageCount int) (CachedSummary, bool, error) {
	raw, err := c.rdb.Get(ctx, summaryKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return CachedSummary{}, false, nil
	}
	if err != nil {
		return CachedSummary{}, false, err
	}
	var s CachedSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.log.Warn("corrupt cached summary, dropping", "session_id", sessionID, "error", err)
		_ = c.rdb.Del(ctx, summaryKey(sessionID)).Err()
		return CachedSummary{}, false, nil
	}
	if s.MessageCount != currentMessageCount {
		return CachedSummary{}, false, nil
	}
	return s, true, nil
}

func (c *summaryCache) Set(ctx context.Context, s CachedSummary) error {
	if s.SessionID == uuid.Nil {
		return fmt.Errorf("cached summary requires session_id")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, summaryKey(s.SessionID), raw, summaryTTL).Err()
}

func (c *summaryCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	return c.rdb.Del(ctx, summaryKey(sessionID)).Err()
}
