package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmindhq/docmind-backend/internal/domain"
)

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, userID uuid.UUID, filename string) *domain.Document {
	tb.Helper()
	sum := sha256.Sum256([]byte(filename))
	doc := &domain.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		UserID:      userID,
		Filename:    filename,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   1024,
		Status:      domain.StatusProcessing,
	}
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return doc
}

func SeedChunks(tb testing.TB, ctx context.Context, tx *gorm.DB, doc *domain.Document, n int) []*domain.Chunk {
	tb.Helper()
	out := make([]*domain.Chunk, 0, n)
	for i := 0; i < n; i++ {
		c := &domain.Chunk{
			ID:         uuid.New(),
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			ChunkIndex: i,
			Text:       "chunk text",
			PageNumber: i + 1,
			TokenCount: 12,
		}
		if err := tx.WithContext(ctx).Create(c).Error; err != nil {
			tb.Fatalf("seed chunk %d: %v", i, err)
		}
		out = append(out, c)
	}
	return out
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, userID uuid.UUID) *domain.Session {
	tb.Helper()
	s := &domain.Session{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   userID,
		Title:    "session",
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}
