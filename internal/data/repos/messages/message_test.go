package messages

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/testutil"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
)

func TestMessageIndexMonotone(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewMessageRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	session := testutil.SeedSession(t, ctx, tx, uuid.New(), uuid.New())

	for turn := 0; turn < 3; turn++ {
		user := &domain.Message{Content: "question"}
		assistant := &domain.Message{Content: "answer"}
		if err := repo.AppendPair(dbc, session.ID, user, assistant); err != nil {
			t.Fatalf("AppendPair %d: %v", turn, err)
		}
	}

	all, err := repo.ListSince(dbc, session.ID, 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("messages: want=6 got=%d", len(all))
	}
	for i, m := range all {
		if m.MessageIndex != i {
			t.Fatalf("message_index gap at %d: got=%d", i, m.MessageIndex)
		}
		wantRole := domain.RoleUser
		if i%2 == 1 {
			wantRole = domain.RoleAssistant
		}
		if m.Role != wantRole {
			t.Fatalf("role at %d: want=%s got=%s", i, wantRole, m.Role)
		}
	}

	var sess domain.Session
	if err := tx.Where("id = ?", session.ID).First(&sess).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if sess.MessageCount != 6 {
		t.Fatalf("message_count: want=6 got=%d", sess.MessageCount)
	}

	recent, err := repo.ListRecent(dbc, session.ID, 4)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 4 || recent[0].MessageIndex != 2 || recent[3].MessageIndex != 5 {
		t.Fatalf("recent window wrong: %d msgs, first=%d", len(recent), recent[0].MessageIndex)
	}
}

// Concurrent appends must serialize on the session row lock, so the test
// runs against the pool instead of a single wrapping transaction.
func TestAppendPairConcurrentWriters(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	session := testutil.SeedSession(t, ctx, db, uuid.New(), uuid.New())
	t.Cleanup(func() {
		db.Where("session_id = ?", session.ID).Delete(&domain.Message{})
		db.Where("id = ?", session.ID).Delete(&domain.Session{})
	})

	const writers = 4
	const pairsPerWriter = 3
	var wg sync.WaitGroup
	errs := make(chan error, writers*pairsPerWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < pairsPerWriter; i++ {
				user := &domain.Message{Content: "question"}
				assistant := &domain.Message{Content: "answer"}
				if err := repo.AppendPair(dbc, session.ID, user, assistant); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendPair: %v", err)
	}

	all, err := repo.ListSince(dbc, session.ID, 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	want := writers * pairsPerWriter * 2
	if len(all) != want {
		t.Fatalf("messages: want=%d got=%d", want, len(all))
	}
	seen := map[int]bool{}
	for _, m := range all {
		if m.MessageIndex < 0 || m.MessageIndex >= want {
			t.Fatalf("message_index out of range: %d", m.MessageIndex)
		}
		if seen[m.MessageIndex] {
			t.Fatalf("duplicate message_index: %d", m.MessageIndex)
		}
		seen[m.MessageIndex] = true
	}

	var sess domain.Session
	if err := db.Where("id = ?", session.ID).First(&sess).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if sess.MessageCount != want {
		t.Fatalf("message_count: want=%d got=%d", want, sess.MessageCount)
	}
}
