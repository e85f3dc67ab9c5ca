package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deskd/deskd/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(id string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		SessionID: id,
		Status:    domain.SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := newSession("s1")
	session.Title = "desk work"
	session.Metadata = map[string]interface{}{
		domain.MetaSandboxInstanceID: "inst-1",
		domain.MetaDisplayPort:       float64(49153),
		domain.MetaControlPort:       float64(49154),
	}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Title != "desk work" || got.Status != domain.SessionStatusActive || got.Archived {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.SandboxInstanceID() != "inst-1" {
		t.Fatalf("unexpected sandbox instance id: %q", got.SandboxInstanceID())
	}
}

func TestGetSessionAbsent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent session, got %+v", got)
	}
}

func TestListSessionsOrderedByUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newSession("old")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	old.UpdatedAt = old.CreatedAt
	recent := newSession("recent")
	if err := s.CreateSession(ctx, old); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.CreateSession(ctx, recent); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "recent" || sessions[1].SessionID != "old" {
		t.Fatalf("unexpected order: %s, %s", sessions[0].SessionID, sessions[1].SessionID)
	}
}

func TestUpdateSessionArchives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := newSession("s1")
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	before := session.UpdatedAt
	session.Status = domain.SessionStatusArchived
	session.Archived = true
	if err := s.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != domain.SessionStatusArchived || !got.Archived {
		t.Fatalf("expected archived session, got %+v", got)
	}
	if !got.UpdatedAt.After(before) {
		t.Fatalf("expected updated_at refreshed, before=%v after=%v", before, got.UpdatedAt)
	}
}

func TestUpdateSessionMissing(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdateSession(context.Background(), newSession("ghost")); err == nil {
		t.Fatal("expected error updating missing session")
	}
}

func TestMessagesAppendOnlyOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	base := time.Now().UTC()
	for i, role := range []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser} {
		msg := &domain.Message{
			MessageID: string(rune('a' + i)),
			SessionID: "s1",
			Role:      role,
			Content:   "msg",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	wantRoles := []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser}
	for i, want := range wantRoles {
		if messages[i].Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, messages[i].Role)
		}
	}
}

func TestMessageStructuredContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	blocks := json.RawMessage(`[{"type":"text","text":"done"},{"type":"tool_use","id":"tu_1","name":"computer"}]`)
	msg := &domain.Message{
		MessageID:   "m1",
		SessionID:   "s1",
		Role:        domain.RoleAssistant,
		ContentJSON: blocks,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Content != "" {
		t.Fatalf("expected empty plain content, got %q", messages[0].Content)
	}
	if string(messages[0].ContentJSON) != string(blocks) {
		t.Fatalf("content_json mismatch:\nwant %s\ngot  %s", blocks, messages[0].ContentJSON)
	}
}

func TestGetMessagesEmptySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}

// Background turns read and write through the same store the request path
// uses, so every pooled connection must see the same in-memory database.
func TestConcurrentAccessSharesDatabase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := &domain.Message{
				MessageID: fmt.Sprintf("m%d", n),
				SessionID: "s1",
				Role:      domain.RoleUser,
				Content:   "hello",
				CreatedAt: time.Now().UTC(),
			}
			if err := s.CreateMessage(ctx, msg); err != nil {
				errs <- err
				return
			}
			if _, err := s.GetMessages(ctx, "s1"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent store access failed: %v", err)
	}

	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != workers {
		t.Fatalf("expected %d messages, got %d", workers, len(messages))
	}
}
