package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deskd/deskd/internal/archive"
	"github.com/deskd/deskd/internal/config"
	"github.com/deskd/deskd/internal/domain"
	"github.com/deskd/deskd/internal/engine"
	"github.com/deskd/deskd/internal/hub"
	"github.com/deskd/deskd/internal/sandbox"
	"github.com/deskd/deskd/tests/helpers"
)

// scriptedRunner drives the turn with a canned callback sequence.
type scriptedRunner struct {
	mu       sync.Mutex
	run      func(req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error)
	requests []engine.TurnRequest
}

func (r *scriptedRunner) RunTurn(ctx context.Context, req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.run(req, cb)
}

func (r *scriptedRunner) lastRequest(t *testing.T) engine.TurnRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		t.Fatal("runner was never invoked")
	}
	return r.requests[len(r.requests)-1]
}

// recorder collects broadcast events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []domain.StreamEvent
}

func (r *recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var event domain.StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) snapshot() []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) has(typ domain.EventType) bool {
	for _, t := range r.types() {
		if t == typ {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, runner engine.Runner) *Service {
	t.Helper()
	cfg := &config.Config{
		Model:       "test-model",
		MaxTokens:   1024,
		ToolVersion: "computer_use_20250124",
	}
	st := helpers.NewTestSQLiteStore(t)
	return New(st, hub.New(), sandbox.NewManager(nil, 6080, 5901), runner, archive.Disabled(), cfg)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives a misbehaving async path time to (incorrectly) emit events
// before asserting their absence.
func settle() {
	time.Sleep(100 * time.Millisecond)
}

func assistantDone(rec *recorder) func() bool {
	return func() bool { return rec.has(domain.EventTypeAssistantDone) }
}

func TestTurnCompletionOrderingAndSingleCommit(t *testing.T) {
	runner := &scriptedRunner{
		run: func(req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
			cb.OnAssistantBlock(json.RawMessage(`{"type":"text","text":"working"}`))
			cb.OnAPITrace(engine.APITrace{
				Request:  engine.APIRequestInfo{Method: "POST", URL: "https://api.example.com/v1/messages"},
				Response: engine.APIResponseInfo{Status: 200, BodyPreview: "{}"},
			})
			cb.OnToolResult(engine.ToolResult{Output: "screenshot taken"}, "tu_1")
			updated := append(req.Messages, engine.Exchange{
				Role:    "assistant",
				Content: json.RawMessage(`[{"type":"text","text":"done"}]`),
			})
			return updated, nil
		},
	}
	svc := newTestService(t, runner)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "test", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	rec := &recorder{}
	svc.Subscribe(session.SessionID, rec)

	if _, err := svc.SubmitUserMessage(ctx, session.SessionID, "take a screenshot"); err != nil {
		t.Fatalf("SubmitUserMessage failed: %v", err)
	}

	waitFor(t, assistantDone(rec), "assistant_done")

	want := []domain.EventType{
		domain.EventTypeUserMessage,
		domain.EventTypeAssistantBlock,
		domain.EventTypeAPITrace,
		domain.EventTypeToolResult,
		domain.EventTypeAssistantMessage,
		domain.EventTypeAssistantDone,
	}
	assert.Equal(t, want, rec.types())

	events := rec.snapshot()
	assert.Equal(t, "tu_1", events[3].ToolUseID)

	// Exactly one assistant message committed, after the user message.
	messages, err := svc.GetMessages(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(messages))
	}
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.JSONEq(t, `[{"type":"text","text":"done"}]`, string(messages[1].ContentJSON))
}

// runnerFunc adapts a function to the engine.Runner interface.
type runnerFunc func(ctx context.Context, req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error)

func (f runnerFunc) RunTurn(ctx context.Context, req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
	return f(ctx, req, cb)
}

func TestTurnContextCarriesNoDeadline(t *testing.T) {
	var (
		mu          sync.Mutex
		invoked     bool
		hasDeadline bool
	)
	runner := runnerFunc(func(ctx context.Context, req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
		mu.Lock()
		invoked = true
		_, hasDeadline = ctx.Deadline()
		mu.Unlock()
		return append(req.Messages, engine.Exchange{
			Role:    "assistant",
			Content: json.RawMessage(`[{"type":"text","text":"ok"}]`),
		}), nil
	})
	svc := newTestService(t, runner)
	// A configured client timeout must not become a turn deadline; turns
	// run until the engine finishes.
	svc.config.TurnTimeout = 50 * time.Millisecond

	ctx := context.Background()
	session, err := svc.CreateSession(ctx, "", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	rec := &recorder{}
	svc.Subscribe(session.SessionID, rec)

	if _, err := svc.SubmitUserMessage(ctx, session.SessionID, "take your time"); err != nil {
		t.Fatalf("SubmitUserMessage failed: %v", err)
	}
	waitFor(t, assistantDone(rec), "turn completion")

	mu.Lock()
	defer mu.Unlock()
	if !invoked {
		t.Fatal("runner was never invoked")
	}
	if hasDeadline {
		t.Fatal("turn context must not carry a deadline")
	}
}

func TestTurnNoAssistantEntryIsTerminalNoOp(t *testing.T) {
	started := make(chan struct{})
	runner := &scriptedRunner{
		run: func(req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
			close(started)
			// History comes back without any assistant entry.
			return req.Messages, nil
		},
	}
	svc := newTestService(t, runner)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	rec := &recorder{}
	svc.Subscribe(session.SessionID, rec)

	if _, err := svc.SubmitUserMessage(ctx, session.SessionID, "hello"); err != nil {
		t.Fatalf("SubmitUserMessage failed: %v", err)
	}

	<-started
	settle()

	assert.False(t, rec.has(domain.EventTypeAssistantMessage))
	assert.False(t, rec.has(domain.EventTypeAssistantDone))

	messages, err := svc.GetMessages(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected only the user message, got %d messages", len(messages))
	}
}

func TestTurnEngineFailureCommitsNothing(t *testing.T) {
	started := make(chan struct{})
	runner := &scriptedRunner{
		run: func(req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
			cb.OnAssistantBlock(json.RawMessage(`{"type":"text","text":"partial"}`))
			close(started)
			return nil, errors.New("engine exploded")
		},
	}
	svc := newTestService(t, runner)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	rec := &recorder{}
	svc.Subscribe(session.SessionID, rec)

	if _, err := svc.SubmitUserMessage(ctx, session.SessionID, "hello"); err != nil {
		t.Fatalf("SubmitUserMessage failed: %v", err)
	}

	<-started
	settle()

	// Streamed callbacks before the failure are still delivered; no
	// completion events and no commit follow.
	assert.True(t, rec.has(domain.EventTypeAssistantBlock))
	assert.False(t, rec.has(domain.EventTypeAssistantMessage))
	assert.False(t, rec.has(domain.EventTypeAssistantDone))

	messages, err := svc.GetMessages(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected only the user message, got %d messages", len(messages))
	}
}

func TestTurnHistoryTransformation(t *testing.T) {
	runner := &scriptedRunner{
		run: func(req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
			return append(req.Messages, engine.Exchange{
				Role:    "assistant",
				Content: json.RawMessage(`[{"type":"text","text":"second"}]`),
			}), nil
		},
	}
	svc := newTestService(t, runner)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	rec := &recorder{}
	svc.Subscribe(session.SessionID, rec)

	// First turn: user "first" -> assistant structured content.
	if _, err := svc.SubmitUserMessage(ctx, session.SessionID, "first"); err != nil {
		t.Fatalf("SubmitUserMessage failed: %v", err)
	}
	waitFor(t, assistantDone(rec), "first assistant_done")

	// Second turn's request must carry the full transformed history.
	if _, err := svc.SubmitUserMessage(ctx, session.SessionID, "again"); err != nil {
		t.Fatalf("SubmitUserMessage failed: %v", err)
	}
	waitFor(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.requests) == 2
	}, "second runner invocation")

	req := runner.lastRequest(t)
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 exchanges, got %d", len(req.Messages))
	}
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.JSONEq(t, `[{"type":"text","text":"first"}]`, string(req.Messages[0].Content))
	assert.Equal(t, "assistant", req.Messages[1].Role)
	// Structured content preferred over plain text.
	assert.JSONEq(t, `[{"type":"text","text":"second"}]`, string(req.Messages[1].Content))
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.JSONEq(t, `[{"type":"text","text":"again"}]`, string(req.Messages[2].Content))

	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 1024, req.MaxTokens)
}

func TestSubmitUserMessageUnknownSession(t *testing.T) {
	runner := &scriptedRunner{
		run: func(req engine.TurnRequest, cb engine.Callbacks) ([]engine.Exchange, error) {
			t.Error("runner must not be invoked for unknown session")
			return nil, nil
		},
	}
	svc := newTestService(t, runner)

	_, err := svc.SubmitUserMessage(context.Background(), "missing", "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
