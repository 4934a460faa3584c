package qa

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kalambet/vidsum/internal/apperr"
	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/storage"
	"github.com/kalambet/vidsum/internal/video"
)

// --- Mock gateway ---

type fakeGateway struct {
	mu         sync.Mutex
	summary    string
	summaryErr error
	questions  string
	replyErr   error
	reply      func(msgs []completion.Message) string

	summaryCalls int
	sent         [][]completion.Message
}

func (g *fakeGateway) FetchSummary(_ context.Context, ref video.Reference) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaryCalls++
	return g.summary, g.summaryErr
}

func (g *fakeGateway) FetchQuestions(_ context.Context, ref video.Reference) (string, error) {
	return g.questions, nil
}

func (g *fakeGateway) CompleteConversation(_ context.Context, msgs []completion.Message) (completion.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msgs)
	if g.replyErr != nil {
		return completion.Message{}, g.replyErr
	}
	content := "X is..."
	if g.reply != nil {
		content = g.reply(msgs)
	}
	return completion.Message{Role: completion.RoleAssistant, Content: content}, nil
}

func newTestSession(t *testing.T) *session.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return session.NewStore("default", db)
}

func newTestOrchestrator(gw Gateway) *Orchestrator {
	return New(gw, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadThenAsk(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{summary: "A video about X."}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)

	loaded, err := o.Load(ctx, store, "https://youtu.be/abc12345678")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Ref.ID != "abc12345678" || loaded.Summary != "A video about X." {
		t.Errorf("Loaded = %+v", loaded)
	}

	turn, err := o.Ask(ctx, store, "What is X?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if turn.Role != completion.RoleAssistant || turn.Content != "X is..." {
		t.Errorf("turn = %+v", turn)
	}

	if len(gw.sent) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(gw.sent))
	}
	sent := gw.sent[0]
	last := sent[len(sent)-1]
	if last.Role != completion.RoleSystem || last.Content != "Video Summary: A video about X.\n\nUser Question: What is X?" {
		t.Errorf("context message = %+v", last)
	}
	if sent[0].Role != completion.RoleSystem {
		t.Errorf("first message role = %q, want system", sent[0].Role)
	}

	turns := store.Turns()
	want := []struct{ role, content string }{
		{"system", "Video Summary: A video about X.\n\nPlease answer questions based on this summary."},
		{"user", "What is X?"},
		{"assistant", "X is..."},
	}
	if len(turns) != len(want) {
		t.Fatalf("turns = %+v", turns)
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Content != w.content {
			t.Errorf("turn %d = %s/%q, want %s/%q", i, turns[i].Role, turns[i].Content, w.role, w.content)
		}
	}
}

func TestAsk_NoActiveSession(t *testing.T) {
	gw := &fakeGateway{}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)

	_, err := o.Ask(context.Background(), store, "What is X?")
	if !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Fatalf("error = %v, want ErrNoActiveSession", err)
	}
	if len(store.Turns()) != 0 {
		t.Errorf("turns mutated: %+v", store.Turns())
	}
	if len(gw.sent) != 0 {
		t.Error("completion should not be called")
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(&fakeGateway{summary: "s"})
	store := newTestSession(t)
	o.Load(ctx, store, "https://youtu.be/abc12345678")

	if _, err := o.Ask(ctx, store, "   "); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Fatalf("error = %v, want ErrNoActiveSession", err)
	}
	if len(store.Turns()) != 1 {
		t.Errorf("turns = %d, want 1", len(store.Turns()))
	}

	// Without a loaded video the empty question fails the same way.
	fresh := newTestSession(t)
	if _, err := o.Ask(ctx, fresh, ""); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Fatalf("error = %v, want ErrNoActiveSession", err)
	}
}

func TestAsk_ContextTurnIsSystem(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{summary: "A video about X."}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)
	if _, err := o.Load(ctx, store, "https://youtu.be/abc12345678"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Ask(ctx, store, "What is X?"); err != nil {
		t.Fatal(err)
	}

	sent := gw.sent[0]
	last := sent[len(sent)-1]
	if last.Role != completion.RoleSystem {
		t.Errorf("context turn role = %q, want system", last.Role)
	}
	if sent[len(sent)-2].Role != completion.RoleUser || sent[len(sent)-2].Content != "What is X?" {
		t.Errorf("question turn = %+v", sent[len(sent)-2])
	}
	for _, turn := range store.Turns() {
		if turn.Content == last.Content {
			t.Error("context turn was persisted")
		}
	}
}

func TestAsk_ReplyStoreFailureMarksTurn(t *testing.T) {
	gw := &fakeGateway{summary: "A video about X."}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)
	if _, err := o.Load(context.Background(), store, "https://youtu.be/abc12345678"); err != nil {
		t.Fatal(err)
	}

	// The caller goes away after the reply arrives but before it is stored.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.reply = func([]completion.Message) string {
		cancel()
		return "too late"
	}

	_, err := o.Ask(ctx, store, "still there?")
	if !errors.Is(err, ErrRetryable) {
		t.Fatalf("error = %v, want ErrRetryable", err)
	}

	turns := store.Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %+v, want seed + user", turns)
	}
	if !turns[1].Failed || turns[1].Content != "still there?" {
		t.Errorf("user turn = %+v, want it marked failed", turns[1])
	}
	if got := store.Conversation(); len(got) != 1 {
		t.Errorf("conversation = %+v, want only the seed turn", got)
	}
}

func TestLoad_InvalidURLLeavesState(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{summary: "first"}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)
	o.Load(ctx, store, "https://youtu.be/abc12345678")

	_, err := o.Load(ctx, store, "https://vimeo.com/1234")
	if !errors.Is(err, video.ErrInvalidURL) {
		t.Fatalf("error = %v, want ErrInvalidURL", err)
	}
	if gw.summaryCalls != 1 {
		t.Errorf("summary fetched %d times, want 1", gw.summaryCalls)
	}
	ref, summary, ok := store.Active()
	if !ok || ref.ID != "abc12345678" || summary != "first" {
		t.Errorf("Active() = %v, %q, %v", ref, summary, ok)
	}
}

func TestLoad_FetchFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{summary: "first"}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)
	o.Load(ctx, store, "https://youtu.be/abc12345678")

	gw.summaryErr = &apperr.StatusError{Status: 500}
	if _, err := o.Load(ctx, store, "https://youtu.be/zzz12345678"); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}
	if ref, _, _ := store.Active(); ref.ID != "abc12345678" {
		t.Errorf("active ref changed to %v", ref)
	}
}

func TestAsk_FailureMarksTurn(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{summary: "A video about X."}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)
	o.Load(ctx, store, "https://youtu.be/abc12345678")

	gw.replyErr = apperr.ErrUpstreamTimeout
	_, err := o.Ask(ctx, store, "lost?")
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("error = %v, want ErrRetryable", err)
	}
	if !errors.Is(err, apperr.ErrUpstreamTimeout) {
		t.Errorf("error = %v, want ErrUpstreamTimeout", err)
	}

	turns := store.Turns()
	if len(turns) != 2 || !turns[1].Failed || turns[1].Content != "lost?" {
		t.Fatalf("turns = %+v", turns)
	}

	gw.replyErr = nil
	if _, err := o.Ask(ctx, store, "What is X?"); err != nil {
		t.Fatal(err)
	}
	for _, m := range gw.sent[len(gw.sent)-1] {
		if m.Content == "lost?" {
			t.Error("failed turn was sent to the completion provider")
		}
	}
	if got := len(store.Turns()); got != 4 {
		t.Errorf("turns = %d, want 4", got)
	}
}

func TestAsk_SerializedPerSession(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		summary: "s",
		reply: func(msgs []completion.Message) string {
			return "re: " + msgs[len(msgs)-2].Content
		},
	}
	o := newTestOrchestrator(gw)
	store := newTestSession(t)
	o.Load(ctx, store, "https://youtu.be/abc12345678")

	var wg sync.WaitGroup
	for _, q := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Ask(ctx, store, q); err != nil {
				t.Errorf("Ask(%s): %v", q, err)
			}
		}()
	}
	wg.Wait()

	turns := store.Turns()
	if len(turns) != 9 {
		t.Fatalf("turns = %d, want 9", len(turns))
	}
	for i := 1; i < len(turns); i += 2 {
		user, asst := turns[i], turns[i+1]
		if user.Role != completion.RoleUser || asst.Role != completion.RoleAssistant {
			t.Fatalf("turns %d/%d roles = %s/%s", i, i+1, user.Role, asst.Role)
		}
		if asst.Content != "re: "+user.Content {
			t.Errorf("reply %q does not follow question %q", asst.Content, user.Content)
		}
	}
}

func TestQuestions(t *testing.T) {
	o := newTestOrchestrator(&fakeGateway{questions: "<ol><li>Q</li></ol>"})
	got, err := o.Questions(context.Background(), "https://youtu.be/abc12345678")
	if err != nil {
		t.Fatal(err)
	}
	if got != "<ol><li>Q</li></ol>" {
		t.Errorf("questions = %q", got)
	}
	if _, err := o.Questions(context.Background(), "nope"); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("error = %v, want ErrBadRequest", err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(&fakeGateway{summary: "s"})
	store := newTestSession(t)
	o.Load(ctx, store, "https://youtu.be/abc12345678")

	if err := o.Reset(ctx, store); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := store.Active(); ok {
		t.Error("session still active")
	}
	if _, err := o.Ask(ctx, store, "q"); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Errorf("error = %v, want ErrNoActiveSession", err)
	}
}
