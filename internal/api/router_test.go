package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/prefetch"
	"github.com/kalambet/vidsum/internal/proxy"
	"github.com/kalambet/vidsum/internal/qa"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/storage"
	"github.com/kalambet/vidsum/internal/upstream"
)

const testVideo = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// fakeUpstream serves both the summarization service and the chat
// completions endpoint.
type fakeUpstream struct {
	failCompletion atomic.Bool
	completions    atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/summary/":
		fmt.Fprint(w, `{"message":"A video about X."}`)
	case "/question/":
		fmt.Fprint(w, `{"message":"<ol><li>What is X?</li></ol>"}`)
	case "/chat/completions":
		f.completions.Add(1)
		if f.failCompletion.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"overloaded"}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"X is a thing."}}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"not found"}`)
	}
}

type testEnv struct {
	handler  http.Handler
	upstream *fakeUpstream
	db       *storage.Store
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	fake := &fakeUpstream{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client, err := upstream.NewClient(srv.URL, 0)
	if err != nil {
		t.Fatalf("upstream.NewClient: %v", err)
	}
	provider, err := completion.New(completion.Config{
		Provider: completion.ProviderOpenRouter,
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
	if err != nil {
		t.Fatalf("completion.New: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{
		Forwarder:    proxy.NewForwarder(client, logger),
		Orchestrator: qa.New(upstream.NewGateway(client, provider, upstream.GatewayConfig{}), logger),
		Sessions:     session.NewRegistry(db, logger),
		Summaries:    db,
		Jobs:         db,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &testEnv{handler: NewHandler(deps), upstream: fake, db: db}
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env["error"]
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestProxy_Routes(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/proxy", "/api/proxy"} {
		rr := env.do(t, http.MethodGet, path+"?url=%2Fsummary%2F%3Fcode%3Dabc%26count%3D300", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rr.Code)
		}
		if got := rr.Body.String(); got != `{"message":"A video about X."}` {
			t.Errorf("%s: body = %s", path, got)
		}
	}
}

func TestProxy_MissingURL(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/proxy", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "URL parameter is required" {
		t.Errorf("error = %q", msg)
	}
}

func TestProxy_UpstreamStatusRelayed(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/proxy?url=%2Fmissing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "Failed to fetch data from API" {
		t.Errorf("error = %q", msg)
	}
}

func TestProxy_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.RateLimit = 0.001
		d.RateBurst = 1
	})
	first := env.do(t, http.MethodGet, "/proxy?url=%2Fsummary%2F", "")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := env.do(t, http.MethodGet, "/proxy?url=%2Fsummary%2F", "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestAsk_WithoutLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/session/ask", `{"question":"What is X?"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if env.upstream.completions.Load() != 0 {
		t.Error("completion endpoint was called without an active session")
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodPost, "/session/video", `{"url":"`+testVideo+`"}`); rr.Code != http.StatusOK {
		t.Fatalf("load status = %d: %s", rr.Code, rr.Body.String())
	}

	rr := env.do(t, http.MethodPost, "/session/ask", `{"question":"  "}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "question is required") {
		t.Errorf("body = %s", rr.Body.String())
	}
	if env.upstream.completions.Load() != 0 {
		t.Error("completion endpoint was called for an empty question")
	}
}

func TestLoadAskAndInspect(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/session/video", `{"url":"`+testVideo+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("load status = %d: %s", rr.Code, rr.Body.String())
	}
	var loaded loadVideoResponse
	if err := json.NewDecoder(rr.Body).Decode(&loaded); err != nil {
		t.Fatalf("decoding load response: %v", err)
	}
	if loaded.WatchURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("watch_url = %q", loaded.WatchURL)
	}
	if loaded.VideoID != "dQw4w9WgXcQ" || loaded.Summary != "A video about X." {
		t.Errorf("loaded = %+v", loaded)
	}

	rr = env.do(t, http.MethodPost, "/session/ask", `{"question":"What is X?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("ask status = %d: %s", rr.Code, rr.Body.String())
	}
	var turn session.Turn
	json.NewDecoder(rr.Body).Decode(&turn)
	if turn.Role != completion.RoleAssistant || turn.Content != "X is a thing." {
		t.Errorf("turn = %+v", turn)
	}

	rr = env.do(t, http.MethodGet, "/session", "")
	var view SessionView
	json.NewDecoder(rr.Body).Decode(&view)
	if !view.Ready || view.VideoRef != testVideo {
		t.Errorf("view = %+v", view)
	}
	if len(view.Turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(view.Turns))
	}
	if view.Turns[0].Role != completion.RoleSystem || view.Turns[1].Content != "What is X?" {
		t.Errorf("unexpected turns: %+v", view.Turns)
	}
}

func TestLoad_InvalidURL(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/session/video", `{"url":"https://vimeo.com/123"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestLoad_MalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/session/video", `{"url":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAsk_CompletionFailureThenRetry(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/session/video", `{"url":"`+testVideo+`"}`)

	env.upstream.failCompletion.Store(true)
	rr := env.do(t, http.MethodPost, "/session/ask", `{"question":"What is X?"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if msg := decodeError(t, rr); strings.Contains(msg, "overloaded") {
		t.Errorf("upstream body leaked: %q", msg)
	}

	env.upstream.failCompletion.Store(false)
	rr = env.do(t, http.MethodPost, "/session/ask", `{"question":"What is X?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/session", "")
	var view SessionView
	json.NewDecoder(rr.Body).Decode(&view)
	if len(view.Turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(view.Turns))
	}
	if !view.Turns[1].Failed {
		t.Error("first user turn should be marked failed")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/session/video", `{"url":"`+testVideo+`"}`, SessionHeader, "alpha")

	rr := env.do(t, http.MethodGet, "/session", "", SessionHeader, "beta")
	var view SessionView
	json.NewDecoder(rr.Body).Decode(&view)
	if view.Ready || view.Session != "beta" {
		t.Errorf("beta view = %+v", view)
	}

	rr = env.do(t, http.MethodGet, "/session", "", SessionHeader, "alpha")
	json.NewDecoder(rr.Body).Decode(&view)
	if !view.Ready {
		t.Error("alpha should be ready")
	}
}

func TestSession_InvalidID(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/session", "", SessionHeader, "bad id!")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestResetSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/session/video", `{"url":"`+testVideo+`"}`)

	rr := env.do(t, http.MethodDelete, "/session", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/session", "")
	var view SessionView
	json.NewDecoder(rr.Body).Decode(&view)
	if view.Ready || len(view.Turns) != 0 {
		t.Errorf("view after reset = %+v", view)
	}

	// Summary records survive a reset.
	if _, ok, _ := env.db.LookupSummary(context.Background(), testVideo); !ok {
		t.Error("summary record was removed by reset")
	}
}

func TestQuestions(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/questions?url="+testVideo, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["message"] != "<ol><li>What is X?</li></ol>" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestListSummaries(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/session/video", `{"url":"`+testVideo+`"}`)

	rr := env.do(t, http.MethodGet, "/summaries?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var records []storage.SummaryRecord
	json.NewDecoder(rr.Body).Decode(&records)
	if len(records) != 1 || records[0].VideoRef != testVideo {
		t.Errorf("records = %+v", records)
	}
}

func TestPrefetch(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/summaries/prefetch", `{"urls":["`+testVideo+`"]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp prefetchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Queued) != 1 {
		t.Fatalf("queued = %+v", resp.Queued)
	}
	job, err := env.db.GetJob(context.Background(), resp.Queued[0].JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != prefetch.JobType {
		t.Errorf("job type = %q", job.Type)
	}
}

func TestPrefetch_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodPost, "/summaries/prefetch", `{"urls":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty urls: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/summaries/prefetch", `{"urls":["not a url"]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid url: status = %d", rr.Code)
	}

	disabled := newTestEnv(t, func(d *Deps) { d.Jobs = nil })
	if rr := disabled.do(t, http.MethodPost, "/summaries/prefetch", `{"urls":["`+testVideo+`"]}`); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled: status = %d", rr.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Token = "s3cret" })

	if rr := env.do(t, http.MethodGet, "/session", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/session", "", "Authorization", "Bearer wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/session", "", "Authorization", "Bearer s3cret"); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
	// Health and proxy stay open.
	if rr := env.do(t, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("health: status = %d", rr.Code)
	}
}
