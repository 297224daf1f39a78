package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentwire/agentwire/internal/adapter/backendhttp"
	awhttp "github.com/agentwire/agentwire/internal/adapter/http"
	"github.com/agentwire/agentwire/internal/adapter/otel"
	"github.com/agentwire/agentwire/internal/adapter/ws"
	"github.com/agentwire/agentwire/internal/domain/chat"
	"github.com/agentwire/agentwire/internal/domain/run"
	"github.com/agentwire/agentwire/internal/port/broadcast"
	"github.com/agentwire/agentwire/internal/service"
)

// mapStore is an in-memory kv store for wiring the registry in tests.
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string][]byte)} }

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	return val, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// backendFake is an httptest stand-in for the agent backend API.
type backendFake struct {
	lock       sync.Mutex
	chatBodies []string
	contBodies []string
	chatCalls  int
	contCalls  int
	deleted    []string
}

func sseFrames(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}

func (f *backendFake) nextChat() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.chatCalls++
	if len(f.chatBodies) == 0 {
		return sseFrames("[DONE]")
	}
	body := f.chatBodies[0]
	f.chatBodies = f.chatBodies[1:]
	return body
}

func (f *backendFake) nextContinue() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.contCalls++
	if len(f.contBodies) == 0 {
		return sseFrames("[DONE]")
	}
	body := f.contBodies[0]
	f.contBodies = f.contBodies[1:]
	return body
}

func (f *backendFake) calls() (int, int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.chatCalls, f.contCalls
}

func (f *backendFake) deletedIDs() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *backendFake) handler() http.Handler {
	mux := http.NewServeMux()

	stream := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, _ *http.Request) {
		stream(w, f.nextChat())
	})
	mux.HandleFunc("POST /api/chat/continue", func(w http.ResponseWriter, _ *http.Request) {
		stream(w, f.nextContinue())
	})
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sessions":[{"session_id":"session_1","created_at":"2025-08-01T10:00:00Z","updated_at":"2025-08-01T10:05:00Z","summary":"first look","message_count":4}]}`)
	})
	mux.HandleFunc("GET /api/sessions/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"session not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"messages":[{"id":1,"role":"user","content":"hi"},{"id":2,"role":"assistant","timeline":[{"type":"text","content":"hello","agent":"CODER"}]}]}`)
	})
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.lock.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"agents":["ARCHITECT","CODER"]}`)
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy","timestamp":"2025-08-01T10:00:00Z"}`)
	})
	return mux
}

func startBackend(t *testing.T, fake *backendFake) string {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// newEngine wires the full stack behind an httptest server: real transport
// client, runner, registry, routes.
func newEngine(t *testing.T, backendURL string) (string, *service.Sessions) {
	t.Helper()

	client := backendhttp.NewClient(backendURL, 5*time.Second)
	metrics, err := otel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	sessions := service.NewSessions(newMapStore(), nil)
	runner := service.NewRunner(client, sessions, broadcast.Nop{}, metrics, "ARCHITECT")

	r := chi.NewRouter()
	r.Use(awhttp.RequestID)
	r.Use(awhttp.SecurityHeaders)
	h := &awhttp.Handlers{Runner: runner, Sessions: sessions, Backend: client}
	awhttp.MountRoutes(r, h, ws.NewHub())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL, sessions
}

type stateDTO struct {
	SessionID    string         `json:"session_id"`
	ProjectPath  string         `json:"project_path"`
	State        string         `json:"state"`
	Error        string         `json:"error"`
	ShadowRunID  string         `json:"shadow_run_id"`
	Pause        *run.PauseInfo `json:"pause"`
	StoredPause  *run.PauseInfo `json:"stored_pause"`
	Conversation []chat.Message `json:"conversation"`
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getState(t *testing.T, base, query string) stateDTO {
	t.Helper()
	resp, err := http.Get(base + "/api/v1/state" + query)
	if err != nil {
		t.Fatalf("GET state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET state status = %d", resp.StatusCode)
	}
	var s stateDTO
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return s
}

func waitEngineState(t *testing.T, base, want string) stateDTO {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last stateDTO
	for time.Now().Before(deadline) {
		last = getState(t, base, "")
		if last.State == want {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state %q not reached, last %q (error %q)", want, last.State, last.Error)
	return stateDTO{}
}

func TestChatStreamsToDone(t *testing.T) {
	fake := &backendFake{chatBodies: []string{sseFrames(
		`{"type":"content","content":"Running ","agent":"CODER"}`,
		`{"type":"content","content":"tests.","agent":"CODER"}`,
		`{"type":"tool_start","tool":"run_tests","agent":"CODER","args":{"cmd":"go test"}}`,
		`{"type":"tool_end","tool":"run_tests","agent":"CODER","result":"Exit Code: 0"}`,
		`[DONE]`,
	)}}
	base, _ := newEngine(t, startBackend(t, fake))

	resp := postJSON(t, base+"/api/v1/chat", `{"message":"run the tests","project_path":"/proj"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID on response")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	var ack struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.SessionID == "" || ack.State != "streaming" {
		t.Errorf("ack = %+v", ack)
	}

	snap := waitEngineState(t, base, "done")
	if len(snap.Conversation) != 2 {
		t.Fatalf("conversation = %d messages, want 2", len(snap.Conversation))
	}
	tl := snap.Conversation[1].Timeline
	if len(tl) != 2 {
		t.Fatalf("timeline = %+v, want 2 items", tl)
	}
	if tl[0].Kind != chat.ItemText || tl[0].Content != "Running tests." {
		t.Errorf("timeline[0] = %+v", tl[0])
	}
	if tl[1].Kind != chat.ItemTerminal || tl[1].Output != "Exit Code: 0" {
		t.Errorf("timeline[1] = %+v", tl[1])
	}
}

func TestChatValidation(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	for name, body := range map[string]string{
		"missing message": `{"project_path":"/proj"}`,
		"missing path":    `{"message":"hello"}`,
		"malformed json":  `{"message":`,
	} {
		resp := postJSON(t, base+"/api/v1/chat", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestPauseAndContinue(t *testing.T) {
	fake := &backendFake{
		chatBodies: []string{sseFrames(
			`{"type":"content","content":"Planning","agent":"CODER"}`,
			`{"type":"paused","run_id":"run-9","agent_name":"CODER","tool":"shell"}`,
		)},
		contBodies: []string{sseFrames(
			`{"type":"content","content":" approved.","agent":"CODER"}`,
			`[DONE]`,
		)},
	}
	base, _ := newEngine(t, startBackend(t, fake))

	resp := postJSON(t, base+"/api/v1/chat", `{"message":"plan it","project_path":"/proj"}`)
	resp.Body.Close()

	snap := waitEngineState(t, base, "paused")
	if snap.Pause == nil || snap.Pause.RunID != "run-9" || snap.Pause.Tool != "shell" {
		t.Fatalf("pause = %+v", snap.Pause)
	}

	// The stored mirror is exposed when asked for the project.
	withStored := getState(t, base, "?project_path=%2Fproj")
	if withStored.StoredPause == nil || withStored.StoredPause.RunID != "run-9" {
		t.Errorf("stored_pause = %+v", withStored.StoredPause)
	}

	resp = postJSON(t, base+"/api/v1/chat/continue", `{"decision":"approve","feedback":"go ahead"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("continue status = %d", resp.StatusCode)
	}

	snap = waitEngineState(t, base, "done")
	if len(snap.Conversation) != 2 {
		t.Fatalf("conversation = %d messages", len(snap.Conversation))
	}
	asst := snap.Conversation[1]
	if asst.ID != 2 {
		t.Errorf("resumed into message %d, want 2", asst.ID)
	}
	if len(asst.Timeline) != 1 || asst.Timeline[0].Content != "Planning approved." {
		t.Errorf("timeline = %+v", asst.Timeline)
	}
}

func TestContinueInvalidDecision(t *testing.T) {
	fake := &backendFake{chatBodies: []string{sseFrames(
		`{"type":"paused","run_id":"run-1","agent_name":"CODER","tool":"shell"}`,
	)}}
	base, _ := newEngine(t, startBackend(t, fake))

	resp := postJSON(t, base+"/api/v1/chat", `{"message":"go","project_path":"/proj"}`)
	resp.Body.Close()
	waitEngineState(t, base, "paused")

	resp = postJSON(t, base+"/api/v1/chat/continue", `{"decision":"maybe"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if _, conts := fake.calls(); conts != 0 {
		t.Errorf("backend continue called %d times", conts)
	}
}

func TestContinueWithoutPause(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	resp := postJSON(t, base+"/api/v1/chat/continue", `{"decision":"approve"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelIsAlwaysAccepted(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	req, _ := http.NewRequest(http.MethodPost, base+"/api/v1/chat/cancel", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := getState(t, base, "").State; got != "idle" {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestListSessionsPassThrough(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	resp, err := http.Get(base + "/api/v1/sessions?project_path=%2Fproj")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var sessions []struct {
		SessionID    string `json:"session_id"`
		MessageCount int    `json:"message_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "session_1" || sessions[0].MessageCount != 4 {
		t.Errorf("sessions = %+v", sessions)
	}

	resp, err = http.Get(base + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("GET sessions without path: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing project_path: status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionHistoryPassThrough(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	resp, err := http.Get(base + "/api/v1/sessions/session_1/history?project_path=%2Fproj")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var messages []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(messages) != 2 || messages[1].Timeline[0].Content != "hello" {
		t.Errorf("messages = %+v", messages)
	}

	resp, err = http.Get(base + "/api/v1/sessions/missing/history?project_path=%2Fproj")
	if err != nil {
		t.Fatalf("GET missing history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session: status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteSessionClearsBinding(t *testing.T) {
	fake := &backendFake{}
	base, sessions := newEngine(t, startBackend(t, fake))
	ctx := context.Background()

	if err := sessions.Save(ctx, "/proj", "sess-del"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/v1/sessions/sess-del?project_path=%2Fproj", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	if ids := fake.deletedIDs(); len(ids) != 1 || ids[0] != "sess-del" {
		t.Errorf("backend deletions = %v", ids)
	}
	if _, ok, _ := sessions.Lookup(ctx, "/proj"); ok {
		t.Error("binding survived delete")
	}
}

func TestDeleteSessionKeepsUnrelatedBinding(t *testing.T) {
	base, sessions := newEngine(t, startBackend(t, &backendFake{}))
	ctx := context.Background()

	if err := sessions.Save(ctx, "/proj", "sess-keep"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/v1/sessions/sess-other?project_path=%2Fproj", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()

	if got, ok, _ := sessions.Lookup(ctx, "/proj"); !ok || got != "sess-keep" {
		t.Errorf("binding = %q ok=%v, want sess-keep kept", got, ok)
	}
}

func TestAgentsPassThrough(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	resp, err := http.Get(base + "/api/v1/agents")
	if err != nil {
		t.Fatalf("GET agents: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Agents []string `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Agents) != 2 || body.Agents[0] != "ARCHITECT" {
		t.Errorf("agents = %v", body.Agents)
	}
}

func TestHealthReportsBackend(t *testing.T) {
	base, _ := newEngine(t, startBackend(t, &backendFake{}))

	resp, err := http.Get(base + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status  string `json:"status"`
		Backend *struct {
			Status string `json:"status"`
		} `json:"backend"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Backend == nil || body.Backend.Status != "healthy" {
		t.Errorf("health = %+v", body)
	}
}

func TestHealthDegradedWhenBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()
	base, _ := newEngine(t, deadURL)

	resp, err := http.Get(base + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, engine itself must stay up", resp.StatusCode)
	}
	var body struct {
		Status       string `json:"status"`
		BackendError string `json:"backend_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.BackendError == "" {
		t.Errorf("health = %+v", body)
	}
}

func TestChatTransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()
	base, _ := newEngine(t, deadURL)

	resp := postJSON(t, base+"/api/v1/chat", `{"message":"go","project_path":"/proj"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}

	snap := getState(t, base, "")
	if snap.State != "error" || snap.Error == "" {
		t.Errorf("state after transport failure = %+v", snap)
	}
}
