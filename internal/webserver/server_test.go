package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/agusx1211/grotto/internal/daemon"
	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/registry"
	"github.com/agusx1211/grotto/internal/session"
	"github.com/agusx1211/grotto/internal/state"
)

type testEnv struct {
	srv    *Server
	daemon *daemon.Daemon
	fake   *pane.Fake
}

func newTestServer(t *testing.T, opts ...Options) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	fake := pane.NewFake()
	d := daemon.New(daemon.Options{
		Store:        registry.NewStore(filepath.Join(t.TempDir(), "sessions.json")),
		Backend:      fake,
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(d.Close)

	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	return &testEnv{srv: New(d, o), daemon: d, fake: fake}
}

// newProject creates a session directory whose panes are addressed by id.
func (env *testEnv) newProject(t *testing.T, id string, agents int) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := state.Create(dir, agents, "ship the feature", id); err != nil {
		t.Fatalf("state.Create: %v", err)
	}
	for i := 0; i < agents; i++ {
		env.fake.Set(pane.Target(id, i), "claude>")
	}
	return dir
}

func (env *testEnv) register(t *testing.T, id string, agents int) string {
	t.Helper()
	dir := env.newProject(t, id, agents)
	if _, err := env.daemon.Register(id, dir); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return dir
}

func performRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func performJSONRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := performRequest(t, env.srv, http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestServer(t)
	dir := env.newProject(t, "amber-fox-reef", 2)

	body, _ := json.Marshal(registerRequest{ID: "amber-fox-reef", Dir: dir})
	rec := performJSONRequest(t, env.srv, http.MethodPost, "/api/sessions", string(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	got := decodeResponse[sessionStatusResponse](t, rec)
	if got.ID != "amber-fox-reef" || got.Status != "registered" {
		t.Fatalf("response = %+v", got)
	}
	if env.daemon.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", env.daemon.Count())
	}
}

func TestRegisterEndpointErrors(t *testing.T) {
	env := newTestServer(t)
	empty := t.TempDir()

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "invalid json", body: "{", wantErr: "invalid request body"},
		{name: "missing dir", body: `{"id":"x"}`, wantErr: "id and dir are required"},
		{name: "missing id", body: `{"dir":"/tmp"}`, wantErr: "id and dir are required"},
		{name: "no state dir", body: `{"id":"x","dir":` + jsonString(empty) + `}`, wantErr: "No .grotto directory found at specified path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := performJSONRequest(t, env.srv, http.MethodPost, "/api/sessions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			got := decodeResponse[errorResponse](t, rec)
			if got.Error != tt.wantErr {
				t.Fatalf("error = %q, want %q", got.Error, tt.wantErr)
			}
		})
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestListEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.register(t, "one", 2)

	rec := performRequest(t, env.srv, http.MethodGet, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q", ct)
	}
	got := decodeResponse[[]daemon.SessionSummary](t, rec)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != "one" || got[0].AgentCount != 2 || got[0].Status != session.StatusLive {
		t.Fatalf("summary = %+v", got[0])
	}
	if got[0].LastUpdated == nil {
		t.Fatal("last_updated missing although team_spawned was logged")
	}
}

func TestListEndpointEmptyIsArray(t *testing.T) {
	env := newTestServer(t)
	rec := performRequest(t, env.srv, http.MethodGet, "/api/sessions")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rec.Body.String())
	}
}

func TestUnregisterEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.register(t, "gone", 1)

	rec := performRequest(t, env.srv, http.MethodDelete, "/api/sessions/gone")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeResponse[sessionStatusResponse](t, rec)
	if got.ID != "gone" || got.Status != "unregistered" {
		t.Fatalf("response = %+v", got)
	}

	rec = performRequest(t, env.srv, http.MethodDelete, "/api/sessions/gone")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if e := decodeResponse[errorResponse](t, rec); e.Error != "Session 'gone' not found" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestServer(t)
	dir := env.register(t, "evt", 1)

	err := state.AppendEvent(state.Dir(dir), state.Event{EventType: "task_claimed", AgentID: "agent-1", TaskID: "main"})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(state.Dir(dir), state.EventsFile), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	rec := performRequest(t, env.srv, http.MethodGet, "/api/sessions/evt/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeResponse[[]map[string]any](t, rec)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (team_spawned + task_claimed)", len(got))
	}
	if got[1]["event_type"] != "task_claimed" {
		t.Fatalf("second event = %v", got[1])
	}

	rec = performRequest(t, env.srv, http.MethodGet, "/api/sessions/nope/events")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.register(t, "snap", 2)

	rec := performRequest(t, env.srv, http.MethodGet, "/api/sessions/snap/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	msg, err := session.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != session.MsgSnapshot || len(msg.Agents) != 2 || msg.SessionStatus != session.StatusLive {
		t.Fatalf("snapshot = %+v", msg)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	performRequest(t, env.srv, http.MethodGet, "/health")

	rec := performRequest(t, env.srv, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "grotto_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)
	rec := performRequest(t, env.srv, http.MethodOptions, "/api/sessions")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin = %q, want *", got)
	}
}

func TestStartEphemeralPort(t *testing.T) {
	env := newTestServer(t, Options{Port: 0})
	if err := env.srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.srv.Shutdown(context.Background())

	if env.srv.Port() == 0 {
		t.Fatal("port still 0 after Start")
	}
	resp, err := http.Get(env.srv.URL() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStartRejectsUnknownTLSMode(t *testing.T) {
	env := newTestServer(t, Options{Port: 0, TLSMode: "bogus"})
	if err := env.srv.Start(); err == nil || !strings.Contains(err.Error(), "unsupported TLS mode") {
		t.Fatalf("Start() error = %v, want unsupported TLS mode", err)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readMessage(t *testing.T, ctx context.Context, ws *websocket.Conn) *session.WireMessage {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("ws.Read: %v", err)
	}
	msg, err := session.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return msg
}

func readUntil(t *testing.T, ctx context.Context, ws *websocket.Conn, msgType string) *session.WireMessage {
	t.Helper()
	for {
		msg := readMessage(t, ctx, ws)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketSnapshotFirst(t *testing.T) {
	env := newTestServer(t)
	env.register(t, "trio", 3)
	ts := httptest.NewServer(env.srv.httpServer.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/trio"), nil)
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "test finished")

	msg := readMessage(t, ctx, ws)
	if msg.Type != session.MsgSnapshot {
		t.Fatalf("first message type = %q, want snapshot", msg.Type)
	}
	if len(msg.Agents) != 3 {
		t.Fatalf("snapshot agents = %d, want 3", len(msg.Agents))
	}
	if msg.SessionActive == nil || !*msg.SessionActive {
		t.Fatalf("session_active = %v, want true", msg.SessionActive)
	}
	if msg.Config == nil || msg.Config.AgentCount != 3 {
		t.Fatalf("config = %+v", msg.Config)
	}
}

func TestWebSocketFanOut(t *testing.T) {
	env := newTestServer(t)
	dir := env.register(t, "fan", 1)
	ts := httptest.NewServer(env.srv.httpServer.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		ws, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/fan"), nil)
		if err != nil {
			t.Fatalf("websocket.Dial %d: %v", i, err)
		}
		defer ws.Close(websocket.StatusNormalClosure, "test finished")
		if msg := readMessage(t, ctx, ws); msg.Type != session.MsgSnapshot {
			t.Fatalf("client %d first message = %q", i, msg.Type)
		}
		conns = append(conns, ws)
	}

	err := state.AppendEvent(state.Dir(dir), state.Event{
		EventType: "task_completed",
		AgentID:   "agent-1",
		TaskID:    "main",
		Message:   "done",
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	for i, ws := range conns {
		msg := readUntil(t, ctx, ws, session.MsgEventRaw)
		if msg.AgentID != "agent-1" || msg.TaskID != "main" || msg.Message != "done" {
			t.Fatalf("client %d event:raw = %+v", i, msg)
		}
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	env := newTestServer(t)
	rec := performRequest(t, env.srv, http.MethodGet, "/ws/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "Session 'missing' not found") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestWebSocketNotFoundAfterUnregister(t *testing.T) {
	env := newTestServer(t)
	env.register(t, "brief", 1)
	ts := httptest.NewServer(env.srv.httpServer.Handler)
	defer ts.Close()

	if err := env.daemon.Unregister("brief"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(ts, "/ws/brief"), nil)
	if err == nil {
		t.Fatal("Dial succeeded for unregistered session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v, want 404", resp)
	}
}

func TestWebSocketClosedOnUnregister(t *testing.T) {
	env := newTestServer(t)
	env.register(t, "drop", 1)
	ts := httptest.NewServer(env.srv.httpServer.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/drop"), nil)
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	defer ws.CloseNow()
	readMessage(t, ctx, ws)

	if err := env.daemon.Unregister("drop"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	for {
		_, _, err := ws.Read(ctx)
		if err == nil {
			continue
		}
		if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
			t.Fatalf("close status = %v (err=%v), want normal closure", status, err)
		}
		return
	}
}
