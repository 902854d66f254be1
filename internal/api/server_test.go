package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/transponder/internal/audio"
	"github.com/nerrad567/transponder/internal/audit"
	"github.com/nerrad567/transponder/internal/auth"
	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/database"
	"github.com/nerrad567/transponder/internal/infrastructure/logging"
	"github.com/nerrad567/transponder/internal/mailbox"
	"github.com/nerrad567/transponder/internal/messages"
	"github.com/nerrad567/transponder/internal/process"
	_ "github.com/nerrad567/transponder/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeUploads struct {
	mu       sync.Mutex
	failed   []mailbox.FailedUpload
	retryErr error
	retried  []string
}

func (f *fakeUploads) Failed() []mailbox.FailedUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailbox.FailedUpload(nil), f.failed...)
}

func (f *fakeUploads) Retry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range f.failed {
		if u.Recording.ID != id {
			continue
		}
		f.retried = append(f.retried, id)
		if f.retryErr != nil {
			return f.retryErr
		}
		f.failed = append(f.failed[:i], f.failed[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %s", mailbox.ErrUploadNotFound, id)
}

type fakeVersion struct{ running, latest string }

func (v fakeVersion) Running() string { return v.running }
func (v fakeVersion) Latest() string  { return v.latest }

type fakeCapture struct{}

func (fakeCapture) Stats() process.Stats {
	return process.Stats{Name: "capture", Status: process.StatusRunning, PID: 42}
}

type failingDB struct{}

func (failingDB) HealthCheck(context.Context) error { return errors.New("disk gone") }

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	repo    *messages.SQLiteRepository
	uploads *fakeUploads
	audit   *audit.Recorder
}

// newTestEnv builds a server over a real message repository and serves
// its router without binding the configured port.
func newTestEnv(t *testing.T, modify func(*Deps)) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	repo := messages.NewSQLiteRepository(db, audio.EncodingRaw)
	uploads := &fakeUploads{}
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db))

	deps := Deps{
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger: logging.Discard(),
		Host:   "hall",
		Stations: StationsFunc(func() []mailbox.Info {
			return []mailbox.Info{
				{ID: "kitchen", LightIndex: 1, ButtonPin: 17, State: mailbox.StateIdle, Unread: 2, Running: true},
				{ID: "attic", LightIndex: 0, ButtonPin: 4, State: mailbox.StateRecording, Running: true},
			}
		}),
		Messages: repo,
		Uploads:  uploads,
		Version:  fakeVersion{running: "v1.0.0", latest: "v1.1.0"},
		Capture:  fakeCapture{},
		Database: db,
		Audit:    recorder,
	}
	if modify != nil {
		modify(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	hubCtx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(hubCtx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	return &testEnv{srv: srv, http: ts, repo: repo, uploads: uploads, audit: recorder}
}

func mintToken(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateToken("tester", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without stations should fail")
	}
}

func TestStart_ReportsBusyPort(t *testing.T) {
	// A shared hub keeps Start from running a second one.
	env := newTestEnv(t, func(d *Deps) {
		d.Config.Host = "127.0.0.1"
		d.Hub = NewHub(d.WS, d.Logger)
	})
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { env.srv.Close() })

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health on started server: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	_, port, err := net.SplitHostPort(env.srv.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort(%q): %v", env.srv.Addr(), err)
	}
	busy := newTestEnv(t, func(d *Deps) {
		d.Config.Host = "127.0.0.1"
		d.Config.Port, _ = strconv.Atoi(port) //nolint:errcheck // From a bound address
		d.Hub = NewHub(d.WS, d.Logger)
	})
	if err := busy.srv.Start(context.Background()); err == nil {
		busy.srv.Close()
		t.Fatal("Start() on a bound port should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	if body.Status != "ok" || body.Checks["database"] != "ok" || body.Version != "v1.0.0" {
		t.Errorf("health = %+v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Database = failingDB{} })

	resp := env.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	wrongKey, err := auth.GenerateToken("x", auth.RoleOperator, "some-other-secret-of-enough-length", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"viewer", "Bearer " + mintToken(t, auth.RoleViewer), http.StatusOK},
		{"lowercase scheme", "bearer " + mintToken(t, auth.RoleViewer), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/stations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestListStations(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/stations", mintToken(t, auth.RoleViewer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Stations []mailbox.Info `json:"stations"`
		Count    int            `json:"count"`
	}
	decode(t, resp, &body)
	if body.Count != 2 || body.Stations[0].ID != "attic" || body.Stations[1].ID != "kitchen" {
		t.Fatalf("stations = %+v, want attic then kitchen", body.Stations)
	}
	if body.Stations[0].State != mailbox.StateRecording || body.Stations[1].Unread != 2 {
		t.Errorf("stations = %+v", body.Stations)
	}
}

func TestGetStation(t *testing.T) {
	env := newTestEnv(t, nil)
	token := mintToken(t, auth.RoleViewer)

	resp := env.do(t, http.MethodGet, "/api/v1/stations/kitchen", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var info mailbox.Info
	decode(t, resp, &info)
	if info.ButtonPin != 17 || info.LightIndex != 1 {
		t.Errorf("info = %+v", info)
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/stations/porch", token); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown station status = %d, want 404", resp.StatusCode)
	}
}

func TestStationHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	token := mintToken(t, auth.RoleViewer)
	ctx := context.Background()

	clip := messages.Clip{Host: "hall", Format: audio.Mono16(22050), PCM: []byte{1, 0, 2, 0}}
	for i := 0; i < 3; i++ {
		if _, err := env.repo.Deliver(ctx, clip, []string{"kitchen"}); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/v1/stations/kitchen/messages?limit=2", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		MailboxID string             `json:"mailbox_id"`
		Messages  []messages.Message `json:"messages"`
		Count     int                `json:"count"`
	}
	decode(t, resp, &body)
	if body.MailboxID != "kitchen" || body.Count != 2 {
		t.Fatalf("history = %+v, want 2 kitchen messages", body)
	}
	if body.Messages[0].Seq < body.Messages[1].Seq {
		t.Error("history should be newest first")
	}

	// A mailbox with no messages lists empty, not null.
	resp = env.do(t, http.MethodGet, "/api/v1/stations/porch/messages", token)
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(raw, []byte(`"messages":[]`)) {
		t.Errorf("empty history body = %s", raw)
	}

	for _, q := range []string{"abc", "0", "501"} {
		resp := env.do(t, http.MethodGet, "/api/v1/stations/kitchen/messages?limit="+q, token)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestMessageAudio(t *testing.T) {
	env := newTestEnv(t, nil)
	token := mintToken(t, auth.RoleViewer)
	ctx := context.Background()

	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	msgs, err := env.repo.Deliver(ctx, messages.Clip{Host: "hall", Format: audio.Mono16(22050), PCM: pcm}, []string{"kitchen"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	id := msgs[0].ID

	resp := env.do(t, http.MethodGet, "/api/v1/messages/"+id+"/audio", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	wav, _ := io.ReadAll(resp.Body)
	if len(wav) != 44+len(pcm) || string(wav[:4]) != "RIFF" || !bytes.Equal(wav[44:], pcm) {
		t.Errorf("wav = %v", wav)
	}

	// Downloading does not consume the message.
	unread, err := env.repo.Unread(ctx, "kitchen")
	if err != nil || len(unread) != 1 {
		t.Errorf("Unread() = %v, %v; want the message still unread", unread, err)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/messages/"+id, token)
	var msg messages.Message
	decode(t, resp, &msg)
	if msg.ID != id || msg.MailboxID != "kitchen" {
		t.Errorf("message = %+v", msg)
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/messages/missing/audio", token); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing audio status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/messages/missing", token); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing message status = %d, want 404", resp.StatusCode)
	}
}

func TestFailedUploads(t *testing.T) {
	env := newTestEnv(t, nil)
	env.uploads.failed = []mailbox.FailedUpload{{
		Recording: mailbox.Recording{ID: "rec-1", Initiator: "kitchen", Recipients: []string{"attic"}},
		Bytes:     4096,
		Attempts:  3,
		LastError: "database is locked",
		FailedAt:  time.Now(),
	}}
	viewer := mintToken(t, auth.RoleViewer)
	operator := mintToken(t, auth.RoleOperator)

	resp := env.do(t, http.MethodGet, "/api/v1/uploads/failed", viewer)
	var body struct {
		Uploads []mailbox.FailedUpload `json:"uploads"`
		Count   int                    `json:"count"`
	}
	decode(t, resp, &body)
	if body.Count != 1 || body.Uploads[0].Recording.ID != "rec-1" || body.Uploads[0].LastError != "database is locked" {
		t.Fatalf("failed uploads = %+v", body)
	}

	if resp := env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-1/retry", viewer); resp.StatusCode != http.StatusForbidden {
		t.Errorf("viewer retry status = %d, want 403", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-9/retry", operator); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown retry status = %d, want 404", resp.StatusCode)
	}

	env.uploads.retryErr = errors.New("still locked")
	if resp := env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-1/retry", operator); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("failing retry status = %d, want 503", resp.StatusCode)
	}

	env.uploads.retryErr = nil
	if resp := env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-1/retry", operator); resp.StatusCode != http.StatusOK {
		t.Errorf("retry status = %d, want 200", resp.StatusCode)
	}
	if len(env.uploads.Failed()) != 0 {
		t.Error("delivered upload still listed as failed")
	}
	if got := strings.Join(env.uploads.retried, ","); got != "rec-1,rec-1" {
		t.Errorf("retried = %q", got)
	}
}

func TestAuditLog(t *testing.T) {
	env := newTestEnv(t, nil)
	env.uploads.failed = []mailbox.FailedUpload{{Recording: mailbox.Recording{ID: "rec-1"}}}
	operator := mintToken(t, auth.RoleOperator)

	env.uploads.retryErr = errors.New("still locked")
	env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-1/retry", operator)
	env.uploads.retryErr = nil
	env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-1/retry", operator)
	// Unknown ids are not recorded.
	env.do(t, http.MethodPost, "/api/v1/uploads/failed/rec-9/retry", operator)
	env.audit.VersionChanged("v1.0.0", "v1.1.0")

	if resp := env.do(t, http.MethodGet, "/api/v1/audit", mintToken(t, auth.RoleViewer)); resp.StatusCode != http.StatusForbidden {
		t.Errorf("viewer status = %d, want 403", resp.StatusCode)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/audit?action=upload.retried", operator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var page audit.ListResult
	decode(t, resp, &page)
	if page.Total != 2 || len(page.Entries) != 2 {
		t.Fatalf("audit page = %+v, want 2 retries", page)
	}
	latest := page.Entries[0]
	if latest.Subject != "tester" || latest.Details["delivered"] != true || latest.Details["recording_id"] != "rec-1" {
		t.Errorf("latest retry = %+v", latest)
	}
	if page.Entries[1].Details["error"] != "still locked" {
		t.Errorf("first retry = %+v", page.Entries[1])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/audit?limit=1&offset=1", operator)
	decode(t, resp, &page)
	if page.Total != 3 || len(page.Entries) != 1 || page.Limit != 1 || page.Offset != 1 {
		t.Errorf("paged audit = %+v", page)
	}

	for _, q := range []string{"limit=abc", "limit=-1", "offset=x"} {
		if resp := env.do(t, http.MethodGet, "/api/v1/audit?"+q, operator); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAuditLog_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Audit = nil })
	resp := env.do(t, http.MethodGet, "/api/v1/audit", mintToken(t, auth.RoleOperator))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSystem(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/system", mintToken(t, auth.RoleViewer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body SystemStatus
	decode(t, resp, &body)
	if body.Host != "hall" || body.Stations != 2 {
		t.Errorf("system = %+v", body)
	}
	if body.Version == nil || !body.Version.UpdatePending || body.Version.Latest != "v1.1.0" {
		t.Errorf("version = %+v, want update pending to v1.1.0", body.Version)
	}
	if body.Capture == nil || body.Capture.PID != 42 {
		t.Errorf("capture = %+v", body.Capture)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://console.local"}
	})

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/v1/stations", nil)
	req.Header.Set("Origin", "http://console.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://console.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func dialWS(t *testing.T, env *testEnv, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	if token != "" {
		url += "?access_token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp, err := dialWS(t, env, "")
	if err == nil {
		t.Fatal("Dial() without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}

func TestWebSocket_Events(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := dialWS(t, env, mintToken(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{EventStationStateChanged, EventUploadFailed}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if ack := readWS(t, conn); ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	hub := env.srv.Hub()
	// Not subscribed: must not arrive.
	hub.VersionChanged("v1", "v2")
	hub.StationStateChanged("kitchen", mailbox.StateRecording)
	hub.UploadFailed(mailbox.FailedUpload{
		Recording: mailbox.Recording{ID: "rec-1", Initiator: "kitchen", PCM: []byte{1, 2}},
		Attempts:  3,
	})

	ev := readWS(t, conn)
	if ev.Type != WSTypeEvent || ev.EventType != EventStationStateChanged {
		t.Fatalf("first event = %+v, want %s", ev, EventStationStateChanged)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["mailbox_id"] != "kitchen" || payload["state"] != string(mailbox.StateRecording) {
		t.Errorf("state payload = %v", ev.Payload)
	}

	ev = readWS(t, conn)
	if ev.EventType != EventUploadFailed {
		t.Fatalf("second event = %+v, want %s", ev, EventUploadFailed)
	}
	payload, _ = ev.Payload.(map[string]any)
	if payload["id"] != "rec-1" {
		t.Errorf("upload payload = %v", ev.Payload)
	}
	if _, ok := payload["pcm"]; ok {
		t.Error("upload.failed event leaked PCM")
	}
}

func TestWebSocket_Wildcard(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := dialWS(t, env, mintToken(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "all",
		Payload: WSSubscribePayload{Channels: []string{WSChannelAll}},
	}); err != nil {
		t.Fatal(err)
	}
	readWS(t, conn)

	env.srv.Hub().MessageDelivered(messages.Message{ID: "m1", MailboxID: "attic", Unread: true})
	ev := readWS(t, conn)
	if ev.EventType != EventMessageDelivered {
		t.Fatalf("event = %+v, want %s", ev, EventMessageDelivered)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["mailbox_id"] != "attic" {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := dialWS(t, env, mintToken(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Errorf("reply = %+v, want pong", msg)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("reply = %+v, want error", msg)
	}
}

func TestWebSocket_MailboxFilter(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := dialWS(t, env, mintToken(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type: WSTypeSubscribe,
		ID:   "1",
		Payload: WSSubscribePayload{
			Channels:  []string{WSChannelAll},
			Mailboxes: []string{"attic"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	readWS(t, conn)

	hub := env.srv.Hub()
	hub.StationStateChanged("kitchen", mailbox.StateRecording)
	hub.MessageDelivered(messages.Message{ID: "m1", MailboxID: "kitchen"})
	hub.UploadFailed(mailbox.FailedUpload{
		Recording: mailbox.Recording{ID: "rec-1", Initiator: "kitchen", Recipients: []string{"attic"}},
	})
	hub.VersionChanged("v1", "v2")

	// Only the upload involving attic and the mailbox-free version event pass.
	if ev := readWS(t, conn); ev.EventType != EventUploadFailed {
		t.Fatalf("first event = %+v, want %s", ev, EventUploadFailed)
	}
	if ev := readWS(t, conn); ev.EventType != EventVersionChanged {
		t.Fatalf("second event = %+v, want %s", ev, EventVersionChanged)
	}

	// Resubscribing with no channels silences the client.
	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "2", Payload: WSSubscribePayload{}}); err != nil {
		t.Fatal(err)
	}
	if ack := readWS(t, conn); ack.Type != WSTypeResponse || ack.ID != "2" {
		t.Fatalf("resubscribe ack = %+v", ack)
	}
	hub.VersionChanged("v2", "v3")
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong {
		t.Errorf("reply = %+v, want pong with no event before it", msg)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := dialWS(t, env, mintToken(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "x",
		Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
	}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError || msg.ID != "x" {
		t.Errorf("reply = %+v, want error", msg)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	sub, err := newSubscription(WSSubscribePayload{Channels: []string{EventVersionChanged}})
	if err != nil {
		t.Fatalf("newSubscription() error = %v", err)
	}
	c := &wsClient{hub: hub, sub: sub, send: make(chan []byte, 1)}
	hub.register(c)

	hub.VersionChanged("v1", "v2")
	hub.VersionChanged("v2", "v3")

	if _, ok := <-c.send; !ok {
		t.Fatal("first event was not queued")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel still open after overflow")
	}

	// Later events and unregistering a dropped client are harmless.
	hub.VersionChanged("v3", "v4")
	hub.unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
