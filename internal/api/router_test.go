package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/triage-ai/medalert/internal/action"
	"github.com/triage-ai/medalert/internal/collab"
	"github.com/triage-ai/medalert/internal/engine"
	"github.com/triage-ai/medalert/internal/ledger"
	"github.com/triage-ai/medalert/internal/pipeline"
	"github.com/triage-ai/medalert/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testRules = engine.Rules{
	{Keywords: []string{"chest pain", "shortness of breath"}, Risk: engine.RiskHigh, Title: "Possible Heart Attack", Message: "Call emergency services now."},
	{Keywords: []string{"fever"}, Risk: engine.RiskElevated, Title: "Fever", Message: "Monitor temperature."},
}

type countingCaller struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCaller) Place(context.Context, string, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingCaller) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeLister struct {
	got    storage.ListDispatchesParams
	events []storage.DispatchEvent
	err    error
}

func (f *fakeLister) ListDispatches(_ context.Context, p storage.ListDispatchesParams) ([]storage.DispatchEvent, error) {
	f.got = p
	return f.events, f.err
}

type testServer struct {
	handler http.Handler
	caller  *countingCaller
	deps    *Dependencies
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	caller := &countingCaller{}
	p, err := pipeline.New(pipeline.Config{
		Advisor:    engine.NewAdvisor(testRules),
		Ledger:     ledger.NewFileLedger(filepath.Join(t.TempDir(), "history.json"), zap.NewNop()),
		Gate:       engine.NewGate(0),
		Dispatcher: action.NewDispatcher(caller, action.DispatcherConfig{To: "+15550001", From: "+15550002"}, zap.NewNop()),
		Events:     storage.NewLogWriter(zap.NewNop()),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	deps := &Dependencies{
		Pipeline:    p,
		Transcriber: collab.MockTranscriber{Text: "chest pain since this morning"},
		Extractor:   collab.NoopExtractor{},
		Logger:      zap.NewNop(),
	}
	return &testServer{handler: NewRouter(deps), caller: caller, deps: deps}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRoot(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "MedAlert API is running") {
		t.Errorf("unexpected root response %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
}

func TestListRules(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[[]engine.Rule](t, rec)
	if diff := cmp.Diff([]engine.Rule(testRules), got); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/analyze", `{"transcript": "I have CHEST PAIN and feel dizzy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	got := decode[engine.Advice](t, rec)
	want := engine.Advice{Title: "Possible Heart Attack", Message: "Call emergency services now.", Risk: engine.RiskHigh}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("advice mismatch (-want +got):\n%s", diff)
	}
	if n := s.caller.count(); n != 1 {
		t.Errorf("expected exactly one dispatch, got %d", n)
	}

	hist := decode[[]ledger.Entry](t, s.do(t, http.MethodGet, "/history", ""))
	if len(hist) != 1 || hist[0].Text != "I have CHEST PAIN and feel dizzy" || hist[0].Advice.Risk != engine.RiskHigh {
		t.Errorf("unexpected history %+v", hist)
	}

	status := decode[AgentStatusResp](t, s.do(t, http.MethodGet, "/agent/status", ""))
	if !status.AlreadyTriggered || status.LastTriggeredAt == nil {
		t.Errorf("expected triggered status, got %+v", status)
	}
}

func TestAnalyze_DefaultAdviceNoDispatch(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/analyze", `{"transcript": "I feel a bit tired"}`)
	got := decode[engine.Advice](t, rec)
	if got.Title != engine.DefaultAdvice.Title || got.Risk != engine.RiskLow {
		t.Errorf("expected default advice, got %+v", got)
	}
	if s.caller.count() != 0 {
		t.Error("low risk must not dispatch")
	}
}

func TestAnalyze_BadRequests(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"transcript":`},
		{"missing transcript", `{}`},
		{"blank transcript", `{"transcript": "   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/analyze", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp := decode[ErrorResp](t, rec); resp.Detail == "" {
				t.Error("expected detail message")
			}
		})
	}
}

func TestHistory_ClearAndEmpty(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/history", ""); strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty history should be [], got %s", rec.Body.String())
	}
	s.do(t, http.MethodPost, "/analyze", `{"transcript": "fever"}`)
	if rec := s.do(t, http.MethodDelete, "/history", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /history = %d", rec.Code)
	}
	if hist := decode[[]ledger.Entry](t, s.do(t, http.MethodGet, "/history", "")); len(hist) != 0 {
		t.Errorf("history should be empty after clear, got %d", len(hist))
	}
}

func TestEmergency(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		want      string
		wantCalls int
	}{
		{"qualifies", `{"risk":"high","confidence":0.9,"symptoms":["chest pain"],"reason":"cardiac"}`, 200,
			`{"status":"success","is_dry_run":false,"message":"Call initiated"}`, 1},
		{"string confidence", `{"risk":"High","confidence":"0.75"}`, 200,
			`{"status":"success","is_dry_run":false,"message":"Call initiated"}`, 1},
		{"low confidence", `{"risk":"high","confidence":0.5}`, 200,
			`{"status":"ignored","reason":"risk_or_confidence_too_low"}`, 0},
		{"non numeric confidence", `{"risk":"high","confidence":"very"}`, 200,
			`{"status":"ignored","reason":"risk_or_confidence_too_low"}`, 0},
		{"missing fields", `{}`, 200,
			`{"status":"ignored","reason":"risk_or_confidence_too_low"}`, 0},
		{"invalid json", `not json`, 400, ``, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/agent/emergency", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.want != "" {
				if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
					t.Errorf("body = %s, want %s", got, tt.want)
				}
			}
			if n := s.caller.count(); n != tt.wantCalls {
				t.Errorf("calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestAgentStatus_Initial(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/agent/status", "")
	got := decode[AgentStatusResp](t, rec)
	if got.AlreadyTriggered || got.LastTriggeredAt != nil || got.TriggerThreshold != engine.DefaultTriggerThreshold {
		t.Errorf("unexpected initial status %+v", got)
	}
}

func TestListDispatches(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/agent/dispatches", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a reader, got %d", rec.Code)
	}

	lister := &fakeLister{events: []storage.DispatchEvent{{EventID: "e1", Status: "success", Source: storage.SourceAgent}}}
	s.deps.Dispatches = lister
	rec := s.do(t, http.MethodGet, "/agent/dispatches?limit=5&source=agent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if lister.got.Limit != 5 || lister.got.Source != "agent" {
		t.Errorf("params not forwarded: %+v", lister.got)
	}
	if got := decode[[]storage.DispatchEvent](t, rec); len(got) != 1 || got[0].EventID != "e1" {
		t.Errorf("unexpected events %+v", got)
	}

	if rec := s.do(t, http.MethodGet, "/agent/dispatches?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit should be 400, got %d", rec.Code)
	}

	lister.err = errors.New("clickhouse down")
	if rec := s.do(t, http.MethodGet, "/agent/dispatches", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("reader error should be 500, got %d", rec.Code)
	}
}

func multipartUpload(t *testing.T, filename, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("fake-audio"))
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestTranscribe(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartUpload(t, "clip.webm", "application/octet-stream")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[TranscribeResp](t, rec)
	want := TranscribeResp{Filename: "clip.webm", Transcript: "chest pain since this morning", MedCAT: collab.Empty()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transcribe mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscribe_UnreachableServiceDegrades(t *testing.T) {
	s := newTestServer(t)
	down := httptest.NewServer(http.NotFoundHandler())
	endpoint := down.URL
	down.Close()
	s.deps.Transcriber = collab.NewHTTPTranscriber(endpoint, 0, zap.NewNop())
	s.handler = NewRouter(s.deps)

	body, ct := multipartUpload(t, "clip.webm", "application/octet-stream")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[TranscribeResp](t, rec)
	want := TranscribeResp{Filename: "clip.webm", Transcript: collab.DefaultMockTranscript, MedCAT: collab.Empty()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transcribe mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscribe_RejectsNonAudio(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartUpload(t, "notes.txt", "text/plain")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/analyze", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t)
	rl := NewRateLimiter(0.001, 2)
	defer rl.Close()
	s.deps.Limiter = rl
	h := NewRouter(s.deps)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if diff := cmp.Diff([]int{200, 200, 429}, codes); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client status = %d", rec.Code)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	rl.limiterFor("10.0.0.1")
	rl.sweep(rl.visitors["10.0.0.1"].lastSeen.Add(visitorTTL + 1))
	if len(rl.visitors) != 0 {
		t.Errorf("stale visitor not swept: %d left", len(rl.visitors))
	}
}
