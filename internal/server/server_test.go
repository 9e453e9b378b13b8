package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"reasond/internal/audit"
	"reasond/internal/core"
	"reasond/internal/logging"
	"reasond/internal/session"
	"reasond/internal/toolbox"
)

func newTestServer(t *testing.T, auditLog *audit.Log) *httptest.Server {
	t.Helper()
	mgr := session.NewManager(session.DefaultConfig(), toolbox.NewManager(""), logging.Nop())
	t.Cleanup(mgr.Close)
	srv := New(Config{MaxBodyBytes: 1 << 20, Version: "test"}, mgr, auditLog, logging.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	srv.ready.Store(true)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func createSession(t *testing.T, ts *httptest.Server, base, user string) core.SessionResponse {
	t.Helper()
	var out core.SessionResponse
	resp := doJSON(t, ts, http.MethodPost, base, core.CreateSessionRequest{UserID: user}, &out)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	sess := createSession(t, ts, "/sessions", "alice")
	if sess.UserID != "alice" || sess.Status != "active" {
		t.Fatalf("session = %+v", sess)
	}

	var got core.SessionResponse
	resp := doJSON(t, ts, http.MethodGet, "/sessions/"+sess.SessionID, nil, &got)
	if resp.StatusCode != http.StatusOK || got.SessionID != sess.SessionID {
		t.Fatalf("get = %d %+v", resp.StatusCode, got)
	}

	var list core.SessionListResponse
	doJSON(t, ts, http.MethodGet, "/sessions/principal/alice", nil, &list)
	if list.Count != 1 || len(list.Sessions) != 1 {
		t.Fatalf("list = %+v", list)
	}

	var term core.TerminateResponse
	resp = doJSON(t, ts, http.MethodDelete, "/sessions/"+sess.SessionID, nil, &term)
	if resp.StatusCode != http.StatusOK || term.Status != "terminated" {
		t.Fatalf("terminate = %d %+v", resp.StatusCode, term)
	}

	var werr core.ErrorResponse
	resp = doJSON(t, ts, http.MethodDelete, "/sessions/"+sess.SessionID, nil, &werr)
	if resp.StatusCode != http.StatusNotFound || werr.ErrorType != "session_not_found" {
		t.Fatalf("double terminate = %d %+v", resp.StatusCode, werr)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	var werr core.ErrorResponse
	resp := doJSON(t, ts, http.MethodPost, "/sessions", core.CreateSessionRequest{}, &werr)
	if resp.StatusCode != http.StatusBadRequest || werr.ErrorType != "missing_field" {
		t.Fatalf("missing user_id = %d %+v", resp.StatusCode, werr)
	}
	if werr.Code != http.StatusBadRequest {
		t.Fatalf("code field = %d", werr.Code)
	}
}

func TestWrongSurface(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := createSession(t, ts, "/sessions", "alice")

	var werr core.ErrorResponse
	resp := doJSON(t, ts, http.MethodGet, "/devils/sessions/"+sess.SessionID, nil, &werr)
	if resp.StatusCode != http.StatusConflict || werr.ErrorType != "wrong_session_kind" {
		t.Fatalf("cross-surface get = %d %+v", resp.StatusCode, werr)
	}
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := createSession(t, ts, "/sessions", "alice")

	var res core.EvalResult
	resp := doJSON(t, ts, http.MethodPost, "/sessions/"+sess.SessionID+"/evaluate",
		core.EvalRequest{Script: "(+ 40 2)"}, &res)
	if resp.StatusCode != http.StatusOK || res.Stdout != "42" || res.ExitCode != 0 {
		t.Fatalf("evaluate = %d %+v", resp.StatusCode, res)
	}

	// Engine failures still come back as 200 with a nonzero exit code.
	resp = doJSON(t, ts, http.MethodPost, "/sessions/"+sess.SessionID+"/evaluate",
		core.EvalRequest{Script: "(assert (broken"}, &res)
	if resp.StatusCode != http.StatusOK || res.ExitCode == 0 || res.Err == nil {
		t.Fatalf("failed eval = %d %+v", resp.StatusCode, res)
	}

	var werr core.ErrorResponse
	resp = doJSON(t, ts, http.MethodPost, "/sessions/nope/evaluate",
		core.EvalRequest{Script: "(+ 1 1)"}, &werr)
	if resp.StatusCode != http.StatusNotFound || werr.ErrorType != "session_not_found" {
		t.Fatalf("unknown session = %d %+v", resp.StatusCode, werr)
	}
}

func TestBlockedCommand(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := createSession(t, ts, "/sessions", "alice")

	var werr core.ErrorResponse
	resp := doJSON(t, ts, http.MethodPost, "/sessions/"+sess.SessionID+"/evaluate",
		core.EvalRequest{Script: `(system "whoami")`}, &werr)
	if resp.StatusCode != http.StatusForbidden || werr.ErrorType != "command_blocked" {
		t.Fatalf("blocked command = %d %+v", resp.StatusCode, werr)
	}
}

func TestLogicQueryConsultRetract(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := createSession(t, ts, "/devils/sessions", "alice")
	base := "/devils/sessions/" + sess.SessionID

	var cons core.ConsultResponse
	resp := doJSON(t, ts, http.MethodPost, base+"/consult",
		core.ConsultRequest{Clauses: []string{"likes(mary, wine).", "likes(john, wine)."}}, &cons)
	if resp.StatusCode != http.StatusOK || cons.Status != "clauses_loaded" || cons.Count != 2 {
		t.Fatalf("consult = %d %+v", resp.StatusCode, cons)
	}

	var q core.QueryResponse
	resp = doJSON(t, ts, http.MethodPost, base+"/query",
		core.QueryRequest{Goal: "likes(X, wine)", AllSolutions: true}, &q)
	if resp.StatusCode != http.StatusOK || !q.Success {
		t.Fatalf("query = %d %+v", resp.StatusCode, q)
	}
	all, ok := q.Result.([]any)
	if !ok || len(all) != 2 {
		t.Fatalf("result = %#v", q.Result)
	}

	// No solution is a 200 with success=false.
	resp = doJSON(t, ts, http.MethodPost, base+"/query",
		core.QueryRequest{Goal: "likes(X, beer)"}, &q)
	if resp.StatusCode != http.StatusOK || q.Success || q.Result != nil {
		t.Fatalf("no-solution query = %d %+v", resp.StatusCode, q)
	}

	var ret core.RetractResponse
	resp = doJSON(t, ts, http.MethodPost, base+"/retract",
		core.RetractRequest{Clause: "likes(_, wine)", All: true}, &ret)
	if resp.StatusCode != http.StatusOK || ret.Status != "retracted" {
		t.Fatalf("retract = %d %+v", resp.StatusCode, ret)
	}

	resp = doJSON(t, ts, http.MethodPost, base+"/query",
		core.QueryRequest{Goal: "likes(X, wine)"}, &q)
	if q.Success {
		t.Fatalf("after retractall query = %d %+v", resp.StatusCode, q)
	}
}

func TestBadBody(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.Client().Post(ts.URL+"/sessions", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var werr core.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&werr); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest || werr.ErrorType != "invalid_request_body" {
		t.Fatalf("bad body = %d %+v", resp.StatusCode, werr)
	}
}

func TestBodyCap(t *testing.T) {
	mgr := session.NewManager(session.DefaultConfig(), toolbox.NewManager(""), logging.Nop())
	t.Cleanup(mgr.Close)
	srv := New(Config{MaxBodyBytes: 64}, mgr, nil, logging.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	body := fmt.Sprintf(`{"user_id":%q}`, strings.Repeat("x", 200))
	resp, err := ts.Client().Post(ts.URL+"/sessions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var werr core.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&werr); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest || werr.ErrorType != "invalid_request_body" {
		t.Fatalf("oversized body = %d %+v", resp.StatusCode, werr)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	var werr core.ErrorResponse
	resp := doJSON(t, ts, http.MethodGet, "/nope", nil, &werr)
	if resp.StatusCode != http.StatusNotFound || werr.ErrorType != "command_not_found" {
		t.Fatalf("unknown route = %d %+v", resp.StatusCode, werr)
	}
}

func TestOperationalRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	var health core.HealthResponse
	resp := doJSON(t, ts, http.MethodGet, "/healthz", nil, &health)
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.Version != "test" {
		t.Fatalf("healthz = %d %+v", resp.StatusCode, health)
	}

	resp = doJSON(t, ts, http.MethodGet, "/livez", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("livez = %d", resp.StatusCode)
	}

	createSession(t, ts, "/sessions", "alice")
	var snap core.MetricsSnapshot
	doJSON(t, ts, http.MethodGet, "/metrics", nil, &snap)
	if snap.ActiveSessions != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestAuditWiring(t *testing.T) {
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	ts := newTestServer(t, log)
	sess := createSession(t, ts, "/sessions", "alice")

	var res core.EvalResult
	doJSON(t, ts, http.MethodPost, "/sessions/"+sess.SessionID+"/evaluate",
		core.EvalRequest{Script: "(+ 1 1)"}, &res)

	entries, err := log.RecentForSession(context.Background(), sess.SessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Principal != "alice" || entries[0].Operation != "evaluate" {
		t.Fatalf("entries = %+v", entries)
	}
}
