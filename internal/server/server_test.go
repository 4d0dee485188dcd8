package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xrpool/governor/internal/config"
	"github.com/xrpool/governor/internal/engine"
	"github.com/xrpool/governor/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return testServerCfg(t, config.Default())
}

func testServerCfg(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(engine.New(db, cfg), "test-version")
}

func doJSON(t *testing.T, srv *Server, method, path, agent, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if agent != "" {
		req.Header.Set("X-Agent-ID", agent)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func createPool(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, "POST", "/api/pools", "admin", `{"name":"test pool"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool status = %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)["pool_id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w := doJSON(t, srv, "GET", "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := decode(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestDepositAndRetrieveFlow(t *testing.T) {
	srv := testServer(t)
	poolID := createPool(t, srv)

	w := doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts", "agent-1",
		`{"task_type":"code.refactor","outcome_status":"success","self_assessment":0.8,
		  "payload":"{\"approach\":\"rename symbols with gopls\"}"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d: %s", w.Code, w.Body.String())
	}
	dep := decode(t, w)
	if dep["status"] != "active" {
		t.Errorf("deposit status = %v, want active", dep["status"])
	}

	w = doJSON(t, srv, "POST", "/api/pools/"+poolID+"/retrieve", "agent-2",
		`{"task_type":"code.refactor","context":"rename symbols"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d: %s", w.Code, w.Body.String())
	}
	res := decode(t, w)
	if res["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", res["count"])
	}
}

func TestDepositSpoofedAgentRejected(t *testing.T) {
	srv := testServer(t)
	poolID := createPool(t, srv)

	w := doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts", "mallory",
		`{"agent_id":"victim","task_type":"code.refactor","outcome_status":"success","self_assessment":0.8}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("spoofed agent_id status = %d, want 401: %s", w.Code, w.Body.String())
	}
}

func TestValidateFlow(t *testing.T) {
	srv := testServer(t)
	poolID := createPool(t, srv)

	w := doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts", "agent-1",
		`{"xr_id":"xr-1","task_type":"code.refactor","outcome_status":"success","self_assessment":0.8}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit: %s", w.Body.String())
	}

	w = doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts/xr-1/validate", "agent-2",
		`{"event_type":"confirm"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("validate status = %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["validation_state"] != "pending" {
		t.Errorf("one confirm should leave state pending")
	}

	// Self-validation maps to 409.
	w = doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts/xr-1/validate", "agent-1",
		`{"event_type":"confirm"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("self-validation status = %d, want %d", w.Code, http.StatusConflict)
	}

	// Duplicate validator maps to 409.
	w = doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts/xr-1/validate", "agent-2",
		`{"event_type":"dispute"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate validator status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestFeedbackFlow(t *testing.T) {
	srv := testServer(t)
	poolID := createPool(t, srv)

	doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts", "agent-1",
		`{"xr_id":"xr-1","task_type":"code.refactor","outcome_status":"success","self_assessment":0.8}`)

	w := doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts/xr-1/feedback", "agent-3",
		`{"helpful":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("feedback status = %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["composite"].(float64) <= 0.55 {
		t.Errorf("helpful feedback did not raise composite: %s", w.Body.String())
	}
}

func TestInspectAndVerify(t *testing.T) {
	srv := testServer(t)
	poolID := createPool(t, srv)
	doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts", "agent-1",
		`{"task_type":"code.refactor","outcome_status":"success","self_assessment":0.8}`)

	w := doJSON(t, srv, "GET", "/api/pools/"+poolID, "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("inspect status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/pools/"+poolID+"/audit/verify", "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["status"] != "intact" {
		t.Errorf("verify = %s, want intact", w.Body.String())
	}
}

func TestStatusMapping(t *testing.T) {
	srv := testServer(t)
	poolID := createPool(t, srv)

	cases := []struct {
		name   string
		method string
		path   string
		agent  string
		body   string
		want   int
	}{
		{"missing identity", "POST", "/api/pools/" + poolID + "/artifacts", "",
			`{"task_type":"code","outcome_status":"success"}`, http.StatusUnauthorized},
		{"bad schema", "POST", "/api/pools/" + poolID + "/artifacts", "agent-1",
			`{"task_type":"code","outcome_status":"great"}`, http.StatusBadRequest},
		{"unknown pool", "POST", "/api/pools/nope/artifacts", "agent-1",
			`{"task_type":"code","outcome_status":"success"}`, http.StatusNotFound},
		{"unknown artifact", "POST", "/api/pools/" + poolID + "/artifacts/nope/validate", "agent-1",
			`{"event_type":"confirm"}`, http.StatusNotFound},
		{"invalid json", "POST", "/api/pools/" + poolID + "/artifacts", "agent-1",
			`{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := doJSON(t, srv, tc.method, tc.path, tc.agent, tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
		}
	}
}

func TestBearerTokenAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Tokens = map[string]string{"secret-token": "agent-1"}
	srv := testServerCfg(t, cfg)
	poolID := createPoolAuth(t, srv, "secret-token")

	// A spoofed X-Agent-ID header is ignored when tokens are configured.
	w := doJSON(t, srv, "POST", "/api/pools/"+poolID+"/artifacts", "agent-1",
		`{"task_type":"code","outcome_status":"success"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("header identity with tokens configured: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/pools/"+poolID+"/artifacts",
		strings.NewReader(`{"task_type":"code","outcome_status":"success"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("bearer identity: status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
}

func createPoolAuth(t *testing.T, srv *Server, token string) string {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/pools", strings.NewReader(`{"name":"test pool"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool status = %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)["pool_id"].(string)
}
