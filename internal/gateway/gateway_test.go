package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cliniguard/cliniguard/internal/actor"
	"github.com/cliniguard/cliniguard/internal/audit"
	"github.com/cliniguard/cliniguard/internal/config"
	"github.com/cliniguard/cliniguard/internal/dispatch"
	"github.com/cliniguard/cliniguard/internal/identity"
	"github.com/cliniguard/cliniguard/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustContract(t *testing.T, schema string) registry.Contract {
	t.Helper()
	c, err := registry.NewSchemaContract("test", "test input", []byte(schema))
	if err != nil {
		t.Fatalf("compiling contract: %v", err)
	}
	return c
}

const echoSchema = `{
	"type": "object",
	"properties": {"message": {"type": "string"}},
	"required": ["message"],
	"additionalProperties": false
}`

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	echo := registry.Descriptor{
		Name:               "patient.read_record",
		Category:           "patient",
		Version:            "1.0.0",
		Description:        "Reads a patient record",
		RequiredPermission: "patient:read",
		Contract:           mustContract(t, echoSchema),
		Handler: func(_ context.Context, _ actor.Actor, input map[string]any) (any, error) {
			return map[string]any{"echo": input["message"]}, nil
		},
	}
	public := registry.Descriptor{
		Name:        "system.time",
		Category:    "system",
		Description: "Returns server time",
		Contract:    mustContract(t, `{"type":"object"}`),
		Handler: func(_ context.Context, _ actor.Actor, _ map[string]any) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	if err := reg.Register(echo); err != nil {
		t.Fatalf("registering tool: %v", err)
	}
	if err := reg.Register(public); err != nil {
		t.Fatalf("registering tool: %v", err)
	}
	return reg
}

func testProvider(t *testing.T) identity.Provider {
	t.Helper()
	p, err := identity.NewStaticProvider(config.StaticIdentityConfig{
		Actors: []config.ActorConfig{
			{ID: "dr-osei", Role: "physician", Organization: "mercy-general", Permissions: []string{"patient:read"}},
			{ID: "nurse-kim", Role: "nurse"},
		},
	}, discardLogger())
	if err != nil {
		t.Fatalf("building provider: %v", err)
	}
	return p
}

func newTestGateway(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	reg := testRegistry(t)
	rec := audit.NewRecorder(audit.NewMemoryStore(), audit.RecorderOptions{Logger: discardLogger()})
	d := dispatch.New(reg, rec, discardLogger(), dispatch.Options{})
	g := New(reg, d, testProvider(t), discardLogger(), opts)

	mux := http.NewServeMux()
	g.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postCall(t *testing.T, srv *httptest.Server, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/tools/call", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("calling gateway: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, parsed
}

func TestGateway_CallSuccess(t *testing.T) {
	srv := newTestGateway(t, Options{})

	body := `{"tool_name":"patient.read_record","arguments":{"message":"hello"},"actor_reference":"dr-osei"}`
	resp, parsed := postCall(t, srv, body, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["decision"] != "authorized" {
		t.Errorf("decision = %v, want authorized", parsed["decision"])
	}
	if parsed["status"] != "success" {
		t.Errorf("status = %v, want success", parsed["status"])
	}
	result, _ := parsed["result"].(map[string]any)
	if result["echo"] != "hello" {
		t.Errorf("result = %v, want echo of hello", parsed["result"])
	}
	if parsed["request_id"] == "" || parsed["request_id"] == nil {
		t.Error("response must carry a request_id")
	}
}

func TestGateway_BearerCredential(t *testing.T) {
	srv := newTestGateway(t, Options{})

	body := `{"tool_name":"patient.read_record","arguments":{"message":"hi"}}`
	resp, parsed := postCall(t, srv, body, map[string]string{"Authorization": "Bearer dr-osei"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["decision"] != "authorized" {
		t.Errorf("decision = %v, want authorized", parsed["decision"])
	}
}

func TestGateway_DeniedIsHTTP200(t *testing.T) {
	srv := newTestGateway(t, Options{})

	// nurse-kim has no grants
	body := `{"tool_name":"patient.read_record","arguments":{"message":"x"},"actor_reference":"nurse-kim"}`
	resp, parsed := postCall(t, srv, body, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a denied outcome", resp.StatusCode)
	}
	if parsed["decision"] != "denied" {
		t.Errorf("decision = %v, want denied", parsed["decision"])
	}
	errObj, _ := parsed["error"].(map[string]any)
	if errObj["code"] != "NOT_AUTHORIZED" {
		t.Errorf("error code = %v, want NOT_AUTHORIZED", errObj["code"])
	}
}

func TestGateway_NotFoundIsHTTP200(t *testing.T) {
	srv := newTestGateway(t, Options{})

	body := `{"tool_name":"nonexistent_tool","actor_reference":"dr-osei"}`
	resp, parsed := postCall(t, srv, body, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["decision"] != "denied" || parsed["status"] != "not_found" {
		t.Errorf("got decision=%v status=%v, want denied/not_found", parsed["decision"], parsed["status"])
	}
}

func TestGateway_ValidationFailure(t *testing.T) {
	srv := newTestGateway(t, Options{})

	body := `{"tool_name":"patient.read_record","arguments":{"message":42},"actor_reference":"dr-osei"}`
	resp, parsed := postCall(t, srv, body, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["decision"] != "authorized" || parsed["status"] != "validation_failure" {
		t.Errorf("got decision=%v status=%v, want authorized/validation_failure", parsed["decision"], parsed["status"])
	}
}

func TestGateway_PublicToolNeedsIdentity(t *testing.T) {
	srv := newTestGateway(t, Options{})

	// Public tools skip authorization, not authentication: the audit trail
	// still needs an actor.
	body := `{"tool_name":"system.time","actor_reference":"nurse-kim"}`
	resp, parsed := postCall(t, srv, body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["decision"] != "authorized" || parsed["status"] != "success" {
		t.Errorf("got decision=%v status=%v, want authorized/success", parsed["decision"], parsed["status"])
	}
}

func TestGateway_RequestErrors(t *testing.T) {
	srv := newTestGateway(t, Options{})

	tests := []struct {
		name       string
		body       string
		headers    map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing credential",
			body:       `{"tool_name":"patient.read_record"}`,
			wantStatus: 401,
			wantCode:   "AUTH_REQUIRED",
		},
		{
			name:       "unknown actor",
			body:       `{"tool_name":"patient.read_record","actor_reference":"dr-ghost"}`,
			wantStatus: 401,
			wantCode:   "AUTH_FAILED",
		},
		{
			name:       "malformed authorization header",
			body:       `{"tool_name":"patient.read_record"}`,
			headers:    map[string]string{"Authorization": "Basic abc"},
			wantStatus: 401,
			wantCode:   "AUTH_REQUIRED",
		},
		{
			name:       "invalid json",
			body:       `{not json`,
			wantStatus: 400,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:       "missing tool name",
			body:       `{"actor_reference":"dr-osei"}`,
			wantStatus: 400,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:       "bad deadline format",
			body:       `{"tool_name":"patient.read_record","actor_reference":"dr-osei","deadline":"tomorrow"}`,
			wantStatus: 400,
			wantCode:   "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, parsed := postCall(t, srv, tt.body, tt.headers)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			errObj, _ := parsed["error"].(map[string]any)
			if errObj["code"] != tt.wantCode {
				t.Errorf("error code = %v, want %s", errObj["code"], tt.wantCode)
			}
		})
	}
}

func TestGateway_UnknownTopLevelFieldsTolerated(t *testing.T) {
	srv := newTestGateway(t, Options{})

	body := `{"tool_name":"system.time","actor_reference":"nurse-kim","trace_id":"abc","extra":{"a":1}}`
	resp, _ := postCall(t, srv, body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with unknown fields present", resp.StatusCode)
	}
}

func TestGateway_BodySizeCap(t *testing.T) {
	srv := newTestGateway(t, Options{MaxBodySize: 256})

	big := strings.Repeat("x", 1024)
	body := fmt.Sprintf(`{"tool_name":"system.time","actor_reference":"nurse-kim","arguments":{"pad":%q}}`, big)
	resp, parsed := postCall(t, srv, body, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized body", resp.StatusCode)
	}
	errObj, _ := parsed["error"].(map[string]any)
	if errObj["code"] != "BAD_REQUEST" {
		t.Errorf("error code = %v, want BAD_REQUEST", errObj["code"])
	}
}

func TestGateway_RateLimited(t *testing.T) {
	limiter := NewActorRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		PerActorPerMinute: 60,
		Burst:             2,
	})
	defer limiter.Stop()

	srv := newTestGateway(t, Options{Limiter: limiter})

	body := `{"tool_name":"system.time","actor_reference":"nurse-kim"}`
	var last *http.Response
	var lastParsed map[string]any
	for i := 0; i < 3; i++ {
		last, lastParsed = postCall(t, srv, body, nil)
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third call status = %d, want 429", last.StatusCode)
	}
	errObj, _ := lastParsed["error"].(map[string]any)
	if errObj["code"] != "RATE_LIMITED" {
		t.Errorf("error code = %v, want RATE_LIMITED", errObj["code"])
	}
}

// failingRecorder simulates an unavailable audit store.
type failingRecorder struct{}

func (failingRecorder) Record(_ context.Context, _ dispatch.Outcome) (dispatch.Receipt, error) {
	return dispatch.Receipt{}, fmt.Errorf("store unavailable")
}

func TestGateway_AuditWriteFailureIs503(t *testing.T) {
	reg := testRegistry(t)
	d := dispatch.New(reg, failingRecorder{}, discardLogger(), dispatch.Options{})
	g := New(reg, d, testProvider(t), discardLogger(), Options{})

	mux := http.NewServeMux()
	g.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body := `{"tool_name":"system.time","actor_reference":"nurse-kim"}`
	resp, parsed := postCall(t, srv, body, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the audit write fails", resp.StatusCode)
	}
	errObj, _ := parsed["error"].(map[string]any)
	if errObj["code"] != "AUDIT_WRITE_FAILED" {
		t.Errorf("error code = %v, want AUDIT_WRITE_FAILED", errObj["code"])
	}
}

func TestGateway_Discovery(t *testing.T) {
	srv := newTestGateway(t, Options{})

	resp, err := http.Get(srv.URL + "/v1/tools")
	if err != nil {
		t.Fatalf("listing tools: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var parsed struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(parsed.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(parsed.Tools))
	}
	if parsed.Tools[0].Name != "patient.read_record" {
		t.Errorf("first tool = %q, want registration order preserved", parsed.Tools[0].Name)
	}
	if parsed.Tools[0].RequiredPermission != "patient:read" || parsed.Tools[0].Public {
		t.Errorf("gated tool rendered wrong: %+v", parsed.Tools[0])
	}
	if !parsed.Tools[1].Public {
		t.Errorf("system.time should render as public: %+v", parsed.Tools[1])
	}
}

func TestGateway_DiscoveryByCategory(t *testing.T) {
	srv := newTestGateway(t, Options{})

	resp, err := http.Get(srv.URL + "/v1/tools?category=system")
	if err != nil {
		t.Fatalf("listing tools: %v", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(parsed.Tools) != 1 || parsed.Tools[0].Category != "system" {
		t.Errorf("category filter returned %+v, want only system tools", parsed.Tools)
	}

	// Unknown category: empty list, not an error
	resp2, err := http.Get(srv.URL + "/v1/tools?category=nope")
	if err != nil {
		t.Fatalf("listing tools: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("unknown category status = %d, want 200", resp2.StatusCode)
	}
}
