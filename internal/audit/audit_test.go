package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cliniguard/cliniguard/internal/actor"
	"github.com/cliniguard/cliniguard/internal/dispatch"
)

// captureLog runs fn with a JSON slog logger writing to a buffer and returns the output.
func captureLog(fn func(*slog.Logger)) string {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	fn(logger)
	return buf.String()
}

func makeOutcome() dispatch.Outcome {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return dispatch.Outcome{
		RequestID:  "req-100",
		ToolName:   "create_patient_record",
		ActorID:    "dr-osei",
		ActorRole:  actor.RolePhysician,
		ActorOrg:   "st-marys",
		Decision:   dispatch.DecisionAuthorized,
		Status:     dispatch.StatusSuccess,
		Result:     map[string]any{"patient_id": "p-1"},
		StartedAt:  started,
		FinishedAt: started.Add(40 * time.Millisecond),
	}
}

func TestFromOutcome(t *testing.T) {
	out := makeOutcome()
	rec := FromOutcome(out)

	if rec.RequestID != "req-100" || rec.ToolName != "create_patient_record" {
		t.Errorf("identity fields not mapped: %+v", rec)
	}
	if rec.ActorID != "dr-osei" || rec.ActorRole != "physician" || rec.ActorOrg != "st-marys" {
		t.Errorf("actor fields not denormalized: %+v", rec)
	}
	if rec.Decision != "authorized" || rec.Status != "success" {
		t.Errorf("outcome fields not mapped: %+v", rec)
	}
	if !strings.HasPrefix(rec.ResultDigest, "sha256:") {
		t.Errorf("ResultDigest = %q, want sha256 digest instead of raw payload", rec.ResultDigest)
	}
	if rec.FinishedAt.Location() != time.UTC {
		t.Error("times must be normalized to UTC")
	}
}

func TestFromOutcomeFault(t *testing.T) {
	out := makeOutcome()
	out.Status = dispatch.StatusValidationFailure
	out.Result = nil
	out.Fault = &dispatch.Fault{
		Code:    "VALIDATION_FAILURE",
		Message: "input rejected",
		Detail:  []map[string]any{{"path": "/patient_id", "message": "missing"}},
	}

	rec := FromOutcome(out)
	if rec.FaultCode != "VALIDATION_FAILURE" || rec.FaultMessage != "input rejected" {
		t.Errorf("fault not mapped: %+v", rec)
	}
	if rec.FaultDetail == nil {
		t.Fatal("structured fault detail should be preserved")
	}
	var detail []map[string]any
	if err := json.Unmarshal(rec.FaultDetail, &detail); err != nil {
		t.Fatalf("fault detail not valid JSON: %v", err)
	}
	if rec.ResultDigest != "" {
		t.Errorf("no result means no digest, got %q", rec.ResultDigest)
	}
}

func TestResultDigestStability(t *testing.T) {
	a := digest(map[string]any{"b": 2, "a": 1})
	b := digest(map[string]any{"a": 1, "b": 2})
	if a == "" || a != b {
		t.Errorf("digest must be canonical regardless of key order: %q vs %q", a, b)
	}
	c := digest(map[string]any{"a": 1, "b": 3})
	if c == a {
		t.Error("different payloads must not collide")
	}
	if digest(nil) != "" {
		t.Error("nil result digests to empty string")
	}
}

func TestLogRecordSuccess(t *testing.T) {
	rec := FromOutcome(makeOutcome())
	rec.Sequence = 7

	output := captureLog(func(logger *slog.Logger) {
		l := NewLogger(logger, SamplingConfig{SuccessRate: 1.0, FailureRate: 1.0})
		l.LogRecord(context.Background(), rec, false)
	})
	if output == "" {
		t.Fatal("expected log output, got empty string")
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(output), &m); err != nil {
		t.Fatalf("invalid JSON output: %v\noutput: %s", err, output)
	}
	if m["request_id"] != "req-100" {
		t.Errorf("request_id: got %v", m["request_id"])
	}
	if m["level"] != "INFO" {
		t.Errorf("success should log at INFO, got %v", m["level"])
	}
	act, ok := m["actor"].(map[string]any)
	if !ok {
		t.Fatal("missing 'actor' group in log output")
	}
	if act["id"] != "dr-osei" || act["role"] != "physician" {
		t.Errorf("actor group: got %v", act)
	}
}

func TestLogRecordDenied(t *testing.T) {
	out := makeOutcome()
	out.Decision = dispatch.DecisionDenied
	out.Status = dispatch.StatusNone
	out.Result = nil
	out.Fault = &dispatch.Fault{Code: "NOT_AUTHORIZED", Message: "actor is not authorized"}
	rec := FromOutcome(out)

	output := captureLog(func(logger *slog.Logger) {
		l := NewLogger(logger, SamplingConfig{SuccessRate: 0.0, FailureRate: 1.0})
		l.LogRecord(context.Background(), rec, false)
	})
	if output == "" {
		t.Fatal("denials must always be logged at FailureRate=1.0")
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(output), &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["level"] != "WARN" {
		t.Errorf("denial should log at WARN, got %v", m["level"])
	}
	fault, ok := m["fault"].(map[string]any)
	if !ok {
		t.Fatal("missing 'fault' group")
	}
	if fault["code"] != "NOT_AUTHORIZED" {
		t.Errorf("fault.code: got %v", fault["code"])
	}
}

func TestLogRecordSamplingSkip(t *testing.T) {
	rec := FromOutcome(makeOutcome())

	output := captureLog(func(logger *slog.Logger) {
		l := NewLogger(logger, SamplingConfig{SuccessRate: 0.0, FailureRate: 1.0})
		l.LogRecord(context.Background(), rec, false)
	})
	if output != "" {
		t.Errorf("expected no output when sampling skips, got: %s", output)
	}
}

func TestSamplingAlwaysLog(t *testing.T) {
	s := SamplingConfig{SuccessRate: 1.0, FailureRate: 1.0}
	for i := 0; i < 100; i++ {
		if !s.ShouldLog("authorized", "success") {
			t.Fatalf("SuccessRate=1.0 should always log, failed at iteration %d", i)
		}
	}
}

func TestSamplingFailuresAlwaysLog(t *testing.T) {
	s := SamplingConfig{SuccessRate: 0.0, FailureRate: 1.0}
	for i := 0; i < 100; i++ {
		if s.ShouldLog("authorized", "success") {
			t.Fatalf("SuccessRate=0.0 should never log successes, passed at iteration %d", i)
		}
		if !s.ShouldLog("denied", "") {
			t.Fatalf("FailureRate=1.0 should always log denials, failed at iteration %d", i)
		}
		if !s.ShouldLog("authorized", "handler_failure") {
			t.Fatalf("FailureRate=1.0 should always log failures, failed at iteration %d", i)
		}
	}
}

func TestSamplingHalfRate(t *testing.T) {
	s := SamplingConfig{SuccessRate: 0.5, FailureRate: 1.0}
	count := 0
	const n = 1000
	for i := 0; i < n; i++ {
		if s.ShouldLog("authorized", "success") {
			count++
		}
	}
	// Expect roughly 500, allow 400-600 (±20%)
	if count < 400 || count > 600 {
		t.Errorf("SuccessRate=0.5: expected 400-600 logs out of 1000, got %d", count)
	}
}

func TestTruncateDetail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"within limit", "hello", 10, "hello"},
		{"exact limit", "hello", 5, "hello"},
		{"exceeds limit", "hello world", 5, "hello...(truncated)"},
		{"zero max keeps all", "hello world", 0, "hello world"},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateDetail(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rec := Record{
		Sequence:   5,
		ActorID:    "dr-osei",
		ToolName:   "create_patient_record",
		Decision:   "authorized",
		RecordedAt: at,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches", Filter{}, true},
		{"actor match", Filter{ActorID: "dr-osei"}, true},
		{"actor mismatch", Filter{ActorID: "other"}, false},
		{"tool match", Filter{ToolName: "create_patient_record"}, true},
		{"tool mismatch", Filter{ToolName: "other"}, false},
		{"decision mismatch", Filter{Decision: "denied"}, false},
		{"since before", Filter{Since: at.Add(-time.Hour)}, true},
		{"since after", Filter{Since: at.Add(time.Hour)}, false},
		{"until after", Filter{Until: at.Add(time.Hour)}, true},
		{"until before", Filter{Until: at.Add(-time.Hour)}, false},
		{"after seq below", Filter{AfterSeq: 4}, true},
		{"after seq equal", Filter{AfterSeq: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.matches(rec); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
