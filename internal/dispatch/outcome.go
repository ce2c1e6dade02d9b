// Package dispatch implements the authorization and execution core: resolve
// the tool, check the actor's capabilities, validate input, invoke the
// handler, and durably audit the outcome before the caller is released.
package dispatch

import (
	"context"
	"time"

	"github.com/cliniguard/cliniguard/internal/actor"
)

// Decision is the authorization verdict for one dispatch.
type Decision string

const (
	DecisionAuthorized Decision = "authorized"
	DecisionDenied     Decision = "denied"
)

// Status classifies how an authorized (or unresolvable) dispatch ended. The
// zero value means no status applies: a permission denial terminates before
// any of these stages.
type Status string

const (
	StatusNone              Status = ""
	StatusSuccess           Status = "success"
	StatusHandlerFailure    Status = "handler_failure"
	StatusValidationFailure Status = "validation_failure"
	StatusNotFound          Status = "not_found"
)

// Fault is the opaque failure payload carried by non-success outcomes. Detail
// holds structured data (validation issues, timeout causes) that the
// dispatcher passes through without interpreting.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Request is one tool invocation. Actor must arrive fully formed from an
// identity provider; the dispatcher performs no credential validation. An
// empty RequestID is replaced with a generated one so the audit trail always
// has a correlation key.
type Request struct {
	ToolName  string
	Actor     actor.Actor
	RawArgs   map[string]any
	RequestID string
}

// Outcome is the single result value every dispatch produces. Request-level
// failures (denied, not found, validation, handler) live here as data; only
// system faults travel as errors alongside it.
//
// StartedAt and FinishedAt bracket the handler invocation. When the handler
// never ran StartedAt stays zero and FinishedAt marks outcome completion, so
// audit records stay totally orderable per actor.
type Outcome struct {
	RequestID  string     `json:"request_id"`
	ToolName   string     `json:"tool_name"`
	ActorID    string     `json:"actor_id"`
	ActorRole  actor.Role `json:"actor_role,omitempty"`
	ActorOrg   string     `json:"actor_org,omitempty"`
	Decision   Decision   `json:"decision"`
	Status     Status     `json:"status,omitempty"`
	Result     any        `json:"result,omitempty"`
	Fault      *Fault     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Receipt confirms one durable audit write. Sequence is the store-assigned
// monotonic position; Replayed reports that the request id was already
// recorded and the original record was kept.
type Receipt struct {
	Sequence   uint64    `json:"sequence"`
	RecordID   string    `json:"record_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Replayed   bool      `json:"replayed,omitempty"`
}

// Recorder persists outcomes. Implementations must be append-only and
// idempotent on Outcome.RequestID: re-recording an already-recorded request
// returns the original receipt with Replayed set rather than a second record.
type Recorder interface {
	Record(ctx context.Context, o Outcome) (Receipt, error)
}

// Observer receives one callback per sealed dispatch, after the audit write
// succeeded. HandlerDuration is zero when the handler never ran.
type Observer interface {
	ObserveDispatch(toolName string, decision Decision, status Status, handlerDuration time.Duration)
}
