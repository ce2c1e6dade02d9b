package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cliniguard/cliniguard/internal/actor"
	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
	"github.com/cliniguard/cliniguard/internal/permission"
	"github.com/cliniguard/cliniguard/internal/registry"
)

const defaultAuditWriteTimeout = 10 * time.Second

// Options tunes a Dispatcher. The zero value is valid.
type Options struct {
	// Observer receives per-dispatch metrics callbacks; nil disables them.
	Observer Observer
	// AuditWriteTimeout bounds the detached audit write. The write runs on a
	// context decoupled from the caller's deadline: a timed-out request must
	// still get its record.
	AuditWriteTimeout time.Duration
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// Dispatcher is the sole authorization enforcement point between inbound
// requests and tool handlers. It is safe for concurrent use; one Dispatch
// call per request, any number in flight.
type Dispatcher struct {
	registry     *registry.Registry
	recorder     Recorder
	logger       *slog.Logger
	observer     Observer
	auditTimeout time.Duration
	now          func() time.Time
}

// New builds a Dispatcher over reg and rec. Both are required; logger may be
// nil for a default.
func New(reg *registry.Registry, rec Recorder, logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AuditWriteTimeout <= 0 {
		opts.AuditWriteTimeout = defaultAuditWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Dispatcher{
		registry:     reg,
		recorder:     rec,
		logger:       logger.With("component", "dispatch"),
		observer:     opts.Observer,
		auditTimeout: opts.AuditWriteTimeout,
		now:          opts.Clock,
	}
}

// Dispatch runs one request through resolution, authorization, validation,
// execution and audit. Request-level failures come back inside the Outcome
// with a nil error; a non-nil error is a system fault (ErrMissingActor,
// ErrAuditWrite) and means the usual guarantees could not be met. Exactly one
// outcome is produced per call and it is durably recorded before return.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
	}
	if out.RequestID == "" {
		out.RequestID = uuid.NewString()
	}
	stampActor(&out, req.Actor)

	// Step 1: resolve the tool. An unknown name is a denied outcome, not an
	// error; unavailable integrations surface exactly this way.
	desc, err := d.registry.Get(req.ToolName)
	if err != nil {
		out.Decision = DecisionDenied
		out.Status = StatusNotFound
		out.Fault = &Fault{
			Code:    gwerrors.ErrToolNotFound.Code,
			Message: fmt.Sprintf("no tool registered under %q", req.ToolName),
		}
		return d.seal(ctx, out, 0)
	}

	// Step 2: require a fully-formed actor. This escalates: identity is the
	// caller's job and reaching dispatch without one is a wiring fault. The
	// attempt is still audited with whatever identity fields exist.
	if err := req.Actor.Validate(); err != nil {
		out.Decision = DecisionDenied
		out.Fault = &Fault{Code: gwerrors.ErrMissingActor.Code, Message: err.Error()}
		sealed, sealErr := d.seal(ctx, out, 0)
		if sealErr != nil {
			return sealed, sealErr
		}
		return sealed, fmt.Errorf("request %s: %w: %v", out.RequestID, gwerrors.ErrMissingActor, err)
	}

	// Step 3: capability check, pure and in-memory. On denial the handler is
	// never invoked, whatever it would have decided itself.
	if !permission.Allows(req.Actor.Permissions, desc.RequiredPermission) {
		out.Decision = DecisionDenied
		out.Fault = &Fault{
			Code:    gwerrors.ErrNotAuthorized.Code,
			Message: fmt.Sprintf("actor %q is not authorized for %q (requires %s)", req.Actor.ID, desc.Name, desc.RequiredPermission),
		}
		return d.seal(ctx, out, 0)
	}
	out.Decision = DecisionAuthorized

	// Step 4: shape check. The actor was allowed to try; a contract violation
	// is a validation outcome, not a policy one.
	validated, err := desc.Contract.Validate(req.RawArgs)
	if err != nil {
		out.Status = StatusValidationFailure
		out.Fault = validationFault(err)
		return d.seal(ctx, out, 0)
	}

	// Step 5: invoke the handler, bracketed by the only timestamps that count
	// for performance accounting.
	out.StartedAt = d.now()
	result, herr := d.invoke(ctx, desc, req.Actor, validated)
	out.FinishedAt = d.now()
	handlerDur := out.FinishedAt.Sub(out.StartedAt)

	if herr != nil {
		out.Status = StatusHandlerFailure
		out.Fault = handlerFault(herr)
	} else {
		out.Status = StatusSuccess
		out.Result = result
	}
	return d.seal(ctx, out, handlerDur)
}

// invoke runs the handler in its own goroutine so a caller deadline seals the
// outcome immediately. The result channel is buffered; a handler finishing
// after the deadline writes into the void instead of leaking.
func (d *Dispatcher) invoke(ctx context.Context, desc registry.Descriptor, act actor.Actor, input map[string]any) (any, error) {
	type handlerResult struct {
		value any
		err   error
	}
	resCh := make(chan handlerResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		v, err := desc.Handler(ctx, act, input)
		resCh <- handlerResult{value: v, err: err}
	}()

	select {
	case res := <-resCh:
		return res.value, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("handler aborted: %w", ctx.Err())
	}
}

// seal stamps completion, writes the audit record and notifies the observer.
// The audit write runs on a detached context: an elapsed caller deadline must
// not prevent the record. A write failure escalates as ErrAuditWrite; the
// caller must never be told the outcome was recorded when it was not.
func (d *Dispatcher) seal(ctx context.Context, out Outcome, handlerDur time.Duration) (Outcome, error) {
	if out.FinishedAt.IsZero() {
		out.FinishedAt = d.now()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.auditTimeout)
	defer cancel()

	receipt, err := d.recorder.Record(auditCtx, out)
	if err != nil {
		d.logger.Error("audit write failed",
			"request_id", out.RequestID,
			"tool", out.ToolName,
			"actor_id", out.ActorID,
			"error", err,
		)
		return out, fmt.Errorf("request %s: %w: %v", out.RequestID, gwerrors.ErrAuditWrite, err)
	}

	if d.observer != nil {
		d.observer.ObserveDispatch(out.ToolName, out.Decision, out.Status, handlerDur)
	}
	d.logger.Debug("dispatch sealed",
		"request_id", out.RequestID,
		"tool", out.ToolName,
		"actor_id", out.ActorID,
		"decision", out.Decision,
		"status", out.Status,
		"sequence", receipt.Sequence,
		"replayed", receipt.Replayed,
	)
	return out, nil
}

func stampActor(out *Outcome, act actor.Actor) {
	out.ActorID = act.ID
	out.ActorRole = act.Role
	out.ActorOrg = act.Organization
}

// validationFault preserves the contract's field-level description opaquely.
func validationFault(err error) *Fault {
	f := &Fault{Code: gwerrors.ErrValidation.Code, Message: "arguments rejected by the tool's input contract"}
	var ve *registry.ValidationError
	if errors.As(err, &ve) {
		f.Detail = ve.Issues
	} else {
		f.Detail = err.Error()
	}
	return f
}

// handlerFault maps a handler error to an opaque fault, distinguishing
// deadline expiry so callers can tell a timeout from a domain failure.
func handlerFault(err error) *Fault {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Fault{Code: "DEADLINE_EXCEEDED", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Fault{Code: "CANCELED", Message: err.Error()}
	default:
		return &Fault{Code: "HANDLER_FAILURE", Message: err.Error()}
	}
}
