// Package errors defines the gateway error catalog. Every error carries a
// stable machine-readable code so automated callers can distinguish
// "retry won't help" (denials, configuration errors) from transient faults,
// plus a Hint and DocsURL for operator guidance.
package errors

import "fmt"

// GatewayError is the base error type for all gateway errors. Status is the
// HTTP status used by the serving surface; Code is the stable identifier
// surfaced to callers and kept in audit fault details.
type GatewayError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	DocsURL string `json:"docs_url,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("[%s] %s (hint: %s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Predefined errors. Registration-time errors (duplicate tool, invalid
// descriptor, invalid permission pattern) are fatal at startup and never
// surface mid-dispatch; request-level outcomes travel inside DispatchOutcome,
// not as errors. Only system faults (missing actor, audit write) escalate out
// of a dispatch.
var (
	ErrAuthRequired      = &GatewayError{Status: 401, Code: "AUTH_REQUIRED", Message: "Authentication required", Hint: "Set Authorization header 'Bearer <token>' or supply actor_reference", DocsURL: "https://cliniguard.dev/docs/identity"}
	ErrAuthentication    = &GatewayError{Status: 401, Code: "AUTH_FAILED", Message: "Authentication failed", Hint: "Check credential validity, token expiry and issuer", DocsURL: "https://cliniguard.dev/docs/identity"}
	ErrNotAuthorized     = &GatewayError{Status: 403, Code: "NOT_AUTHORIZED", Message: "Actor is not authorized for this tool", Hint: "The actor's permission set does not cover the tool's required permission. Retrying will not help", DocsURL: "https://cliniguard.dev/docs/permissions"}
	ErrToolNotFound      = &GatewayError{Status: 404, Code: "TOOL_NOT_FOUND", Message: "No tool registered under that name", Hint: "List available tools with GET /v1/tools", DocsURL: "https://cliniguard.dev/docs/registry"}
	ErrDuplicateTool     = &GatewayError{Status: 409, Code: "DUPLICATE_TOOL", Message: "Tool name already registered", Hint: "Tool names are unique; the original descriptor is kept unchanged", DocsURL: "https://cliniguard.dev/docs/registry"}
	ErrInvalidDescriptor = &GatewayError{Status: 400, Code: "INVALID_DESCRIPTOR", Message: "Tool descriptor is invalid", Hint: "A descriptor needs a name, a handler and an input contract", DocsURL: "https://cliniguard.dev/docs/registry"}
	ErrInvalidPermission = &GatewayError{Status: 400, Code: "INVALID_PERMISSION", Message: "Malformed permission pattern", Hint: "Permissions have the form 'resource:action' with '*' allowed per segment", DocsURL: "https://cliniguard.dev/docs/permissions"}
	ErrValidation        = &GatewayError{Status: 400, Code: "VALIDATION_FAILED", Message: "Arguments rejected by the tool's input contract", Hint: "Check the tool's input_contract_summary in GET /v1/tools", DocsURL: "https://cliniguard.dev/docs/contracts"}
	ErrMissingActor      = &GatewayError{Status: 500, Code: "MISSING_ACTOR", Message: "Dispatch reached without a resolved actor", Hint: "The identity provider must supply a fully-formed actor before dispatch", DocsURL: "https://cliniguard.dev/docs/identity"}
	ErrAuditWrite        = &GatewayError{Status: 503, Code: "AUDIT_WRITE_FAILED", Message: "Outcome could not be durably recorded", Hint: "The handler may have executed; retry with the same request_id for an idempotent audit write", DocsURL: "https://cliniguard.dev/docs/audit"}
	ErrRateLimited       = &GatewayError{Status: 429, Code: "RATE_LIMITED", Message: "Rate limit exceeded", Hint: "Wait before retrying. Configure rate_limit in cliniguard.yaml", DocsURL: "https://cliniguard.dev/docs/rate-limit"}
	ErrBadRequest        = &GatewayError{Status: 400, Code: "BAD_REQUEST", Message: "Invalid request format", Hint: "The call body needs tool_name plus optional arguments, actor_reference, request_id, deadline", DocsURL: "https://cliniguard.dev/docs/api"}
	ErrCapacity          = &GatewayError{Status: 503, Code: "CAPACITY", Message: "Gateway capacity reached", Hint: "Gateway is at maximum load. Try again shortly", DocsURL: "https://cliniguard.dev/docs/limits"}
)
