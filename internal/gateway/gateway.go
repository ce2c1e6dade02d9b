// Package gateway is the HTTP/JSON serving surface: credential extraction,
// identity resolution, per-actor rate limiting and the discovery endpoint.
// Authorization itself lives in the dispatcher; the gateway never consults
// permissions.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cliniguard/cliniguard/internal/audit"
	"github.com/cliniguard/cliniguard/internal/ctxkeys"
	"github.com/cliniguard/cliniguard/internal/dispatch"
	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
	"github.com/cliniguard/cliniguard/internal/identity"
	"github.com/cliniguard/cliniguard/internal/registry"
)

const defaultMaxBodySize = 1 << 20

// Options tunes a Gateway. The zero value is valid: no rate limiting, no
// metrics, default body cap.
type Options struct {
	Limiter     *ActorRateLimiter
	Metrics     *audit.Metrics
	MaxBodySize int64
}

// Gateway serves the tool invocation and discovery endpoints.
type Gateway struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	provider   identity.Provider
	logger     *slog.Logger
	limiter    *ActorRateLimiter
	metrics    *audit.Metrics
	maxBody    int64
}

// New builds a Gateway. Registry, dispatcher and provider are required.
func New(reg *registry.Registry, d *dispatch.Dispatcher, provider identity.Provider, logger *slog.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	return &Gateway{
		registry:   reg,
		dispatcher: d,
		provider:   provider,
		logger:     logger.With("component", "gateway"),
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		maxBody:    opts.MaxBodySize,
	}
}

// Routes registers the gateway endpoints on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tools/call", g.handleCall)
	mux.HandleFunc("GET /v1/tools", g.handleList)
}

// callRequest is the invocation body. Unknown top-level fields are tolerated;
// arguments are an open object validated by the tool's contract, not here.
type callRequest struct {
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments"`
	ActorReference string         `json:"actor_reference"`
	RequestID      string         `json:"request_id"`
	Deadline       string         `json:"deadline"` // RFC 3339, optional
}

// callResponse renders one dispatch outcome. Every request-level outcome,
// denials and misses included, is HTTP 200: the dispatch itself succeeded.
type callResponse struct {
	RequestID string            `json:"request_id"`
	ToolName  string            `json:"tool_name"`
	Decision  dispatch.Decision `json:"decision"`
	Status    dispatch.Status   `json:"status,omitempty"`
	Result    any               `json:"result,omitempty"`
	Error     *dispatch.Fault   `json:"error,omitempty"`
}

func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.maxBody)

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gwerrors.WriteHTTPError(w, fmt.Errorf("%w: %v", gwerrors.ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.ToolName) == "" {
		gwerrors.WriteHTTPError(w, fmt.Errorf("%w: tool_name is required", gwerrors.ErrBadRequest))
		return
	}

	authInfo, ok := extractCredential(r, req.ActorReference)
	if !ok {
		if g.metrics != nil {
			g.metrics.RecordAuthFailure("missing_credential")
		}
		gwerrors.WriteHTTPError(w, gwerrors.ErrAuthRequired)
		return
	}
	ctx := ctxkeys.WithAuthInfo(r.Context(), authInfo)

	act, err := g.provider.Resolve(ctx, authInfo.Credential)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordAuthFailure("resolve_failed")
		}
		g.logger.Warn("identity resolution failed",
			"scheme", authInfo.Scheme,
			"client_ip", clientIPFrom(ctx),
			"error", err,
		)
		gwerrors.WriteHTTPError(w, err)
		return
	}

	if g.limiter != nil && !g.limiter.Allow(act.ID) {
		if g.metrics != nil {
			g.metrics.RecordRateLimitHit("actor", string(act.Role))
		}
		gwerrors.WriteHTTPError(w, gwerrors.ErrRateLimited)
		return
	}

	if req.Deadline != "" {
		deadline, perr := time.Parse(time.RFC3339, req.Deadline)
		if perr != nil {
			gwerrors.WriteHTTPError(w, fmt.Errorf("%w: deadline: %v", gwerrors.ErrBadRequest, perr))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	out, err := g.dispatcher.Dispatch(ctx, dispatch.Request{
		ToolName:  req.ToolName,
		Actor:     act,
		RawArgs:   req.Arguments,
		RequestID: req.RequestID,
	})
	if err != nil {
		// System fault: the outcome guarantees could not be met. The fault kind
		// picks the status (503 audit write, 500 missing actor).
		g.logger.Error("dispatch system fault",
			"request_id", out.RequestID,
			"tool", req.ToolName,
			"actor_id", act.ID,
			"error", err,
		)
		gwerrors.WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, callResponse{
		RequestID: out.RequestID,
		ToolName:  out.ToolName,
		Decision:  out.Decision,
		Status:    out.Status,
		Result:    out.Result,
		Error:     out.Fault,
	})
}

// toolInfo is one discovery entry.
type toolInfo struct {
	Name                 string `json:"name"`
	Category             string `json:"category"`
	Version              string `json:"version,omitempty"`
	RequiredPermission   string `json:"required_permission,omitempty"`
	Public               bool   `json:"public"`
	InputContractSummary string `json:"input_contract_summary"`
	Description          string `json:"description,omitempty"`
}

// handleList serves tool discovery. Discovery is never gated; only invocation
// requires authorization.
func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	var descs []registry.Descriptor
	if category := r.URL.Query().Get("category"); category != "" {
		descs = g.registry.ListByCategory(category)
	} else {
		descs = g.registry.ListAll()
	}

	tools := make([]toolInfo, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, toolInfo{
			Name:                 d.Name,
			Category:             d.Category,
			Version:              d.Version,
			RequiredPermission:   d.RequiredPermission,
			Public:               d.Public(),
			InputContractSummary: d.Contract.Summary(),
			Description:          d.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// extractCredential prefers the Authorization header over the body reference.
func extractCredential(r *http.Request, actorReference string) (ctxkeys.AuthInfo, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "bearer") && token != "" {
			return ctxkeys.AuthInfo{Scheme: "bearer", Credential: token}, true
		}
		return ctxkeys.AuthInfo{}, false
	}
	if actorReference != "" {
		return ctxkeys.AuthInfo{Scheme: "reference", Credential: actorReference}, true
	}
	return ctxkeys.AuthInfo{}, false
}

func clientIPFrom(ctx context.Context) string {
	if meta, ok := ctxkeys.RequestMetaFrom(ctx); ok {
		return meta.ClientIP
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors past this point are connection-level; nothing to recover
	_ = json.NewEncoder(w).Encode(v)
}
