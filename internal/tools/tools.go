// Package tools ships the built-in tool descriptors: system introspection for
// agent callers and the compliance read path over the audit store. Clinical
// tools come from integrations and are registered by the composition root
// alongside these.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cliniguard/cliniguard/internal/actor"
	"github.com/cliniguard/cliniguard/internal/audit"
	"github.com/cliniguard/cliniguard/internal/registry"
)

// Register adds every built-in tool to reg. The audit tools read from store;
// registration fails only on programming errors (bad schema, duplicate name).
func Register(reg *registry.Registry, store audit.Store) error {
	descriptors := []registry.Descriptor{
		pingDescriptor(),
		whoamiDescriptor(),
		catalogDescriptor(reg),
		auditQueryDescriptor(store),
		auditVerifyDescriptor(store),
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("registering built-in tool %q: %w", d.Name, err)
		}
	}
	return nil
}

func mustContract(name, summary, schema string) *registry.SchemaContract {
	c, err := registry.NewSchemaContract(name, summary, []byte(schema))
	if err != nil {
		panic(fmt.Sprintf("built-in contract %q: %v", name, err))
	}
	return c
}

func pingDescriptor() registry.Descriptor {
	contract := mustContract("system.ping", "optional message to echo", `{
		"type": "object",
		"properties": {
			"message": {"type": "string", "maxLength": 1024}
		},
		"additionalProperties": false
	}`)
	return registry.Descriptor{
		Name:        "system.ping",
		Category:    "system",
		Version:     "1.0.0",
		Description: "Echoes an optional message with the server time.",
		Contract:    contract,
		Handler: func(_ context.Context, _ actor.Actor, input map[string]any) (any, error) {
			out := map[string]any{"server_time": time.Now().UTC().Format(time.RFC3339Nano)}
			if msg, ok := input["message"].(string); ok {
				out["message"] = msg
			}
			return out, nil
		},
	}
}

func whoamiDescriptor() registry.Descriptor {
	contract := mustContract("system.whoami", "no arguments", `{
		"type": "object",
		"additionalProperties": false
	}`)
	return registry.Descriptor{
		Name:        "system.whoami",
		Category:    "system",
		Version:     "1.0.0",
		Description: "Returns the calling actor's identity and permission grants.",
		Contract:    contract,
		Handler: func(_ context.Context, act actor.Actor, _ map[string]any) (any, error) {
			return map[string]any{
				"id":           act.ID,
				"role":         string(act.Role),
				"organization": act.Organization,
				"permissions":  act.Permissions,
			}, nil
		},
	}
}

func catalogDescriptor(reg *registry.Registry) registry.Descriptor {
	contract := mustContract("system.catalog", "optional category filter", `{
		"type": "object",
		"properties": {
			"category": {"type": "string"}
		},
		"additionalProperties": false
	}`)
	return registry.Descriptor{
		Name:        "system.catalog",
		Category:    "system",
		Version:     "1.0.0",
		Description: "Enumerates registered tools, same shape as the discovery endpoint.",
		Contract:    contract,
		Handler: func(_ context.Context, _ actor.Actor, input map[string]any) (any, error) {
			var descs []registry.Descriptor
			if category, ok := input["category"].(string); ok && category != "" {
				descs = reg.ListByCategory(category)
			} else {
				descs = reg.ListAll()
			}
			tools := make([]map[string]any, 0, len(descs))
			for _, d := range descs {
				tools = append(tools, map[string]any{
					"name":                   d.Name,
					"category":               d.Category,
					"version":                d.Version,
					"required_permission":    d.RequiredPermission,
					"public":                 d.Public(),
					"input_contract_summary": d.Contract.Summary(),
					"description":            d.Description,
				})
			}
			return map[string]any{"tools": tools}, nil
		},
	}
}

func auditQueryDescriptor(store audit.Store) registry.Descriptor {
	contract := mustContract("audit.query", "actor/tool/decision/time-range/limit filters", `{
		"type": "object",
		"properties": {
			"actor_id":  {"type": "string"},
			"tool_name": {"type": "string"},
			"decision":  {"type": "string", "enum": ["authorized", "denied"]},
			"since":     {"type": "string", "format": "date-time"},
			"until":     {"type": "string", "format": "date-time"},
			"after_seq": {"type": "integer", "minimum": 0},
			"limit":     {"type": "integer", "minimum": 1, "maximum": 1000}
		},
		"additionalProperties": false
	}`)
	return registry.Descriptor{
		Name:               "audit.query",
		Category:           "audit",
		Version:            "1.0.0",
		Description:        "Queries the audit trail. Compliance read path; the trail itself is append-only.",
		RequiredPermission: "audit:read",
		Contract:           contract,
		Handler: func(ctx context.Context, _ actor.Actor, input map[string]any) (any, error) {
			f, err := filterFromInput(input)
			if err != nil {
				return nil, err
			}
			records, err := store.Query(ctx, f)
			if err != nil {
				return nil, fmt.Errorf("audit query: %w", err)
			}
			return map[string]any{"records": records, "count": len(records)}, nil
		},
	}
}

func auditVerifyDescriptor(store audit.Store) registry.Descriptor {
	contract := mustContract("audit.verify", "no arguments", `{
		"type": "object",
		"additionalProperties": false
	}`)
	return registry.Descriptor{
		Name:               "audit.verify",
		Category:           "audit",
		Version:            "1.0.0",
		Description:        "Walks the audit hash chain and reports the verified record count.",
		RequiredPermission: "audit:read",
		Contract:           contract,
		Handler: func(ctx context.Context, _ actor.Actor, _ map[string]any) (any, error) {
			verified, err := store.VerifyChain(ctx)
			if err != nil {
				return map[string]any{"verified": verified, "intact": false, "error": err.Error()}, nil
			}
			return map[string]any{"verified": verified, "intact": true}, nil
		},
	}
}

// filterFromInput maps schema-validated arguments onto an audit filter.
// Numbers arrive as json float64; times as RFC 3339 strings.
func filterFromInput(input map[string]any) (audit.Filter, error) {
	var f audit.Filter
	if v, ok := input["actor_id"].(string); ok {
		f.ActorID = v
	}
	if v, ok := input["tool_name"].(string); ok {
		f.ToolName = v
	}
	if v, ok := input["decision"].(string); ok {
		f.Decision = v
	}
	if v, ok := input["since"].(string); ok {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since: %w", err)
		}
		f.Since = t
	}
	if v, ok := input["until"].(string); ok {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("until: %w", err)
		}
		f.Until = t
	}
	if v, ok := input["after_seq"].(float64); ok {
		f.AfterSeq = uint64(v)
	}
	if v, ok := input["limit"].(float64); ok {
		f.Limit = int(v)
	}
	return f, nil
}
