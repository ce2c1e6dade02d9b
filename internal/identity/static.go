package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cliniguard/cliniguard/internal/actor"
	"github.com/cliniguard/cliniguard/internal/config"
	gatewayerrors "github.com/cliniguard/cliniguard/internal/errors"
	"github.com/cliniguard/cliniguard/internal/permission"
)

// staticEntry pairs a directory actor with its optional shared token.
type staticEntry struct {
	actor actor.Actor
	token string
}

// StaticProvider resolves credentials against a fixed actor directory built
// from configuration (inline actors plus an optional directory file). The
// credential is either the bare actor id, or "id@token" when the directory
// entry carries a token. Implements config.Reloadable so directory edits
// apply without a restart.
type StaticProvider struct {
	mu      sync.RWMutex
	entries map[string]staticEntry
	logger  *slog.Logger
}

// NewStaticProvider builds the directory from cfg. Malformed entries (unknown
// role, bad permission pattern, duplicate id) fail construction; the caller
// should treat this as a startup error.
func NewStaticProvider(cfg config.StaticIdentityConfig, logger *slog.Logger) (*StaticProvider, error) {
	entries, err := buildDirectory(cfg)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{entries: entries, logger: logger}, nil
}

// Resolve looks the credential up in the directory. Token-protected entries
// require the "id@token" form with a matching token; tokenless entries accept
// the bare id only.
func (p *StaticProvider) Resolve(_ context.Context, credential string) (actor.Actor, error) {
	id, token, hasToken := strings.Cut(credential, "@")

	p.mu.RLock()
	entry, ok := p.entries[id]
	p.mu.RUnlock()

	if !ok {
		return actor.Actor{}, fmt.Errorf("%w: unknown actor %q", gatewayerrors.ErrAuthentication, id)
	}

	if entry.token != "" {
		if !hasToken || subtle.ConstantTimeCompare([]byte(token), []byte(entry.token)) != 1 {
			return actor.Actor{}, fmt.Errorf("%w: token mismatch for actor %q", gatewayerrors.ErrAuthentication, id)
		}
	} else if hasToken {
		return actor.Actor{}, fmt.Errorf("%w: actor %q does not use a token", gatewayerrors.ErrAuthentication, id)
	}

	return entry.actor.Clone(), nil
}

// OnConfigReload rebuilds the directory from the new config. On error the old
// directory stays in place.
func (p *StaticProvider) OnConfigReload(newCfg *config.Config) error {
	entries, err := buildDirectory(newCfg.Identity.Static)
	if err != nil {
		return fmt.Errorf("rebuilding actor directory: %w", err)
	}

	p.mu.Lock()
	old := len(p.entries)
	p.entries = entries
	p.mu.Unlock()

	p.logger.Info("actor directory reloaded", "actors", len(entries), "previous", old)
	return nil
}

// Len returns the number of actors in the directory.
func (p *StaticProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// directoryFile is the shape of an external actor directory YAML file.
type directoryFile struct {
	Actors []config.ActorConfig `yaml:"actors"`
}

func buildDirectory(cfg config.StaticIdentityConfig) (map[string]staticEntry, error) {
	all := make([]config.ActorConfig, 0, len(cfg.Actors))
	all = append(all, cfg.Actors...)

	if cfg.Directory != "" {
		data, err := os.ReadFile(cfg.Directory)
		if err != nil {
			return nil, fmt.Errorf("reading actor directory file: %w", err)
		}
		var df directoryFile
		if err := yaml.Unmarshal(data, &df); err != nil {
			return nil, fmt.Errorf("parsing actor directory file %q: %w", cfg.Directory, err)
		}
		all = append(all, df.Actors...)
	}

	entries := make(map[string]staticEntry, len(all))
	for _, ac := range all {
		role, err := actor.ParseRole(ac.Role)
		if err != nil {
			return nil, fmt.Errorf("actor %q: %w", ac.ID, err)
		}
		for _, perm := range ac.Permissions {
			if err := permission.ValidatePattern(perm); err != nil {
				return nil, fmt.Errorf("actor %q: permission %q: %w", ac.ID, perm, err)
			}
		}
		a := actor.Actor{
			ID:           ac.ID,
			Role:         role,
			Organization: ac.Organization,
			Permissions:  append([]string(nil), ac.Permissions...),
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := entries[a.ID]; dup {
			return nil, fmt.Errorf("duplicate actor id %q in directory", a.ID)
		}
		entries[a.ID] = staticEntry{actor: a, token: ac.Token}
	}
	return entries, nil
}
