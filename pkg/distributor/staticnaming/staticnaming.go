// Package staticnaming backs distributor.AgentNamingService with an
// in-memory component registry: agents register their capabilities on
// RegisterAgent and are resolved back to a display name and queried by
// capability, mirroring a lightweight service-discovery registry. There is
// no ecosystem client library for a registry this bespoke, so it is kept on
// the standard library rather than reaching for an unrelated dependency.
package staticnaming

import (
	"sort"
	"sync"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/distributor"
)

type record struct {
	name         string
	capabilities []string
}

// Registry is an in-memory, process-local AgentNamingService.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]record
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]record)}
}

var _ distributor.AgentNamingService = (*Registry)(nil)

// Register records agentID's capabilities, defaulting its display name to
// agentID itself. A second Register for the same agentID replaces its
// capability set but preserves any name set by Rename.
func (r *Registry) Register(agentID string, capabilities []string) error {
	if agentID == "" {
		return awcperrors.New(awcperrors.InvalidArgument, "agentID must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.entries[agentID]
	name := agentID
	if ok && existing.name != "" {
		name = existing.name
	}
	r.entries[agentID] = record{name: name, capabilities: append([]string(nil), capabilities...)}
	return nil
}

// Resolve returns agentID's display name, or ok=false if it was never
// registered.
func (r *Registry) Resolve(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Rename overrides a registered agent's display name.
func (r *Registry) Rename(agentID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return awcperrors.New(awcperrors.NotFound, "unknown agent: "+agentID)
	}
	e.name = name
	r.entries[agentID] = e
	return nil
}

// ListByCapability returns the sorted IDs of every registered agent that
// advertises capability.
func (r *Registry) ListByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for agentID, e := range r.entries {
		for _, c := range e.capabilities {
			if c == capability {
				out = append(out, agentID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Remove drops agentID from the registry.
func (r *Registry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, agentID)
}
