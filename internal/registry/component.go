package registry

import "github.com/edgecore/cda/internal/common"

// ComponentRegistry recognizes the client ids of locally-installed
// components, which authenticate without a device certificate and
// bypass thing/cert attachment checks entirely (spec §4.11 step 3).
type ComponentRegistry struct {
	names common.StringSet
}

// NewComponentRegistry seeds the registry with the component client ids
// known at process start.
func NewComponentRegistry(clientIDs ...string) *ComponentRegistry {
	return &ComponentRegistry{names: common.NewStringSet(clientIDs...)}
}

// IsComponent reports whether clientID names a registered component.
func (r *ComponentRegistry) IsComponent(clientID string) bool {
	return r.names.Contains(clientID)
}

// Register adds clientID to the set of recognized components.
func (r *ComponentRegistry) Register(clientID string) {
	r.names.Add(clientID)
}
