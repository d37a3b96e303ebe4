// Package registry implements ThingRegistry, CertificateRegistry, and
// the local/cloud trust model that decides whether a certificate is
// currently attached to a thing.
package registry

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// thingNamePattern is the spec's nonempty-alphanumeric-plus-punctuation
// rule for thing names.
var thingNamePattern = regexp.MustCompile(`^[A-Za-z0-9_:\-]+$`)

// ValidThingName reports whether name is an acceptable thing name.
func ValidThingName(name string) bool {
	return thingNamePattern.MatchString(name)
}

// Attachment records that a certificate was, as of LastAttached, bound
// to a thing. A thing may hold attachments for more than one
// certificate across its lifetime (e.g. across a cert rotation).
type Attachment struct {
	CertificateID string
	LastAttached  time.Time
}

// Thing is a cloud-registered identity and its locally observed
// certificate attachments.
type Thing struct {
	name string

	mu          sync.RWMutex
	attachments map[string]Attachment
}

// Name returns the thing's name.
func (t *Thing) Name() string { return t.name }

// Attach records certID as attached to t as of now, overwriting any
// prior attachment for the same certificate id.
func (t *Thing) Attach(certID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attachments[certID] = Attachment{CertificateID: certID, LastAttached: now}
}

// LocalAttachment returns the locally recorded attachment for certID,
// if any exists (independent of whether it is currently trusted).
func (t *Thing) LocalAttachment(certID string) (Attachment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.attachments[certID]
	return a, ok
}

// ThingRegistry is the in-memory set of known Things, keyed by name.
type ThingRegistry struct {
	mu     sync.RWMutex
	things map[string]*Thing
}

// NewThingRegistry creates an empty registry.
func NewThingRegistry() *ThingRegistry {
	return &ThingRegistry{things: make(map[string]*Thing)}
}

// GetOrCreate returns the Thing named name, creating it if it does not
// yet exist. Fails if name does not match the thing-name pattern.
func (r *ThingRegistry) GetOrCreate(name string) (*Thing, error) {
	if !ValidThingName(name) {
		return nil, fmt.Errorf("registry: invalid thing name %q", name)
	}

	r.mu.RLock()
	if t, ok := r.things[name]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.things[name]; ok {
		return t, nil
	}
	t := &Thing{name: name, attachments: make(map[string]Attachment)}
	r.things[name] = t
	return t, nil
}

// Get returns the Thing named name without creating it.
func (r *ThingRegistry) Get(name string) (*Thing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.things[name]
	return t, ok
}

// Names returns every currently known thing name, in no particular
// order; used by internal/attributes to drive its periodic refresh.
func (r *ThingRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.things))
	for name := range r.things {
		names = append(names, name)
	}
	return names
}
