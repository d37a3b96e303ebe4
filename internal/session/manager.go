package session

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hashicorp/go-hclog"

	"github.com/google/uuid"

	"github.com/edgecore/cda/internal/metrics"
)

const (
	minCapacity      = 1
	maxCapacity      = 10000
	idCollisionTries = 8
)

func clampCapacity(capacity int) int {
	if capacity < minCapacity {
		return minCapacity
	}
	if capacity > maxCapacity {
		return maxCapacity
	}
	return capacity
}

// Manager is the SessionManager: it dispatches credentials to the
// registered Factory by credential type, assigns each authenticated
// Session an opaque id, and holds a bounded LRU of active sessions.
// Looking a session up by id counts as a use for LRU purposes, matching
// "least-recently-looked-up" eviction.
type Manager struct {
	logger hclog.Logger

	mu        sync.Mutex
	factories map[string]Factory
	cache     *lru.Cache
	byClient  map[string]string // clientKey -> session id, for re-auth replacement
}

// credentialType maps a Credentials value to the factory key registered
// for it; adding a new credential type means adding a case here and
// calling RegisterFactory with the same key.
func credentialType(credentials Credentials) (string, error) {
	switch credentials.(type) {
	case MQTTCredentials:
		return "mqtt", nil
	default:
		return "", fmt.Errorf("session: unrecognized credential type %T", credentials)
	}
}

// NewManager builds a Manager with a capacity clamped to [1, 10000].
func NewManager(logger hclog.Logger, capacity int) (*Manager, error) {
	m := &Manager{
		logger:    logger,
		factories: make(map[string]Factory),
		byClient:  make(map[string]string),
	}

	cache, err := lru.NewWithEvict(clampCapacity(capacity), m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session: failed to construct cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// onEvict runs under the lru.Cache's own lock; it must not re-enter the
// cache, so it only cleans up the clientKey side index.
func (m *Manager) onEvict(key interface{}, value interface{}) {
	sess, ok := value.(*Session)
	if !ok || sess.clientKey == "" {
		return
	}
	m.mu.Lock()
	if m.byClient[sess.clientKey] == sess.id {
		delete(m.byClient, sess.clientKey)
	}
	m.mu.Unlock()
}

// RegisterFactory associates a credential type key (e.g. "mqtt") with
// the Factory that authenticates it.
func (m *Manager) RegisterFactory(credentialType string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[credentialType] = factory
}

// CreateSession authenticates credentials via the matching Factory,
// replacing any prior session for the same client (same certificate and
// client id), and installs the new Session under a freshly generated
// opaque id.
func (m *Manager) CreateSession(ctx context.Context, credentials Credentials) (*Session, error) {
	kind, err := credentialType(credentials)
	if err != nil {
		return nil, &AuthenticationError{Message: err.Error()}
	}

	m.mu.Lock()
	factory, ok := m.factories[kind]
	m.mu.Unlock()
	if !ok {
		metrics.Registry.IncrCounter(metrics.SessionCreationFailure, 1)
		return nil, authErrorf("no session factory registered for credential type %q", kind)
	}

	authenticated, err := factory.Authenticate(ctx, credentials)
	if err != nil {
		metrics.Registry.IncrCounter(metrics.SessionCreationFailure, 1)
		return nil, err
	}

	id, err := m.allocateID()
	if err != nil {
		metrics.Registry.IncrCounter(metrics.SessionCreationFailure, 1)
		return nil, &AuthenticationError{Message: "failed to allocate session id", Cause: err}
	}
	sess := newSession(id, authenticated.attrs, authenticated.clientKey)

	m.mu.Lock()
	var priorID string
	if sess.clientKey != "" {
		priorID = m.byClient[sess.clientKey]
		m.byClient[sess.clientKey] = sess.id
	}
	m.mu.Unlock()

	// m.byClient already points at sess.id by the time this runs, so
	// onEvict's own check (byClient[clientKey] == evicted id) is false
	// for the prior session and leaves the new mapping alone. Removing
	// here, after releasing m.mu, avoids re-entering the non-reentrant
	// mutex from onEvict, which golang-lru invokes synchronously.
	if priorID != "" {
		m.cache.Remove(priorID)
	}

	m.cache.Add(sess.id, sess)
	metrics.Registry.IncrCounter(metrics.SessionCreationSuccess, 1)
	metrics.Registry.SetGauge(metrics.SessionsActive, float32(m.cache.Len()))
	return sess, nil
}

// allocateID draws a fresh opaque session id, retrying on the
// astronomically unlikely event of a UUID collision with a still-live
// session.
func (m *Manager) allocateID() (string, error) {
	for i := 0; i < idCollisionTries; i++ {
		id := uuid.NewString()
		m.mu.Lock()
		_, exists := m.cache.Peek(id)
		m.mu.Unlock()
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique session id after %d attempts", idCollisionTries)
}

// FindSession looks a session up by id; a hit counts as a use for LRU
// eviction purposes.
func (m *Manager) FindSession(id string) (*Session, bool) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// CloseSession removes a session immediately, e.g. on MQTT disconnect.
func (m *Manager) CloseSession(id string) {
	m.cache.Remove(id)
	metrics.Registry.SetGauge(metrics.SessionsActive, float32(m.cache.Len()))
}

// Len reports the number of currently active sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}
