// Package certmgr implements CertificateManager: it tracks subscriptions
// for certificate updates, issues leaves against the current CA, and
// fans renewed material out to subscribers on CA change, connectivity
// change, or per-subscription expiry.
package certmgr

import (
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/edgecore/cda/internal/ca"
	"github.com/edgecore/cda/internal/common"
	"github.com/edgecore/cda/internal/eventbus"
	"github.com/edgecore/cda/internal/keystore"
	"github.com/edgecore/cda/internal/metrics"
)

// Kind selects the leaf profile a Generator renews.
type Kind int

const (
	Server Kind = iota
	Client
)

func (k Kind) profile() ca.LeafProfile {
	if k == Server {
		return ca.ServerProfile
	}
	return ca.ClientProfile
}

// Material is what a subscriber's callback receives on every issuance:
// the freshly issued leaf and the current CA chain (today, always a
// single self-signed PEM).
type Material struct {
	Leaf    *ca.KeyPair
	CAChain []string
}

// SubscribeRequest describes a caller's renewal subscription.
type SubscribeRequest struct {
	ServiceID  string
	Kind       Kind
	CommonName string
	Callback   func(Material)
}

// Handle is the opaque token returned by Subscribe; pass it to
// Unsubscribe to cancel a subscription.
type Handle uint64

// failureRetryDelay is how soon a generator retries after a failed
// reissuance; deliberately short of the generator's normal renewal
// fraction so the next trigger is "soon", not "never".
const failureRetryDelay = 30 * time.Second

type generator struct {
	handle     Handle
	serviceID  string
	kind       Kind
	commonName string
	callback   func(Material)

	mu         sync.Mutex // serializes reissuance for this generator only
	lastIssued *ca.KeyPair
	timer      *time.Timer
}

// Manager owns the set of generators and the CA they renew against.
type Manager struct {
	logger hclog.Logger
	bus    *eventbus.Bus
	store  *keystore.Store

	leafLifetime    time.Duration
	renewalFraction float64

	mu         sync.RWMutex
	generators map[Handle]*generator
	hosts      []string // cached server SANs, updated on ConnectivityChanged

	nextHandle uint64
}

// New wires a Manager to store and bus, and registers the
// ConnectivityChanged listener that drives server-generator rotation.
// leafLifetime and renewalFraction configure when a generator schedules
// its own renewal: at issuedAt + leafLifetime*renewalFraction.
func New(logger hclog.Logger, bus *eventbus.Bus, store *keystore.Store, leafLifetime time.Duration, renewalFraction float64) *Manager {
	m := &Manager{
		logger:          logger.Named("certmgr"),
		bus:             bus,
		store:           store,
		leafLifetime:    leafLifetime,
		renewalFraction: renewalFraction,
		generators:      make(map[Handle]*generator),
	}
	bus.Register(eventbus.ConnectivityChanged{}.Class(), eventbus.ListenerFunc(m.onConnectivityChanged))
	return m
}

func (m *Manager) onConnectivityChanged(event eventbus.Event) eventbus.Result {
	changed, ok := event.(eventbus.ConnectivityChanged)
	if !ok {
		return eventbus.Result{}
	}

	// Deduplicate and sort so the server leaf's SAN ordering is
	// deterministic across rotations regardless of the order the
	// shadow resolver happened to return hosts in.
	m.mu.Lock()
	m.hosts = common.NewStringSet(changed.Hosts...).Slice()
	m.mu.Unlock()

	if err := m.rotate(Server); err != nil {
		return eventbus.Result{Cause: err}
	}
	return eventbus.Result{}
}

// Subscribe immediately issues a certificate, invokes callback with it,
// and registers the subscription for future rotation. Per spec, repeated
// subscriptions with identical options each issue a fresh leaf: there is
// no deduplication by (serviceID, kind, commonName).
func (m *Manager) Subscribe(req SubscribeRequest) (Handle, error) {
	handle := Handle(atomic.AddUint64(&m.nextHandle, 1))
	g := &generator{
		handle:     handle,
		serviceID:  req.ServiceID,
		kind:       req.Kind,
		commonName: req.CommonName,
		callback:   req.Callback,
	}

	m.mu.Lock()
	m.generators[handle] = g
	m.mu.Unlock()

	if err := m.issue(g); err != nil {
		m.mu.Lock()
		delete(m.generators, handle)
		m.mu.Unlock()
		return 0, err
	}

	m.bus.Emit(eventbus.CertificateSubscription{
		Outcome:    eventbus.CertificateSubscriptionSuccess,
		ServiceID:  req.ServiceID,
		CommonName: req.CommonName,
	})
	return handle, nil
}

// Unsubscribe cancels the generator's renewal timer and drops it from
// the manager; it is a no-op on an unknown or already-cancelled handle.
func (m *Manager) Unsubscribe(handle Handle) {
	m.mu.Lock()
	g, ok := m.generators[handle]
	delete(m.generators, handle)
	m.mu.Unlock()

	if ok && g.timer != nil {
		g.timer.Stop()
	}
}

// GetCaCertificates returns one PEM-encoded certificate for the current CA.
func (m *Manager) GetCaCertificates() ([]string, error) {
	pair := m.store.CurrentCA()
	if pair == nil {
		return nil, errors.New("certmgr: no CA has been initialized")
	}
	return []string{encodePEM(pair.DER)}, nil
}

// GenerateCa replaces the CA with a freshly generated one of keyType,
// persists it through store.Adopt under the store's current passphrase,
// then re-issues every registered generator. The passphrase argument is
// not used.
func (m *Manager) GenerateCa(passphrase string, keyType ca.KeyType, commonName string) error {
	pair, err := ca.GenerateCA(keyType, commonName, m.leafLifetime*10)
	if err != nil {
		return fmt.Errorf("certmgr: generating CA: %w", err)
	}
	if err := m.store.Adopt(pair); err != nil {
		return fmt.Errorf("certmgr: persisting CA: %w", err)
	}
	m.bus.Emit(eventbus.CaCertificateChainChanged{PEMs: []string{encodePEM(pair.DER)}})
	return m.rotate(-1) // -1: every kind
}

// ConfigureCustomCa installs an externally-supplied CA key pair (custom-CA
// mode) and re-issues every registered generator against it.
func (m *Manager) ConfigureCustomCa(pair *ca.KeyPair) error {
	if err := m.store.Adopt(pair); err != nil {
		return fmt.Errorf("certmgr: adopting custom CA: %w", err)
	}
	m.bus.Emit(eventbus.CaCertificateChainChanged{PEMs: []string{encodePEM(pair.DER)}})
	return m.rotate(-1)
}

// rotate re-issues every generator whose Kind matches filter; pass -1 to
// match every generator regardless of kind (used on CA replacement).
// Re-issuance runs concurrently across generators; each generator's own
// mutex still serializes its individual issue/callback step. Failures
// are aggregated via multierror.Group rather than short-circuited on
// the first one, so a caller (GenerateCa, ConfigureCustomCa,
// onConnectivityChanged) sees every generator that failed to reissue,
// not just whichever happened to return first.
func (m *Manager) rotate(filter Kind) error {
	m.mu.RLock()
	targets := make([]*generator, 0, len(m.generators))
	for _, g := range m.generators {
		if filter == -1 || g.kind == filter {
			targets = append(targets, g)
		}
	}
	m.mu.RUnlock()

	var group multierror.Group
	for _, g := range targets {
		g := g
		group.Go(func() error {
			return m.issue(g)
		})
	}
	return group.Wait().ErrorOrNil()
}

// issue performs a single reissuance for g: builds the leaf, invokes the
// callback on success, and reschedules g's renewal timer. On failure the
// prior leaf and timer deadline are left untouched except that a short
// retry is scheduled — the spec's "next trigger retries" behavior — and
// the error is logged rather than propagated to the event bus.
func (m *Manager) issue(g *generator) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := m.store.CurrentCA()
	if current == nil {
		err := errors.New("certmgr: no CA initialized")
		m.logger.Error("failed to issue leaf: no CA", "service_id", g.serviceID)
		m.scheduleRetry(g)
		metrics.Registry.IncrCounter(metrics.CertRotationFailures, 1)
		return err
	}

	var sans []string
	if g.kind == Server {
		m.mu.RLock()
		sans = append([]string(nil), m.hosts...)
		m.mu.RUnlock()
	}

	leaf, err := ca.IssueLeaf(current, current.Type, g.commonName, g.kind.profile(), sans, m.leafLifetime)
	if err != nil {
		m.logger.Error("failed to issue leaf certificate", "service_id", g.serviceID, "error", err)
		m.scheduleRetry(g)
		metrics.Registry.IncrCounter(metrics.CertRotationFailures, 1)
		return err
	}

	g.lastIssued = leaf
	if g.callback != nil {
		g.callback(Material{Leaf: leaf, CAChain: []string{encodePEM(current.DER)}})
	}
	m.scheduleRenewal(g)
	metrics.Registry.IncrCounter(metrics.CertRotations, 1)
	return nil
}

func (m *Manager) scheduleRenewal(g *generator) {
	deadline := time.Duration(float64(m.leafLifetime) * m.renewalFraction)
	m.resetTimer(g, deadline)
}

func (m *Manager) scheduleRetry(g *generator) {
	m.resetTimer(g, failureRetryDelay)
}

func (m *Manager) resetTimer(g *generator, after time.Duration) {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(after, func() {
		if err := m.issue(g); err != nil {
			m.logger.Warn("scheduled leaf renewal failed, will retry", "service_id", g.serviceID, "error", err)
		}
	})
}

func encodePEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
