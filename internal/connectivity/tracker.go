// Package connectivity implements the CIS shadow monitor: it converges
// a local "reported" host-address view to the "desired" view published
// over a classic desired/reported/delta shadow document, and raises
// ConnectivityChanged when the resolved host set actually changes (the
// trigger for server-certificate rotation in internal/certmgr).
package connectivity

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/edgecore/cda/internal/common"
	"github.com/edgecore/cda/internal/eventbus"
	"github.com/edgecore/cda/internal/metrics"
	"github.com/edgecore/cda/internal/transport"
)

// State is the shadow monitor's lifecycle state, per spec.md §4.4's
// state diagram.
type State int

const (
	Idle State = iota
	WaitNet
	Subscribing
	Fetching
	Processing
	IdleReported
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case WaitNet:
		return "WAIT_NET"
	case Subscribing:
		return "SUBSCRIBING"
	case Fetching:
		return "FETCHING"
	case Processing:
		return "PROCESSING"
	case IdleReported:
		return "IDLE_REPORTED"
	default:
		return "UNKNOWN"
	}
}

// NetworkStatus reports whether the transport is reachable right now;
// satisfied by internal/network's Tracker, mirrored here as a small
// local interface the same way internal/registry/trust.go defines its
// own NetworkStatus rather than importing a concrete type.
type NetworkStatus interface {
	Up() bool
}

// HostResolver is the connectivity-info provider: given the desired
// shadow version just observed, it resolves the current host-address
// set. A false ok return means "no new information"; the monitor still
// publishes the reported version but skips rotation.
type HostResolver interface {
	Resolve(ctx context.Context, desiredVersion string) (hosts []string, ok bool, err error)
}

// Tracker is the CIS shadow monitor.
type Tracker struct {
	logger     hclog.Logger
	bus        *eventbus.Bus
	wire       transport.Transport
	network    NetworkStatus
	resolver   HostResolver
	shadowName string

	mu                    sync.Mutex
	state                 State
	lastProcessedVersion  string
	pendingVersion        string
	hasPending            bool
	processing            bool
	hosts                 []string
	unsubGetAccepted      func()
	unsubGetRejected      func()
	unsubDelta            func()

	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Tracker in the IDLE state. Call Start to begin the
// startup protocol.
func New(logger hclog.Logger, bus *eventbus.Bus, wire transport.Transport, network NetworkStatus, resolver HostResolver, shadowName string) *Tracker {
	return &Tracker{
		logger:     logger,
		bus:        bus,
		wire:       wire,
		network:    network,
		resolver:   resolver,
		shadowName: shadowName,
		state:      Idle,
		stopCh:     make(chan struct{}),
	}
}

// State reports the current lifecycle state; exposed for tests and
// diagnostics.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins the startup protocol: if the network is already up, it
// subscribes and fetches immediately; otherwise it waits in WAIT_NET
// for a NetworkStateChanged(Up=true) event.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.state = WaitNet
	t.mu.Unlock()

	t.bus.Register(eventbus.NetworkStateChanged{}.Class(), eventbus.ListenerFunc(func(event eventbus.Event) eventbus.Result {
		changed, ok := event.(eventbus.NetworkStateChanged)
		if !ok {
			return eventbus.Result{}
		}
		if changed.Up {
			t.onNetUp(ctx)
		} else {
			t.onNetDown()
		}
		return eventbus.Result{}
	}))

	if t.network.Up() {
		t.onNetUp(ctx)
	}
}

// Stop tears down subscriptions and returns the monitor to IDLE.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.teardownLocked()
	t.state = Idle
	t.mu.Unlock()
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) teardownLocked() {
	if t.unsubGetAccepted != nil {
		t.unsubGetAccepted()
		t.unsubGetAccepted = nil
	}
	if t.unsubGetRejected != nil {
		t.unsubGetRejected()
		t.unsubGetRejected = nil
	}
	if t.unsubDelta != nil {
		t.unsubDelta()
		t.unsubDelta = nil
	}
}

// onNetDown tears down the shadow subscriptions and returns to WAIT_NET,
// so the next UP transition re-issues the initial get and resumes. A
// processing pass that is already running is not cancelled; it runs to
// completion and leaves the state at WAIT_NET.
func (t *Tracker) onNetDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.teardownLocked()
	t.state = WaitNet
}

// onNetUp runs the startup protocol: subscribe to get/accepted,
// get/rejected, update/delta, then publish an empty payload to
// shadow/get.
func (t *Tracker) onNetUp(ctx context.Context) {
	t.mu.Lock()
	if t.stopped || t.state != WaitNet {
		t.mu.Unlock()
		return
	}
	t.state = Subscribing
	t.mu.Unlock()

	unsubAccepted, err := t.wire.Subscribe(ctx, topicGetAccepted(t.shadowName), func(ctx context.Context, msg transport.Message) {
		t.onDeltaLike(ctx, msg.Payload)
	})
	if err != nil {
		t.logger.Error("failed to subscribe to shadow get/accepted", "error", err)
		return
	}

	unsubRejected, err := t.wire.Subscribe(ctx, topicGetRejected(t.shadowName), func(ctx context.Context, msg transport.Message) {
		// Per spec.md §4.4: on get/rejected, wait for the next
		// update/delta. No action here beyond staying subscribed.
	})
	if err != nil {
		t.logger.Error("failed to subscribe to shadow get/rejected", "error", err)
		unsubAccepted()
		return
	}

	unsubDelta, err := t.wire.Subscribe(ctx, topicUpdateDelta(t.shadowName), func(ctx context.Context, msg transport.Message) {
		t.onDeltaLike(ctx, msg.Payload)
	})
	if err != nil {
		t.logger.Error("failed to subscribe to shadow update/delta", "error", err)
		unsubAccepted()
		unsubRejected()
		return
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		unsubAccepted()
		unsubRejected()
		unsubDelta()
		return
	}
	t.unsubGetAccepted = unsubAccepted
	t.unsubGetRejected = unsubRejected
	t.unsubDelta = unsubDelta
	t.state = Fetching
	t.mu.Unlock()

	if err := t.wire.Publish(ctx, topicGet(t.shadowName), nil); err != nil {
		t.logger.Error("failed to publish shadow get", "error", err)
	}
}

// onDeltaLike handles both get/accepted and update/delta payloads
// identically, per spec.md §4.4 point 3 ("process the document as if
// it were a delta").
func (t *Tracker) onDeltaLike(ctx context.Context, payload []byte) {
	version, ok, err := extractVersion(payload)
	if err != nil {
		t.logger.Error("failed to parse shadow document", "error", err)
		return
	}
	if !ok {
		return
	}

	t.mu.Lock()
	if version == t.lastProcessedVersion {
		t.mu.Unlock()
		return
	}
	t.pendingVersion = version
	t.hasPending = true
	alreadyProcessing := t.processing
	t.processing = true
	t.mu.Unlock()

	if alreadyProcessing {
		// In-flight coalescing: the active drain loop will pick up
		// pendingVersion once it finishes its current pass, per
		// spec.md §4.4's option (b).
		return
	}

	t.wg.Add(1)
	go t.drain(ctx)
}

// drain is the single worker draining pendingVersion updates. It keeps
// processing the latest known version until none is pending, then
// settles in IDLE_REPORTED.
func (t *Tracker) drain(ctx context.Context) {
	defer t.wg.Done()
	for {
		t.mu.Lock()
		if !t.hasPending || t.stopped {
			t.processing = false
			if !t.stopped && t.state != WaitNet {
				t.state = IdleReported
			}
			t.mu.Unlock()
			return
		}
		version := t.pendingVersion
		t.hasPending = false
		if version == t.lastProcessedVersion {
			// A duplicate for the in-flight version coalesced into
			// pendingVersion while processVersion was still awaiting
			// resolve/publish below; lastProcessedVersion updated in
			// the meantime, so skip the redundant reprocessing pass
			// rather than issuing a second shadow/update publish.
			t.mu.Unlock()
			continue
		}
		if t.state != WaitNet {
			t.state = Processing
		}
		t.mu.Unlock()

		t.processVersion(ctx, version)
	}
}

func (t *Tracker) processVersion(ctx context.Context, version string) {
	hosts, ok, err := t.resolver.Resolve(ctx, version)
	if err != nil {
		t.logger.Error("connectivity info resolution failed", "version", version, "error", err)
		return
	}
	if ok {
		t.mu.Lock()
		prior := t.hosts
		changed := !hostSetEqual(prior, hosts)
		if changed {
			t.hosts = append([]string(nil), hosts...)
		}
		t.mu.Unlock()
		if changed {
			t.logger.Info("connectivity hosts changed",
				"added", common.Difference(prior, hosts),
				"removed", common.Difference(hosts, prior))
			t.bus.Emit(eventbus.ConnectivityChanged{Hosts: hosts})
		}
	}

	if err := t.wire.Publish(ctx, topicUpdate(t.shadowName), encodeReported(version)); err != nil {
		t.logger.Error("failed to publish shadow reported version", "version", version, "error", err)
		return
	}
	metrics.Registry.IncrCounter(metrics.ShadowReportedPublishes, 1)

	t.mu.Lock()
	t.lastProcessedVersion = version
	t.mu.Unlock()
	metrics.Registry.IncrCounter(metrics.ShadowDeltasProcessed, 1)
}

func hostSetEqual(a, b []string) bool {
	return common.NewStringSet(a...).Equal(common.NewStringSet(b...))
}
