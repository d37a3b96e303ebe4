// Package network implements the NetworkStateTracker: it receives
// onConnect/onConnectionResumed/onConnectionInterrupted callbacks from
// the transport and republishes them as a two-valued {UP, DOWN} state
// with a monotonically increasing sequence, raising NetworkStateChanged
// only on an actual transition. Callback handling is dispatched through
// a single background worker so it never runs on the transport's own
// callback goroutine, the same decoupling idiom the teacher uses for
// its reconcile-signal channel (internal/k8s/reconciler).
package network

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/edgecore/cda/internal/eventbus"
)

// signal is the event queued for the background worker; it carries
// enough information to compute the next UP/DOWN state.
type signal struct {
	up bool
}

// Tracker is the NetworkStateTracker. It satisfies registry.NetworkStatus
// and session's transitive dependents via Up().
type Tracker struct {
	logger hclog.Logger
	bus    *eventbus.Bus

	up       atomic.Bool
	sequence atomic.Uint64

	mu      sync.Mutex
	signals chan signal
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Tracker in the DOWN state and starts its background
// dispatch worker. Call Close to stop the worker.
func New(logger hclog.Logger, bus *eventbus.Bus) *Tracker {
	t := &Tracker{
		logger:  logger,
		bus:     bus,
		signals: make(chan signal, 16),
		stop:    make(chan struct{}),
	}

	t.wg.Add(1)
	go t.run()
	return t
}

// Up reports the last dispatched state; safe for concurrent use,
// including from a different goroutine than the one processing signals,
// since transitions are only observable once the worker has processed
// them.
func (t *Tracker) Up() bool { return t.up.Load() }

// OnConnect marks the network UP. Enqueues onto the worker; never blocks
// the transport's callback thread beyond the channel send (the channel
// is generously buffered and the worker never blocks on anything but
// the bus's own listener calls).
func (t *Tracker) OnConnect() { t.enqueue(signal{up: true}) }

// OnConnectionResumed marks the network UP after a prior interruption.
func (t *Tracker) OnConnectionResumed() { t.enqueue(signal{up: true}) }

// OnConnectionInterrupted marks the network DOWN.
func (t *Tracker) OnConnectionInterrupted() { t.enqueue(signal{up: false}) }

func (t *Tracker) enqueue(s signal) {
	select {
	case t.signals <- s:
	case <-t.stop:
	}
}

// Close stops the background worker. Pending signals are discarded.
func (t *Tracker) Close() {
	close(t.stop)
	t.wg.Wait()
}

// run is the single dispatch goroutine: transport callbacks only ever
// enqueue, this goroutine is the only one that reads the current state,
// decides whether it changed, and emits NetworkStateChanged.
func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case s := <-t.signals:
			t.apply(s)
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) apply(s signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.up.Load()
	if previous == s.up {
		return
	}
	t.up.Store(s.up)
	seq := t.sequence.Add(1)

	if t.logger != nil {
		t.logger.Info("network state transitioned", "up", s.up, "sequence", seq)
	}
	if t.bus != nil {
		t.bus.Emit(eventbus.NetworkStateChanged{Up: s.up, Sequence: seq})
	}
}
