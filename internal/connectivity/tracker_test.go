package connectivity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/edgecore/cda/internal/eventbus"
	"github.com/edgecore/cda/internal/transport"
)

type fakeTransport struct {
	mu          sync.Mutex
	handlers    map[string]transport.Handler
	published   []string
	publishErr  map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:   make(map[string]transport.Handler),
		publishErr: make(map[string]error),
	}
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	if err := f.publishErr[topic]; err != nil {
		return err
	}
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, topic string, handler transport.Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, topic)
	}, nil
}

func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(context.Background(), transport.Message{Topic: topic, Payload: payload})
	}
}

func (f *fakeTransport) publishCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.published {
		if p == topic {
			n++
		}
	}
	return n
}

type fakeNetwork struct{ up bool }

func (f *fakeNetwork) Up() bool { return f.up }

type fakeResolver struct {
	mu    sync.Mutex
	hosts map[string][]string
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, version string) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	hosts, ok := f.hosts[version]
	return hosts, ok, nil
}

func TestStartupProtocolSubscribesThenFetches(t *testing.T) {
	wire := newFakeTransport()
	tr := New(hclog.NewNullLogger(), eventbus.New(hclog.NewNullLogger(), nil), wire, &fakeNetwork{up: true}, &fakeResolver{}, "core-thing")

	tr.Start(context.Background())

	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, Fetching, tr.State())
}

func TestDeltaProcessingTriggersConnectivityChangedOnHostSetChange(t *testing.T) {
	wire := newFakeTransport()
	bus := eventbus.New(hclog.NewNullLogger(), nil)

	var mu sync.Mutex
	var events []eventbus.ConnectivityChanged
	bus.Register(eventbus.ConnectivityChanged{}.Class(), eventbus.ListenerFunc(func(event eventbus.Event) eventbus.Result {
		mu.Lock()
		events = append(events, event.(eventbus.ConnectivityChanged))
		mu.Unlock()
		return eventbus.Result{}
	}))

	resolver := &fakeResolver{hosts: map[string][]string{"7": {"10.0.0.1", "10.0.0.2"}}}
	tr := New(hclog.NewNullLogger(), bus, wire, &fakeNetwork{up: true}, resolver, "core-thing")
	tr.Start(context.Background())
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)

	wire.deliver(topicUpdateDelta("core-thing"), []byte(`{"state":{"delta":{"version":"7"}}}`))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, events[0].Hosts)
	mu.Unlock()

	require.Eventually(t, func() bool { return wire.publishCount(topicUpdate("core-thing")) == 1 }, time.Second, time.Millisecond)
}

func TestDuplicateDeltaIsIdempotent(t *testing.T) {
	wire := newFakeTransport()
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	resolver := &fakeResolver{hosts: map[string][]string{"7": {"10.0.0.1"}}}
	tr := New(hclog.NewNullLogger(), bus, wire, &fakeNetwork{up: true}, resolver, "core-thing")
	tr.Start(context.Background())
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)

	wire.deliver(topicUpdateDelta("core-thing"), []byte(`{"state":{"delta":{"version":"7"}}}`))
	require.Eventually(t, func() bool { return wire.publishCount(topicUpdate("core-thing")) == 1 }, time.Second, time.Millisecond)

	// Duplicate delivery (DUP=1 in MQTT terms): same version again.
	wire.deliver(topicUpdateDelta("core-thing"), []byte(`{"state":{"delta":{"version":"7"}}}`))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, wire.publishCount(topicUpdate("core-thing")), "duplicate version must not be reprocessed")
	require.Equal(t, 1, resolver.calls)
}

// blockingResolver blocks Resolve for one designated version until
// release is closed, signaling entered once Resolve has been called,
// so a test can deliver a second delta while the first is in flight.
type blockingResolver struct {
	mu      sync.Mutex
	hosts   map[string][]string
	calls   int
	block   string
	entered chan struct{}
	release chan struct{}
}

func (f *blockingResolver) Resolve(ctx context.Context, version string) ([]string, bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if version == f.block {
		close(f.entered)
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	hosts, ok := f.hosts[version]
	return hosts, ok, nil
}

func TestDuplicateDeltaDeliveredMidFlightIsNotReprocessed(t *testing.T) {
	wire := newFakeTransport()
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	resolver := &blockingResolver{
		hosts:   map[string][]string{"7": {"10.0.0.1"}},
		block:   "7",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tr := New(hclog.NewNullLogger(), bus, wire, &fakeNetwork{up: true}, resolver, "core-thing")
	tr.Start(context.Background())
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)

	wire.deliver(topicUpdateDelta("core-thing"), []byte(`{"state":{"delta":{"version":"7"}}}`))

	// Wait until processVersion is blocked inside Resolve for "7",
	// i.e. before lastProcessedVersion is updated, then deliver the
	// exact-duplicate delta into that race window.
	<-resolver.entered
	wire.deliver(topicUpdateDelta("core-thing"), []byte(`{"state":{"delta":{"version":"7"}}}`))

	close(resolver.release)

	require.Eventually(t, func() bool { return wire.publishCount(topicUpdate("core-thing")) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, wire.publishCount(topicUpdate("core-thing")), "duplicate delivered mid-flight must not cause a second publish")
}

func TestGetAcceptedIsProcessedAsADelta(t *testing.T) {
	wire := newFakeTransport()
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	resolver := &fakeResolver{hosts: map[string][]string{"3": {"10.0.0.9"}}}
	tr := New(hclog.NewNullLogger(), bus, wire, &fakeNetwork{up: true}, resolver, "core-thing")
	tr.Start(context.Background())
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)

	wire.deliver(topicGetAccepted("core-thing"), []byte(`{"state":{"desired":{"version":"3"}}}`))

	require.Eventually(t, func() bool { return wire.publishCount(topicUpdate("core-thing")) == 1 }, time.Second, time.Millisecond)
}

func TestNetworkTransitionsWaitThenResume(t *testing.T) {
	wire := newFakeTransport()
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	net := &fakeNetwork{up: false}
	tr := New(hclog.NewNullLogger(), bus, wire, net, &fakeResolver{}, "core-thing")

	tr.Start(context.Background())
	require.Equal(t, WaitNet, tr.State())
	require.Equal(t, 0, wire.publishCount(topicGet("core-thing")))

	net.up = true
	bus.Emit(eventbus.NetworkStateChanged{Up: true, Sequence: 1})
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)

	net.up = false
	bus.Emit(eventbus.NetworkStateChanged{Up: false, Sequence: 2})
	require.Eventually(t, func() bool { return tr.State() == WaitNet }, time.Second, time.Millisecond)

	net.up = true
	bus.Emit(eventbus.NetworkStateChanged{Up: true, Sequence: 3})
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 2 }, time.Second, time.Millisecond)
}

func TestStopTearsDownSubscriptions(t *testing.T) {
	wire := newFakeTransport()
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	tr := New(hclog.NewNullLogger(), bus, wire, &fakeNetwork{up: true}, &fakeResolver{}, "core-thing")
	tr.Start(context.Background())
	require.Eventually(t, func() bool { return wire.publishCount(topicGet("core-thing")) == 1 }, time.Second, time.Millisecond)

	tr.Stop()
	require.Equal(t, Idle, tr.State())

	wire.mu.Lock()
	n := len(wire.handlers)
	wire.mu.Unlock()
	require.Equal(t, 0, n, "all topic subscriptions must be torn down on stop")
}

func TestExtractVersionPrefersDeltaOverDesired(t *testing.T) {
	version, ok, err := extractVersion([]byte(`{"state":{"desired":{"version":"1"},"delta":{"version":"2"}}}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", version)
}

func TestExtractVersionNoVersionFieldsIsNotOK(t *testing.T) {
	_, ok, err := extractVersion([]byte(`{"state":{}}`))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEncodeReported(t *testing.T) {
	payload := encodeReported("9")
	require.JSONEq(t, `{"state":{"reported":{"version":"9"}}}`, string(payload))
}

func TestHostSetEqualIgnoresOrder(t *testing.T) {
	require.True(t, hostSetEqual([]string{"a", "b"}, []string{"b", "a"}))
	require.False(t, hostSetEqual([]string{"a"}, []string{"a", "b"}))
}
