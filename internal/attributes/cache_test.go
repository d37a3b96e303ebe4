package attributes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu              sync.Mutex
	attrs           map[string]map[string]string
	attrErr         map[string]error
	associations    map[string][]string
	attrCalls       map[string]int
	associationCalls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		attrs:            make(map[string]map[string]string),
		attrErr:          make(map[string]error),
		associations:     make(map[string][]string),
		attrCalls:        make(map[string]int),
		associationCalls: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchThingAttributes(ctx context.Context, thingName string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrCalls[thingName]++
	if err := f.attrErr[thingName]; err != nil {
		return nil, err
	}
	return f.attrs[thingName], nil
}

func (f *fakeFetcher) FetchAssociatedThingNames(ctx context.Context, clientID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associationCalls[clientID]++
	return f.associations[clientID], nil
}

type fakeNetwork struct{ up bool }

func (f *fakeNetwork) Up() bool { return f.up }

type fakeThings struct{ names []string }

func (f *fakeThings) Names() []string { return f.names }

func TestRefreshSkippedWhenNetworkDown(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.attrs["sensor1"] = map[string]string{"zone": "a"}
	things := &fakeThings{names: []string{"sensor1"}}
	network := &fakeNetwork{up: false}

	c := New(hclog.NewNullLogger(), fetcher, network, things, WithRefreshDelay(10*time.Millisecond))
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	fetcher.mu.Lock()
	calls := fetcher.attrCalls["sensor1"]
	fetcher.mu.Unlock()
	require.Zero(t, calls, "no fetch should happen while network is down")
}

func TestRefreshSkipsThingOnFetchErrorAndContinues(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.attrErr["bad"] = errors.New("cloud unavailable")
	fetcher.attrs["good"] = map[string]string{"zone": "b"}
	things := &fakeThings{names: []string{"bad", "good"}}

	c := New(hclog.NewNullLogger(), fetcher, &fakeNetwork{up: true}, things, WithRefreshDelay(time.Hour))
	defer c.Close()

	require.True(t, c.WaitForInitialization(context.Background(), time.Second))

	attrs, err := c.Attributes(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "b", attrs["zone"])
}

func TestWaitForInitializationTimesOut(t *testing.T) {
	fetcher := newFakeFetcher()
	things := &fakeThings{}
	c := New(hclog.NewNullLogger(), fetcher, &fakeNetwork{up: false}, things, WithRefreshDelay(time.Hour))
	defer c.Close()

	require.False(t, c.WaitForInitialization(context.Background(), 20*time.Millisecond))
}

func TestAttributesUsesCacheWhileFresh(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.attrs["sensor1"] = map[string]string{"zone": "a"}
	things := &fakeThings{names: []string{"sensor1"}}

	c := New(hclog.NewNullLogger(), fetcher, &fakeNetwork{up: true}, things,
		WithRefreshDelay(time.Hour), WithTrustDurations(5*time.Minute, time.Hour))
	defer c.Close()

	require.True(t, c.WaitForInitialization(context.Background(), time.Second))

	_, err := c.Attributes(context.Background(), "sensor1")
	require.NoError(t, err)
	_, err = c.Attributes(context.Background(), "sensor1")
	require.NoError(t, err)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Equal(t, 1, fetcher.attrCalls["sensor1"], "second lookup within trust duration must not refetch")
}

func TestAssociatedThingNamesRefetchesAfterTrustDurationExpires(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.associations["client-1"] = []string{"sensor1"}
	things := &fakeThings{}

	c := New(hclog.NewNullLogger(), fetcher, &fakeNetwork{up: true}, things,
		WithRefreshDelay(time.Hour), WithTrustDurations(10*time.Millisecond, time.Hour))
	defer c.Close()

	_, err := c.AssociatedThingNames(context.Background(), "client-1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = c.AssociatedThingNames(context.Background(), "client-1")
	require.NoError(t, err)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Equal(t, 2, fetcher.associationCalls["client-1"])
}

func TestAttributesFallsBackToStaleOnFetchError(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.attrs["sensor1"] = map[string]string{"zone": "a"}
	things := &fakeThings{names: []string{"sensor1"}}

	c := New(hclog.NewNullLogger(), fetcher, &fakeNetwork{up: true}, things,
		WithRefreshDelay(time.Hour), WithTrustDurations(time.Hour, 10*time.Millisecond))
	defer c.Close()

	require.True(t, c.WaitForInitialization(context.Background(), time.Second))
	time.Sleep(30 * time.Millisecond)

	fetcher.mu.Lock()
	fetcher.attrErr["sensor1"] = errors.New("cloud down")
	fetcher.mu.Unlock()

	attrs, err := c.Attributes(context.Background(), "sensor1")
	require.NoError(t, err, "a stale cached value must be served rather than propagating the fetch error")
	require.Equal(t, "a", attrs["zone"])
}
