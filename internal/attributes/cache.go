// Package attributes implements ThingAttributesCache: a periodically
// refreshed, per-thing cache of cloud-sourced attributes and
// associated-thing-name lists, each with its own trust duration so a
// stale cache entry is still usable across a short offline window.
package attributes

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/metrics"
)

const (
	// DefaultRefreshDelay is the periodic full-refresh interval.
	DefaultRefreshDelay = 60 * time.Second
	// DefaultAssociationTrustDuration bounds how long a cached
	// associated-thing-names answer is used without refetching.
	DefaultAssociationTrustDuration = 5 * time.Minute
	// DefaultDescriptionTrustDuration bounds how long a cached
	// thing-attributes answer is used without refetching.
	DefaultDescriptionTrustDuration = 10 * time.Minute
)

// NetworkStatus mirrors internal/registry/trust.go and
// internal/connectivity's own local interface: only the Up() bool the
// refresher needs.
type NetworkStatus interface {
	Up() bool
}

// ThingSource supplies the set of thing names the cache should refresh
// on each pass; satisfied by internal/registry.ThingRegistry.
type ThingSource interface {
	Names() []string
}

type attributeRecord struct {
	attributes map[string]string
	fetchedAt  time.Time
}

type associationRecord struct {
	thingNames []string
	fetchedAt  time.Time
}

// Cache is ThingAttributesCache.
type Cache struct {
	logger  hclog.Logger
	fetcher cloud.ThingAttributesFetcher
	network NetworkStatus
	things  ThingSource

	refreshDelay              time.Duration
	associationTrustDuration  time.Duration
	descriptionTrustDuration  time.Duration

	mu           sync.RWMutex
	attrs        map[string]attributeRecord
	associations map[string]associationRecord

	initSignal chan struct{}
	signalled  bool
	signalMu   sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option customizes New's defaults.
type Option func(*Cache)

// WithRefreshDelay overrides the default 60s periodic refresh interval.
func WithRefreshDelay(d time.Duration) Option {
	return func(c *Cache) { c.refreshDelay = d }
}

// WithTrustDurations overrides the default association/description
// trust windows.
func WithTrustDurations(association, description time.Duration) Option {
	return func(c *Cache) {
		c.associationTrustDuration = association
		c.descriptionTrustDuration = description
	}
}

// New constructs a Cache and starts its background refresher. Call
// Close to stop it.
func New(logger hclog.Logger, fetcher cloud.ThingAttributesFetcher, network NetworkStatus, things ThingSource, opts ...Option) *Cache {
	c := &Cache{
		logger:                   logger,
		fetcher:                  fetcher,
		network:                  network,
		things:                   things,
		refreshDelay:             DefaultRefreshDelay,
		associationTrustDuration: DefaultAssociationTrustDuration,
		descriptionTrustDuration: DefaultDescriptionTrustDuration,
		attrs:                    make(map[string]attributeRecord),
		associations:             make(map[string]associationRecord),
		initSignal:               make(chan struct{}),
		stopCh:                   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.run()
	return c
}

// Close stops the periodic refresher. In-flight work completes; no new
// round starts.
func (c *Cache) Close() {
	close(c.stopCh)
	c.wg.Wait()
}

// WaitForInitialization unblocks once the first full refresh pass has
// completed, or returns false if timeout elapses first. Grounded on the
// teacher's CertManager.initializeSignal latch: a channel closed exactly
// once, on the first successful pass.
func (c *Cache) WaitForInitialization(ctx context.Context, timeout time.Duration) bool {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-c.initSignal:
		return true
	case <-deadline.Done():
		return false
	}
}

func (c *Cache) signalInitialized() {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()
	if !c.signalled {
		close(c.initSignal)
		c.signalled = true
	}
}

func (c *Cache) run() {
	defer c.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			c.refreshOnce()
			timer.Reset(c.refreshDelay)
		case <-c.stopCh:
			return
		}
	}
}

// refreshOnce runs a single full refresh pass: if the transport is
// DOWN, skip entirely; otherwise refresh every known thing, skipping
// (and continuing past) any thing whose fetch errors.
func (c *Cache) refreshOnce() {
	if !c.network.Up() {
		c.logger.Debug("skipping attribute refresh, network is down")
		return
	}

	for _, name := range c.things.Names() {
		select {
		case <-c.stopCh:
			return
		default:
		}
		if attrs, err := c.fetcher.FetchThingAttributes(context.Background(), name); err != nil {
			c.logger.Warn("failed to refresh thing attributes, skipping", "thing", name, "error", err)
		} else {
			c.mu.Lock()
			c.attrs[name] = attributeRecord{attributes: attrs, fetchedAt: time.Now()}
			c.mu.Unlock()
		}
	}
	c.signalInitialized()
}

// Attributes returns a thing's cached attribute map if it is within the
// description trust duration ("use-cache-if-fresh"); otherwise it
// synchronously fetches and caches a fresh copy.
func (c *Cache) Attributes(ctx context.Context, thingName string) (map[string]string, error) {
	c.mu.RLock()
	record, ok := c.attrs[thingName]
	c.mu.RUnlock()
	if ok && time.Since(record.fetchedAt) < c.descriptionTrustDuration {
		metrics.Registry.IncrCounter(metrics.ThingCacheHits, 1)
		return record.attributes, nil
	}
	metrics.Registry.IncrCounter(metrics.ThingCacheMisses, 1)

	attrs, err := c.fetcher.FetchThingAttributes(ctx, thingName)
	if err != nil {
		if ok {
			// Stale is still better than nothing when the cloud is
			// unreachable between periodic refreshes.
			return record.attributes, nil
		}
		return nil, err
	}
	c.mu.Lock()
	c.attrs[thingName] = attributeRecord{attributes: attrs, fetchedAt: time.Now()}
	c.mu.Unlock()
	return attrs, nil
}

// AssociatedThingNames returns the thing names associated with clientID
// if the cached answer is within the association trust duration;
// otherwise it fetches and caches a fresh answer.
func (c *Cache) AssociatedThingNames(ctx context.Context, clientID string) ([]string, error) {
	c.mu.RLock()
	record, ok := c.associations[clientID]
	c.mu.RUnlock()
	if ok && time.Since(record.fetchedAt) < c.associationTrustDuration {
		metrics.Registry.IncrCounter(metrics.ThingCacheHits, 1)
		return record.thingNames, nil
	}
	metrics.Registry.IncrCounter(metrics.ThingCacheMisses, 1)

	names, err := c.fetcher.FetchAssociatedThingNames(ctx, clientID)
	if err != nil {
		if ok {
			return record.thingNames, nil
		}
		return nil, err
	}
	c.mu.Lock()
	c.associations[clientID] = associationRecord{thingNames: names, fetchedAt: time.Now()}
	c.mu.Unlock()
	return names, nil
}
