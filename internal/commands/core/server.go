package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/edgecore/cda/internal/attributes"
	"github.com/edgecore/cda/internal/ca"
	"github.com/edgecore/cda/internal/certmgr"
	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/config"
	"github.com/edgecore/cda/internal/connectivity"
	"github.com/edgecore/cda/internal/eventbus"
	"github.com/edgecore/cda/internal/keystore"
	"github.com/edgecore/cda/internal/metrics"
	"github.com/edgecore/cda/internal/network"
	"github.com/edgecore/cda/internal/policy"
	"github.com/edgecore/cda/internal/profiling"
	"github.com/edgecore/cda/internal/registry"
	"github.com/edgecore/cda/internal/session"
	"github.com/edgecore/cda/internal/transport"
	"github.com/edgecore/cda/internal/usecase"
)

// Use case class keys resolved out of Runtime.Container. Naming these
// as constants keeps call sites from retyping the class-key strings
// spec.md §4.9 identifies use cases by.
const (
	UseCaseVerifyClientDeviceIdentity usecase.Key = "VerifyClientDeviceIdentity"
	UseCaseAuthorizeAction            usecase.Key = "AuthorizeAction"
	UseCaseGetConnectivityInfo        usecase.Key = "GetConnectivityInfo"
)

const (
	// Process-level defaults not among spec.md §6's recognized
	// configuration keys; these tune the local issuance/cache layers
	// rather than anything the cloud-side configuration document drives.
	defaultCommonName        = "cda-core"
	defaultServerLeafLifetime = 24 * time.Hour
	defaultRenewalFraction   = 0.5
	defaultThingCacheCapacity = 1000
	defaultCertCacheCapacity  = 1000
	defaultSessionCapacity    = 1000
	defaultShadowName         = "cda-core"
	defaultCaLifetime         = 10 * 365 * 24 * time.Hour
)

// ServerConfig supplies everything RunServer needs: the decoded
// configuration and policy documents, the keystore location and
// passphrase, and the cloud/transport collaborators Command.Run
// requires to be set.
type ServerConfig struct {
	Context context.Context
	Logger  hclog.Logger

	RawConfig map[string]any
	Policy    policy.Policy

	KeystoreDir        string
	KeystorePassphrase string

	ThingVerifier       cloud.ThingVerifier
	CertificateResolver cloud.CertificateResolver
	AttributesFetcher   cloud.ThingAttributesFetcher
	Transport           transport.Transport
	HostResolver        connectivity.HostResolver

	MetricsPort   int
	ProfilingPort int
}

// Runtime is the fully-wired, running set of domain components a test
// can assert against without going through the CLI Command at all.
type Runtime struct {
	Bus          *eventbus.Bus
	Store        *keystore.Store
	CertManager  *certmgr.Manager
	Things       *registry.ThingRegistry
	Certificates *registry.CertificateRegistry
	Trust        *registry.TrustModel
	Network      *network.Tracker
	Attributes   *attributes.Cache
	Sessions     *session.Manager
	Policy       *policy.Compiled
	Connectivity *connectivity.Tracker
	Container    *usecase.Container
}

// wire builds every domain component and returns the running Runtime.
// It does not block; callers run it under the cancellable context they
// intend to tear components down with.
func wire(cfg ServerConfig) (*Runtime, error) {
	logger := cfg.Logger

	decoded, err := config.Decode(cfg.RawConfig)
	if err != nil {
		return nil, fmt.Errorf("core: decoding configuration: %w", err)
	}

	bus := eventbus.New(logger.Named("eventbus"), func(event eventbus.Event, listener eventbus.Listener, err error) {
		logger.Error("event listener failed", "event", event.Class(), "error", err)
	})

	store := keystore.New(logger.Named("keystore"), cfg.KeystoreDir)
	if err := initCA(cfg.Context, store, decoded, cfg.KeystorePassphrase); err != nil {
		return nil, fmt.Errorf("core: initializing CA: %w", err)
	}

	certManager := certmgr.New(logger, bus, store, defaultServerLeafLifetime, defaultRenewalFraction)

	things := registry.NewThingRegistry()
	certificates, err := registry.NewCertificateRegistry(defaultCertCacheCapacity, cfg.CertificateResolver)
	if err != nil {
		return nil, fmt.Errorf("core: creating certificate registry: %w", err)
	}

	netTracker := network.New(logger.Named("network"), bus)

	trustDuration := time.Duration(decoded.Security.ClientDeviceTrustDurationMinutes) * time.Minute
	trust := registry.NewTrustModel(bus, things, cfg.ThingVerifier, netTracker, trustDuration)

	attrCache := attributes.New(logger.Named("attributes"), cfg.AttributesFetcher, netTracker, things)

	sessionCapacity := decoded.Performance.MaxActiveAuthTokens
	if sessionCapacity == 0 {
		sessionCapacity = defaultSessionCapacity
	}
	sessions, err := session.NewManager(logger.Named("session"), sessionCapacity)
	if err != nil {
		return nil, fmt.Errorf("core: creating session manager: %w", err)
	}
	sessions.RegisterFactory("mqtt", &session.MQTTFactory{
		Certificates: certificates,
		Trust:        trust,
		Components:   registry.NewComponentRegistry(),
		Attributes:   attrCache,
	})

	compiled, err := policy.Compile(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("core: compiling policy: %w", err)
	}

	connectivityTracker := connectivity.New(logger.Named("connectivity"), bus, cfg.Transport, netTracker, cfg.HostResolver, defaultShadowName)

	for _, event := range config.Diff(nil, decoded) {
		bus.Emit(event)
	}

	container := usecase.New()
	container.Register(UseCaseVerifyClientDeviceIdentity, usecase.Singleton, func(*usecase.Container) (any, error) {
		return sessions, nil
	})
	container.Register(UseCaseAuthorizeAction, usecase.Singleton, func(*usecase.Container) (any, error) {
		return compiled, nil
	})
	container.Register(UseCaseGetConnectivityInfo, usecase.Singleton, func(*usecase.Container) (any, error) {
		return connectivityTracker, nil
	})

	return &Runtime{
		Bus:          bus,
		Store:        store,
		CertManager:  certManager,
		Things:       things,
		Certificates: certificates,
		Trust:        trust,
		Network:      netTracker,
		Attributes:   attrCache,
		Sessions:     sessions,
		Policy:       compiled,
		Connectivity: connectivityTracker,
		Container:    container,
	}, nil
}

func initCA(ctx context.Context, store *keystore.Store, decoded *config.Config, passphrase string) error {
	keyType := ca.RSA2048
	if decoded.CertificateAuthority.Ca.CaType != "" {
		resolved, err := decoded.CertificateAuthority.Ca.CaType.ToKeyType()
		if err != nil {
			return err
		}
		keyType = resolved
	}

	if decoded.CustomCA() {
		resolver := ca.NewURIResolver()
		resolver.Register("file", ca.FileFetcher{})
		pair, err := ca.LoadCustomCA(ctx, resolver,
			decoded.CertificateAuthority.Ca.CertificateURI,
			decoded.CertificateAuthority.Ca.PrivateKeyURI)
		if err != nil {
			return err
		}
		if err := store.Init(passphrase, keystore.CaParams{KeyType: pair.Type, CommonName: defaultCommonName, Lifetime: int64(defaultCaLifetime.Seconds())}); err != nil {
			return err
		}
		return store.Adopt(pair)
	}

	return store.Init(passphrase, keystore.CaParams{
		KeyType:    keyType,
		CommonName: defaultCommonName,
		Lifetime:   int64(defaultCaLifetime.Seconds()),
	})
}

// RunServer wires the domain components per cfg, starts the background
// servers configured, and blocks until the process receives an
// interrupt/termination signal or a background server exits with an
// error.
func RunServer(cfg ServerConfig) int {
	ctx, cancel := signal.NotifyContext(cfg.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runtime, err := wire(cfg)
	if err != nil {
		cfg.Logger.Error("error wiring core service", "error", err)
		return 1
	}

	runtime.Connectivity.Start(ctx)
	defer runtime.Connectivity.Stop()
	defer runtime.Attributes.Close()
	defer runtime.Network.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.MetricsPort != 0 {
		group.Go(func() error {
			return metrics.RunServer(groupCtx, cfg.Logger.Named("metrics"), fmt.Sprintf("127.0.0.1:%d", cfg.MetricsPort))
		})
	}
	if cfg.ProfilingPort != 0 {
		group.Go(func() error {
			return profiling.RunServer(groupCtx, cfg.Logger.Named("pprof"), fmt.Sprintf("127.0.0.1:%d", cfg.ProfilingPort))
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil {
		cfg.Logger.Error("unexpected error", "error", err)
		return 1
	}

	cfg.Logger.Info("shutting down")
	return 0
}

// readJSONMap reads path as a JSON object into a loosely-typed map,
// the shape config.Decode expects.
func readJSONMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parsing %s: %w", path, err)
	}
	return raw, nil
}

// readPolicy reads path as a JSON-encoded policy.Policy document.
func readPolicy(path string) (policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.Policy{}, err
	}
	var doc policy.Policy
	if err := json.Unmarshal(data, &doc); err != nil {
		return policy.Policy{}, fmt.Errorf("core: parsing %s: %w", path, err)
	}
	return doc, nil
}
