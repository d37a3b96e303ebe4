package core

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/policy"
	"github.com/edgecore/cda/internal/session"
	"github.com/edgecore/cda/internal/transport"
	"github.com/edgecore/cda/internal/usecase"
)

type fakeVerifier struct{}

func (fakeVerifier) VerifyThingAttachedToCertificate(ctx context.Context, thingName, iotCertificateID string) (cloud.Verdict, error) {
	return cloud.DefiniteTrue, nil
}

type fakeCertResolver struct{}

func (fakeCertResolver) GetIotCertificateIdForPem(ctx context.Context, pem string) (string, cloud.Verdict, error) {
	return "cert-1", cloud.DefiniteTrue, nil
}

type fakeAttributesFetcher struct{}

func (fakeAttributesFetcher) FetchThingAttributes(ctx context.Context, thingName string) (map[string]string, error) {
	return map[string]string{"Region": "us-east-1"}, nil
}

func (fakeAttributesFetcher) FetchAssociatedThingNames(ctx context.Context, clientID string) ([]string, error) {
	return []string{clientID}, nil
}

type fakeTransportAdapter struct{}

func (fakeTransportAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	return nil
}

func (fakeTransportAdapter) Subscribe(ctx context.Context, topic string, handler transport.Handler) (func(), error) {
	return func() {}, nil
}

type fakeHostResolver struct{}

func (fakeHostResolver) Resolve(ctx context.Context, desiredVersion string) ([]string, bool, error) {
	return []string{"10.0.0.1"}, true, nil
}

func testServerConfig(t *testing.T) ServerConfig {
	return ServerConfig{
		Context: context.Background(),
		Logger:  hclog.NewNullLogger(),
		RawConfig: map[string]any{
			"security": map[string]any{"clientDeviceTrustDurationMinutes": 5},
			"performance": map[string]any{"maxActiveAuthTokens": 10},
		},
		Policy: policy.Policy{
			Name: "default",
			Groups: []policy.Group{
				{
					Name:      "sensors",
					Principal: "thingName: *",
					Permissions: []policy.Permission{
						{Operation: "mqtt:publish", Resource: "mqtt:topic:*"},
					},
				},
			},
		},
		KeystoreDir:         t.TempDir(),
		KeystorePassphrase:  "a-sixteen-char-p",
		ThingVerifier:       fakeVerifier{},
		CertificateResolver: fakeCertResolver{},
		AttributesFetcher:   fakeAttributesFetcher{},
		Transport:           fakeTransportAdapter{},
		HostResolver:        fakeHostResolver{},
	}
}

func TestWireBuildsAFunctioningRuntime(t *testing.T) {
	runtime, err := wire(testServerConfig(t))
	require.NoError(t, err)
	defer runtime.Network.Close()
	defer runtime.Attributes.Close()
	defer runtime.Connectivity.Stop()

	// The network tracker starts DOWN; bring it UP so the trust model
	// asks the (fake) cloud verifier instead of the empty local cache.
	runtime.Network.OnConnect()
	require.Eventually(t, runtime.Network.Up, time.Second, time.Millisecond)

	sess, err := runtime.Sessions.CreateSession(context.Background(), session.MQTTCredentials{
		ClientID:       "sensor1",
		CertificatePEM: "pem",
	})
	require.NoError(t, err)

	region, ok := sess.Attribute("Thing", "ThingAttributes.Region")
	require.True(t, ok)
	require.Equal(t, "us-east-1", region)

	decision := runtime.Policy.Evaluate(sess, "mqtt:publish", "mqtt:topic:test")
	require.True(t, decision.Allow)

	require.NotNil(t, runtime.Store.CurrentCA())

	resolvedSessions, err := usecase.Resolve[*session.Manager](runtime.Container, UseCaseVerifyClientDeviceIdentity)
	require.NoError(t, err)
	require.Same(t, runtime.Sessions, resolvedSessions)

	resolvedPolicy, err := usecase.Resolve[*policy.Compiled](runtime.Container, UseCaseAuthorizeAction)
	require.NoError(t, err)
	require.Same(t, runtime.Policy, resolvedPolicy)
}
