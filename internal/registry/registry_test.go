package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/eventbus"
)

func TestValidThingName(t *testing.T) {
	require.True(t, ValidThingName("sensor-1:a_b"))
	require.False(t, ValidThingName(""))
	require.False(t, ValidThingName("has space"))
	require.False(t, ValidThingName("has/slash"))
}

func TestThingRegistryGetOrCreateRejectsBadName(t *testing.T) {
	r := NewThingRegistry()
	_, err := r.GetOrCreate("bad name")
	require.Error(t, err)
}

func TestThingRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewThingRegistry()
	a, err := r.GetOrCreate("sensor1")
	require.NoError(t, err)
	b, err := r.GetOrCreate("sensor1")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestThingRegistryNamesListsAllKnownThings(t *testing.T) {
	r := NewThingRegistry()
	_, err := r.GetOrCreate("sensor1")
	require.NoError(t, err)
	_, err = r.GetOrCreate("sensor2")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"sensor1", "sensor2"}, r.Names())
}

type fakeResolver struct {
	id      string
	verdict cloud.Verdict
	err     error
	calls   int
}

func (f *fakeResolver) GetIotCertificateIdForPem(ctx context.Context, pem string) (string, cloud.Verdict, error) {
	f.calls++
	return f.id, f.verdict, f.err
}

func TestCertificateRegistryOnlyCachesPositiveResults(t *testing.T) {
	resolver := &fakeResolver{id: "iot-cert-1", verdict: cloud.DefiniteFalse}
	reg, err := NewCertificateRegistry(4, resolver)
	require.NoError(t, err)

	_, verdict, err := reg.GetIotCertificateIdForPem(context.Background(), "pem-bytes")
	require.NoError(t, err)
	require.Equal(t, cloud.DefiniteFalse, verdict)

	_, _, err = reg.GetIotCertificateIdForPem(context.Background(), "pem-bytes")
	require.NoError(t, err)
	require.Equal(t, 2, resolver.calls, "negative result must not be cached")
}

func TestCertificateRegistryCachesPositiveResult(t *testing.T) {
	resolver := &fakeResolver{id: "iot-cert-1", verdict: cloud.DefiniteTrue}
	reg, err := NewCertificateRegistry(4, resolver)
	require.NoError(t, err)

	id1, _, err := reg.GetIotCertificateIdForPem(context.Background(), "pem-bytes")
	require.NoError(t, err)
	id2, _, err := reg.GetIotCertificateIdForPem(context.Background(), "pem-bytes")
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Equal(t, 1, resolver.calls, "positive result must be served from cache thereafter")
}

type fakeNetwork struct{ up bool }

func (f *fakeNetwork) Up() bool { return f.up }

type fakeVerifier struct {
	verdict cloud.Verdict
	err     error
}

func (f *fakeVerifier) VerifyThingAttachedToCertificate(ctx context.Context, thingName, certID string) (cloud.Verdict, error) {
	return f.verdict, f.err
}

func TestTrustModelCloudDefiniteTrueRecordsAttachment(t *testing.T) {
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	things := NewThingRegistry()
	model := NewTrustModel(bus, things, &fakeVerifier{verdict: cloud.DefiniteTrue}, &fakeNetwork{up: true}, 5*time.Minute)

	now := time.Now()
	decision, err := model.VerifyThingAttachedToCertificate(context.Background(), "sensor1", "cert-1", now)
	require.NoError(t, err)
	require.True(t, decision.Attached)
	require.Equal(t, SourceCloud, decision.Source)

	thing, ok := things.Get("sensor1")
	require.True(t, ok)
	_, attached := thing.LocalAttachment("cert-1")
	require.True(t, attached)
}

func TestTrustModelCloudDefiniteFalseIsNotAttached(t *testing.T) {
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	things := NewThingRegistry()
	model := NewTrustModel(bus, things, &fakeVerifier{verdict: cloud.DefiniteFalse}, &fakeNetwork{up: true}, 5*time.Minute)

	decision, err := model.VerifyThingAttachedToCertificate(context.Background(), "sensor1", "cert-1", time.Now())
	require.NoError(t, err)
	require.False(t, decision.Attached)
	require.Equal(t, SourceCloud, decision.Source)
}

func TestTrustModelFallsBackToLocalWhenOffline(t *testing.T) {
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	things := NewThingRegistry()
	model := NewTrustModel(bus, things, &fakeVerifier{verdict: cloud.DefiniteTrue}, &fakeNetwork{up: false}, 5*time.Minute)

	thing, err := things.GetOrCreate("sensor1")
	require.NoError(t, err)
	thing.Attach("cert-1", time.Now())

	decision, err := model.VerifyThingAttachedToCertificate(context.Background(), "sensor1", "cert-1", time.Now())
	require.NoError(t, err)
	require.True(t, decision.Attached)
	require.Equal(t, SourceLocal, decision.Source)
}

func TestTrustModelIndefiniteErrorFallsBackToLocal(t *testing.T) {
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	things := NewThingRegistry()
	model := NewTrustModel(bus, things, &fakeVerifier{err: errors.New("throttled")}, &fakeNetwork{up: true}, 5*time.Minute)

	thing, err := things.GetOrCreate("sensor1")
	require.NoError(t, err)
	thing.Attach("cert-1", time.Now())

	decision, err := model.VerifyThingAttachedToCertificate(context.Background(), "sensor1", "cert-1", time.Now())
	require.NoError(t, err)
	require.True(t, decision.Attached)
	require.Equal(t, SourceLocal, decision.Source)
}

func TestTrustModelZeroTrustDurationExpiresImmediately(t *testing.T) {
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	things := NewThingRegistry()
	model := NewTrustModel(bus, things, &fakeVerifier{verdict: cloud.DefiniteTrue}, &fakeNetwork{up: false}, 0)

	thing, err := things.GetOrCreate("sensor1")
	require.NoError(t, err)
	thing.Attach("cert-1", time.Now())

	decision, err := model.VerifyThingAttachedToCertificate(context.Background(), "sensor1", "cert-1", time.Now().Add(time.Millisecond))
	require.NoError(t, err)
	require.False(t, decision.Attached)
}

func TestTrustModelSecurityConfigurationChangedUpdatesDuration(t *testing.T) {
	bus := eventbus.New(hclog.NewNullLogger(), nil)
	things := NewThingRegistry()
	model := NewTrustModel(bus, things, &fakeVerifier{}, &fakeNetwork{up: false}, 5*time.Minute)

	bus.Emit(eventbus.SecurityConfigurationChanged{TrustDurationMinutes: 0})

	require.Zero(t, model.trustDuration())
}

func TestComponentRegistryRecognizesSeededAndRegisteredClientIDs(t *testing.T) {
	components := NewComponentRegistry("aws.greengrass.ShadowManager")
	require.True(t, components.IsComponent("aws.greengrass.ShadowManager"))
	require.False(t, components.IsComponent("device-123"))

	components.Register("device-123")
	require.True(t, components.IsComponent("device-123"))
}
