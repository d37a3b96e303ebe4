package session

import (
	"context"
	"time"

	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/registry"
)

// Credentials is the marker interface for anything a Factory can
// authenticate; concrete credential shapes (MQTTCredentials today) are
// type-switched on by the factory that understands them.
type Credentials interface {
	credentialsMarker()
}

// MQTTCredentials are presented by an MQTT client: the connecting
// client id and the leaf certificate it authenticated TLS with.
type MQTTCredentials struct {
	ClientID       string
	CertificatePEM string
}

func (MQTTCredentials) credentialsMarker() {}

// Factory authenticates one credential type into a Session.
type Factory interface {
	Authenticate(ctx context.Context, credentials Credentials) (*Session, error)
}

// CertificateResolver is the subset of CertificateRegistry the MQTT
// factory needs.
type CertificateResolver interface {
	GetIotCertificateIdForPem(ctx context.Context, pem string) (id string, verdict cloud.Verdict, err error)
}

// ThingAttacher is the subset of the trust model the MQTT factory needs.
type ThingAttacher interface {
	VerifyThingAttachedToCertificate(ctx context.Context, thingName, iotCertificateID string, now time.Time) (registry.VerificationDecision, error)
}

// ComponentRegistry recognizes locally-registered component client ids,
// which bypass the thing/certificate checks entirely.
type ComponentRegistry interface {
	IsComponent(clientID string) bool
}

// AttributesProvider supplies the Thing.ThingAttributes.* session
// attributes from the periodically refreshed thing attributes cache.
// Optional: a nil Attributes field on MQTTFactory simply yields a
// thing session with no ThingAttributes.* entries.
type AttributesProvider interface {
	Attributes(ctx context.Context, thingName string) (map[string]string, error)
}

// MQTTFactory implements the spec's "mqtt" credential type.
type MQTTFactory struct {
	Certificates CertificateResolver
	Trust        ThingAttacher
	Components   ComponentRegistry
	Attributes   AttributesProvider
}

// Authenticate runs the four-step MQTT authentication contract:
// component bypass, certificate resolution, thing/cert attachment
// verification, and a definite-negative-only failure policy.
func (f *MQTTFactory) Authenticate(ctx context.Context, credentials Credentials) (*Session, error) {
	creds, ok := credentials.(MQTTCredentials)
	if !ok {
		return nil, authErrorf("mqtt factory received unsupported credential type")
	}

	if f.Components != nil && f.Components.IsComponent(creds.ClientID) {
		return newSession(reservedSessionID, componentSessionAttrs(creds.ClientID), ""), nil
	}

	certID, verdict, err := f.Certificates.GetIotCertificateIdForPem(ctx, creds.CertificatePEM)
	if err != nil {
		return nil, &AuthenticationError{Message: "certificate lookup failed", Cause: err}
	}
	if verdict != cloud.DefiniteTrue {
		return nil, authErrorf("certificate not recognized")
	}

	thingName := creds.ClientID
	decision, err := f.Trust.VerifyThingAttachedToCertificate(ctx, thingName, certID, time.Now())
	if err != nil {
		return nil, &AuthenticationError{Message: "thing attachment verification failed", Cause: err}
	}
	if !decision.Attached {
		return nil, authErrorf("thing %q is not attached to the presented certificate", thingName)
	}

	var thingAttributes map[string]string
	if f.Attributes != nil {
		// A failure here is discarded without logging and the session
		// carries no ThingAttributes entries (the cache itself falls back
		// to a stale value where one exists); it must
		// never fail authentication, which only the cert/attachment
		// checks above are allowed to do.
		thingAttributes, _ = f.Attributes.Attributes(ctx, thingName)
	}

	clientKey := thingName + "|" + certID
	return newSession(reservedSessionID, thingSessionAttrs(thingName, certID, thingAttributes), clientKey), nil
}

// reservedSessionID is a placeholder the Manager overwrites with a
// freshly generated id once authentication succeeds; factories do not
// allocate ids themselves so the Manager remains the single owner of
// id uniqueness and collision retry.
const reservedSessionID = ""
