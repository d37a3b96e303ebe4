// Package cloud defines the external collaborator surface this module
// consumes from the concrete cloud SDK binding. The binding itself
// (authentication, wire protocol, retry transport) is explicitly out of
// scope; only the interfaces the domain layer calls against live here.
package cloud

import "context"

// Verdict distinguishes a definite cloud answer from an indefinite one.
// Per spec: a validation/not-found response is a definite negative;
// service/transport errors (throttling, internal server equivalents)
// are indefinite and fall through to local trust instead.
type Verdict int

const (
	Indefinite Verdict = iota
	DefiniteTrue
	DefiniteFalse
)

// ThingVerifier answers "is this certificate currently attached to this
// thing" against the cloud's source of truth.
type ThingVerifier interface {
	VerifyThingAttachedToCertificate(ctx context.Context, thingName, iotCertificateID string) (Verdict, error)
}

// CertificateResolver maps a device certificate's PEM text to the
// cloud-assigned IoT certificate id, if any.
type CertificateResolver interface {
	GetIotCertificateIdForPem(ctx context.Context, pem string) (iotCertificateID string, verdict Verdict, err error)
}

// ThingAttributesFetcher supplies ThingAttributesCache's periodic
// refresh: per-thing attribute maps and the association between a
// client id and the thing names it may authenticate as.
type ThingAttributesFetcher interface {
	FetchThingAttributes(ctx context.Context, thingName string) (map[string]string, error)
	FetchAssociatedThingNames(ctx context.Context, clientID string) ([]string, error)
}
