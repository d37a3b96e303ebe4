package registry

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/keystore"
)

// CertificateRegistry caches the cloud-assigned IoT certificate id for
// a device certificate's PEM text, keyed by keystore.CertificateID
// (SHA-256 hex of the PEM bytes) — the same id used to content-address
// the certificate on disk, so a positive verification and the stored
// certificate always agree on identity.
//
// Per spec, only positive cloud responses populate the cache: a
// negative or inactive-certificate response is never cached, so it is
// never sticky across a later legitimate attachment.
type CertificateRegistry struct {
	cache    *lru.Cache
	resolver cloud.CertificateResolver
}

// NewCertificateRegistry creates a registry bounded to capacity entries
// evicted by approximate LRU.
func NewCertificateRegistry(capacity int, resolver cloud.CertificateResolver) (*CertificateRegistry, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &CertificateRegistry{cache: cache, resolver: resolver}, nil
}

// GetIotCertificateIdForPem resolves pem to its cloud certificate id,
// consulting the cache first. A cache hit is treated as a definite
// positive without a cloud round-trip.
func (r *CertificateRegistry) GetIotCertificateIdForPem(ctx context.Context, pem string) (string, cloud.Verdict, error) {
	key := keystore.CertificateID([]byte(pem))

	if cached, ok := r.cache.Get(key); ok {
		return cached.(string), cloud.DefiniteTrue, nil
	}

	id, verdict, err := r.resolver.GetIotCertificateIdForPem(ctx, pem)
	if err != nil {
		return "", cloud.Indefinite, err
	}
	if verdict == cloud.DefiniteTrue {
		r.cache.Add(key, id)
	}
	return id, verdict, nil
}
