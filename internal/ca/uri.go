package ca

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
)

// ErrUnregisteredScheme is returned when no URIFetcher is registered
// for a custom-CA URI's scheme.
var ErrUnregisteredScheme = errors.New("ca: no fetcher registered for uri scheme")

// URIFetcher retrieves the raw bytes a custom-CA certificateUri or
// privateKeyUri names. A deployed build can register one fetcher per
// URI scheme it understands (file://, vault://, secretsmanager://,
// ...); this module ships only the file:// fetcher, since the concrete
// secret-store bindings are external collaborators.
type URIFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// URIResolver is a scheme-keyed registry of URIFetchers, grounded on
// the teacher's MultiSecretClient (internal/envoy/secrets.go): dispatch
// by URL scheme to whichever fetcher is registered for it.
type URIResolver struct {
	mu       sync.RWMutex
	fetchers map[string]URIFetcher
}

// NewURIResolver constructs an empty resolver.
func NewURIResolver() *URIResolver {
	return &URIResolver{fetchers: make(map[string]URIFetcher)}
}

// Register associates scheme (e.g. "file") with fetcher.
func (r *URIResolver) Register(scheme string, fetcher URIFetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[scheme] = fetcher
}

// Fetch dispatches uri to the fetcher registered for its scheme.
func (r *URIResolver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("ca: invalid uri %q: %w", uri, err)
	}

	r.mu.RLock()
	fetcher, ok := r.fetchers[parsed.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredScheme, parsed.Scheme)
	}
	return fetcher.Fetch(ctx, uri)
}

// FileFetcher resolves file:// URIs from the local filesystem.
type FileFetcher struct{}

// Fetch reads the file named by uri's path component.
func (FileFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(parsed.Path)
}

// LoadCustomCA resolves certificateUri and privateKeyUri through
// resolver, parses the PEM-encoded certificate and private key, and
// returns the KeyPair custom-CA mode adopts (keystore.Store.Adopt
// persists it under the runtime passphrase).
func LoadCustomCA(ctx context.Context, resolver *URIResolver, certificateURI, privateKeyURI string) (*KeyPair, error) {
	certPEM, err := resolver.Fetch(ctx, certificateURI)
	if err != nil {
		return nil, fmt.Errorf("ca: failed to fetch custom CA certificate: %w", err)
	}
	keyPEM, err := resolver.Fetch(ctx, privateKeyURI)
	if err != nil {
		return nil, fmt.Errorf("ca: failed to fetch custom CA private key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errors.New("ca: custom CA certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: failed to parse custom CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("ca: custom CA private key is not valid PEM")
	}
	signer, keyType, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: failed to parse custom CA private key: %w", err)
	}

	return &KeyPair{Type: keyType, PrivateKey: signer, Certificate: cert, DER: certBlock.Bytes}, nil
}

// parsePrivateKey accepts PKCS8, PKCS1 (RSA), and SEC1 (EC) DER
// encodings, the three shapes a custom CA's private key PEM file is
// realistically delivered in.
func parsePrivateKey(der []byte) (crypto.Signer, KeyType, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return signerKeyType(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return signerKeyType(key)
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return signerKeyType(key)
	}
	return nil, "", errors.New("ca: unrecognized private key encoding")
}

func signerKeyType(key any) (crypto.Signer, KeyType, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch k.N.BitLen() {
		case 2048:
			return k, RSA2048, nil
		case 4096:
			return k, RSA4096, nil
		default:
			return k, RSA2048, nil
		}
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return k, ECDSAP256, nil
		case elliptic.P384():
			return k, ECDSAP384, nil
		default:
			return nil, "", fmt.Errorf("ca: unsupported EC curve %s", k.Curve.Params().Name)
		}
	default:
		return nil, "", fmt.Errorf("ca: unsupported private key type %T", key)
	}
}
