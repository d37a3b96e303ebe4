// Package ca implements the local Certificate Authority: it produces the
// self-signed CA certificate and the short-lived server/client leaves
// issued to subscribers. It does not persist anything to disk — that is
// internal/keystore's job — it only knows how to turn key material into
// X.509 bytes.
package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SKI uses SHA-1 per RFC 5280 method 1, not for signing
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// KeyType enumerates the supported CA/leaf key algorithms.
type KeyType string

const (
	RSA2048   KeyType = "RSA-2048"
	RSA4096   KeyType = "RSA-4096"
	ECDSAP256 KeyType = "ECDSA-P256"
	ECDSAP384 KeyType = "ECDSA-P384"
)

var ErrUnsupportedKeyType = errors.New("unsupported key type")

// serialBits is the width of the random serial number: 160 random bits,
// per spec. Collisions are treated as impossible and are not checked for.
const serialBits = 160

// KeyPair is a generated private key plus, once signed, its certificate.
type KeyPair struct {
	Type        KeyType
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
	// DER is the signed certificate's raw bytes; nil until Sign populates it.
	DER []byte
}

// GenerateKey creates an unsigned private key of the given type.
func GenerateKey(keyType KeyType) (crypto.Signer, error) {
	switch keyType {
	case RSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case RSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	case ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}
}

func signatureAlgorithm(keyType KeyType) x509.SignatureAlgorithm {
	switch keyType {
	case RSA2048, RSA4096:
		return x509.SHA256WithRSA
	case ECDSAP256, ECDSAP384:
		return x509.ECDSAWithSHA256
	default:
		return x509.UnknownSignatureAlgorithm
	}
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), serialBits)
	return rand.Int(rand.Reader, limit)
}

// Subject is the fixed X.500 name used for both the CA and leaf subjects;
// only the common name varies per profile.
func subject(commonName string) pkix.Name {
	return pkix.Name{
		Organization: []string{"Client Device Auth"},
		CommonName:   commonName,
	}
}

// subjectKeyID computes the Subject Key Identifier per RFC 5280 method 1:
// the SHA-1 hash of the DER-encoded public key.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(der) //nolint:gosec
	return sum[:], nil
}

// GenerateCA produces a new self-signed CA certificate for the given key
// type. Subject and issuer are identical (self-signed); basicConstraints
// is CA:true and the Subject Key Identifier is populated.
func GenerateCA(keyType KeyType, commonName string, lifetime time.Duration) (*KeyPair, error) {
	key, err := GenerateKey(keyType)
	if err != nil {
		return nil, err
	}
	return SignCA(key, keyType, commonName, lifetime)
}

// SignCA self-signs an existing key as a CA certificate. Used both for
// fresh generation and for re-signing an adopted custom CA key.
func SignCA(key crypto.Signer, keyType KeyType, commonName string, lifetime time.Duration) (*KeyPair, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("error generating serial number: %w", err)
	}

	ski, err := subjectKeyID(key.Public())
	if err != nil {
		return nil, fmt.Errorf("error computing subject key identifier: %w", err)
	}

	name := subject(commonName)
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(lifetime),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    signatureAlgorithm(keyType),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("error self-signing CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("error parsing generated CA certificate: %w", err)
	}

	return &KeyPair{Type: keyType, PrivateKey: key, Certificate: cert, DER: der}, nil
}

// LeafProfile selects the extended key usage and SAN handling for a leaf
// certificate.
type LeafProfile int

const (
	ServerProfile LeafProfile = iota
	ClientProfile
)

// IssueLeaf signs a new leaf key pair under ca for the given profile. For
// ServerProfile, hostsOrIPs is parsed into SubjectAltName dNSName/iPAddress
// entries, deduplicated preserving first occurrence; for ClientProfile it
// is ignored (no SAN).
func IssueLeaf(ca *KeyPair, keyType KeyType, commonName string, profile LeafProfile, hostsOrIPs []string, lifetime time.Duration) (*KeyPair, error) {
	key, err := GenerateKey(keyType)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("error generating serial number: %w", err)
	}
	ski, err := subjectKeyID(key.Public())
	if err != nil {
		return nil, fmt.Errorf("error computing subject key identifier: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(commonName),
		Issuer:                ca.Certificate.Subject,
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(lifetime),
		IsCA:                  false,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		SubjectKeyId:          ski,
		AuthorityKeyId:        ca.Certificate.SubjectKeyId,
		SignatureAlgorithm:    signatureAlgorithm(ca.Type),
	}

	switch profile {
	case ServerProfile:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		dns, ips := buildSANs(hostsOrIPs)
		template.DNSNames = dns
		template.IPAddresses = ips
	case ClientProfile:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, key.Public(), ca.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("error signing leaf certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("error parsing generated leaf certificate: %w", err)
	}

	return &KeyPair{Type: keyType, PrivateKey: key, Certificate: cert, DER: der}, nil
}

// buildSANs splits hostsOrIPs into dNSName and iPAddress entries,
// preserving first-occurrence order and dropping duplicates regardless of
// which bucket they land in.
func buildSANs(hostsOrIPs []string) (dnsNames []string, ips []net.IP) {
	seen := make(map[string]struct{}, len(hostsOrIPs))
	for _, entry := range hostsOrIPs {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}

		if ip := net.ParseIP(entry); ip != nil {
			ips = append(ips, ip)
			continue
		}
		dnsNames = append(dnsNames, entry)
	}
	return dnsNames, ips
}
