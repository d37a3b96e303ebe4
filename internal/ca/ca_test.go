package ca

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateCASelfSigned(t *testing.T) {
	pair, err := GenerateCA(RSA2048, "core", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, pair.Certificate.IsCA)
	require.Equal(t, pair.Certificate.Subject.String(), pair.Certificate.Issuer.String())
	require.NoError(t, pair.Certificate.CheckSignatureFrom(pair.Certificate))
}

func TestIssueLeafServerSANsDedupedPreservingOrder(t *testing.T) {
	caPair, err := GenerateCA(RSA2048, "core", 24*time.Hour)
	require.NoError(t, err)

	leaf, err := IssueLeaf(caPair, RSA2048, "core", ServerProfile,
		[]string{"1.2.3.4", "gw.example", "1.2.3.4", "gw.example"}, time.Hour)
	require.NoError(t, err)

	require.Len(t, leaf.Certificate.IPAddresses, 1)
	require.Equal(t, "1.2.3.4", leaf.Certificate.IPAddresses[0].String())
	require.Equal(t, []string{"gw.example"}, leaf.Certificate.DNSNames)
	require.Equal(t, caPair.Certificate.Subject.String(), leaf.Certificate.Issuer.String())
	require.Contains(t, leaf.Certificate.ExtKeyUsage, x509.ExtKeyUsageServerAuth) // id_kp_serverAuth
	require.False(t, leaf.Certificate.IsCA)
}

func TestIssueLeafClientHasNoSAN(t *testing.T) {
	caPair, err := GenerateCA(ECDSAP256, "core", 24*time.Hour)
	require.NoError(t, err)

	leaf, err := IssueLeaf(caPair, ECDSAP256, "device-1", ClientProfile, nil, time.Hour)
	require.NoError(t, err)

	require.Empty(t, leaf.Certificate.DNSNames)
	require.Empty(t, leaf.Certificate.IPAddresses)
}

func TestGenerateKeyRejectsUnsupportedType(t *testing.T) {
	_, err := GenerateKey("not-a-real-type")
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
}
