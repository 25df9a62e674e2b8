package sslstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhu327/pingsix/internal/catalog"
)

func selfSignedPEM(t *testing.T, cn string) (certPEM, keyPEM string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return
}

func TestStore_ExactBeatsWildcard(t *testing.T) {
	exactCert, exactKey := selfSignedPEM(t, "api.example.com")
	wildCert, wildKey := selfSignedPEM(t, "*.example.com")

	s := New()
	err := s.Load([]*catalog.SSLCert{
		{ID: "exact", Cert: exactCert, Key: exactKey, SNIs: []string{"api.example.com"}},
		{ID: "wild", Cert: wildCert, Key: wildKey, SNIs: []string{"*.example.com"}},
	})
	require.NoError(t, err)

	got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "api.example.com"})
	require.NoError(t, err)
	require.NotNil(t, got)
	leaf, err := x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "api.example.com", leaf.Subject.CommonName)

	got2, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "other.example.com"})
	require.NoError(t, err)
	require.NotNil(t, got2)
	leaf2, err := x509.ParseCertificate(got2.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "*.example.com", leaf2.Subject.CommonName)
}

func TestStore_MostSpecificWildcardWins(t *testing.T) {
	broadCert, broadKey := selfSignedPEM(t, "*.example.com")
	narrowCert, narrowKey := selfSignedPEM(t, "*.eu.example.com")

	s := New()
	err := s.Load([]*catalog.SSLCert{
		{ID: "broad", Cert: broadCert, Key: broadKey, SNIs: []string{"*.example.com"}},
		{ID: "narrow", Cert: narrowCert, Key: narrowKey, SNIs: []string{"*.eu.example.com"}},
	})
	require.NoError(t, err)

	got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "svc.eu.example.com"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "*.eu.example.com", leaf.Subject.CommonName)
}

func TestStore_NoMatchReturnsNil(t *testing.T) {
	s := New()
	got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "nowhere.test"})
	require.NoError(t, err)
	require.Nil(t, got)
}
