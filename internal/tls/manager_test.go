package tls

import (
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/config"
)

func TestDevCertIsGeneratedOnceAndReused(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"api.local", "127.0.0.1"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "api.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	second, err := gen.GenerateCert([]string{"other.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
	assert.FileExists(t, filepath.Join(dir, "dev-key.pem"))
}

func TestManagerFallsBackToDevCertOutsideProduction(t *testing.T) {
	cfg := &config.Config{Environment: "development"}
	cfg.Server.EnableTLS = true
	cfg.Server.Domain = "localhost"
	cfg.Server.AutoCertDir = t.TempDir()

	m := NewTLSManager(cfg)
	assert.Nil(t, m.GetAutocertManager())

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)
	assert.Equal(t, uint16(tls.VersionTLS12), m.GetTLSConfig().MinVersion)
}

func TestManagerRefusesSelfSignedInProduction(t *testing.T) {
	cfg := &config.Config{Environment: "production"}
	cfg.Server.EnableTLS = true
	cfg.Server.AutoCertDir = t.TempDir()

	_, err := NewTLSManager(cfg).GetCertificate(&tls.ClientHelloInfo{})
	assert.ErrorIs(t, err, errNoCertificate)
}
