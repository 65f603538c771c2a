package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/config"
)

func writeKeyPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "redis-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "redis.crt")
	keyPath = filepath.Join(dir, "redis.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestRedisTLSConfig_ReadsConfiguredFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir)

	tlsCfg, err := redisTLSConfig(config.RedisConfig{
		TLSCAFile:   certPath,
		TLSCertFile: certPath,
		TLSKeyFile:  keyPath,
	})
	require.NoError(t, err)
	assert.Len(t, tlsCfg.Certificates, 1)
	assert.NotNil(t, tlsCfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
}

func TestRedisTLSConfig_MissingCA(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir)

	_, err := redisTLSConfig(config.RedisConfig{
		TLSCAFile:   filepath.Join(dir, "missing.crt"),
		TLSCertFile: certPath,
		TLSKeyFile:  keyPath,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CA file")
}

func TestRedisClient_HealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	require.NoError(t, rc.HealthCheck(context.Background()))
	assert.False(t, mr.Exists("healthcheck:access-service"))
}
