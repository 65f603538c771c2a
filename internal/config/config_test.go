package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Policy.ChallengeTTL)
	assert.Equal(t, []string{"cricket", "science"}, cfg.Policy.AlertKeywords)
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddress())
}

func TestLoad_NestedOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SCYLLA_NODES", "a:9042,b:9042")
	t.Setenv("POLICY_CHALLENGE_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"a:9042", "b:9042"}, cfg.Scylla.Nodes)
	assert.Equal(t, 3, cfg.Policy.ChallengeMaxAttempts)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PAYMENT_KEY_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PAYMENT_KEY_SECRET", "s3cret")
	t.Setenv("HASHING_PEPPERS", "pepper-one")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RedisTLSFiles(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/app/certs/ca.crt", cfg.Redis.TLSCAFile)

	t.Setenv("REDIS_TLS_CA_FILE", "/etc/redis/ca.pem")
	t.Setenv("REDIS_TLS_CERT_FILE", "/etc/redis/client.pem")
	t.Setenv("REDIS_TLS_KEY_FILE", "/etc/redis/client.key")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/redis/ca.pem", cfg.Redis.TLSCAFile)
	assert.Equal(t, "/etc/redis/client.pem", cfg.Redis.TLSCertFile)
	assert.Equal(t, "/etc/redis/client.key", cfg.Redis.TLSKeyFile)
}
