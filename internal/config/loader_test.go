package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[server]
host = "127.0.0.1"
port = 9000

[auth]
jwt_secret = "file-secret"
token_ttl_seconds = 120

[[auth.users]]
username = "alice"
password = "pw1"
quota_tier = "pro"

[deepseek]
api_key = "file-key"
base_url = "https://api.deepseek.com"
timeout_seconds = 60

[deepseek.http_client]
pool_max_idle_per_host = 5

[rate_limit]
requests_per_second = 25

[quota]
save_interval = 10

[quota.tiers]
basic = 100

[security]
login_fail_threshold = 3
webhook_url = "http://hooks.local/sec"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "pro", cfg.Auth.Users[0].QuotaTier)

	// Explicit values stick, absent keys keep their defaults.
	assert.Equal(t, 5, cfg.DeepSeek.HTTPClient.PoolMaxIdlePerHost)
	assert.Equal(t, 90, cfg.DeepSeek.HTTPClient.PoolIdleTimeoutSeconds)
	assert.Equal(t, uint32(10), cfg.Quota.SaveInterval)
	assert.Equal(t, uint32(100), cfg.Quota.Tiers.Basic)
	assert.Equal(t, uint32(1000), cfg.Quota.Tiers.Pro)
	assert.Equal(t, 3, cfg.Security.LoginFailThreshold)
	assert.Equal(t, 60, cfg.Security.LoginFailWindowSeconds)
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.DeepSeek.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.DeepSeek.APIKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)

	cfg = Default()
	cfg.DeepSeek.APIKey = "k"
	cfg.Auth.JWTSecret = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingJWTSecret)
}

func TestEffectiveTokenTTL(t *testing.T) {
	cfg := Default()
	cfg.Auth.TokenTTLSeconds = 3600
	assert.Equal(t, "1m0s", cfg.EffectiveTokenTTL().String())

	cfg.Auth.TokenTTLSeconds = 30
	assert.Equal(t, "30s", cfg.EffectiveTokenTTL().String())
}

func TestTierLimit(t *testing.T) {
	tiers := Default().Quota.Tiers
	limit, ok := tiers.Limit("premium")
	assert.True(t, ok)
	assert.Equal(t, uint32(1500), limit)

	_, ok = tiers.Limit("enterprise")
	assert.False(t, ok)
}
