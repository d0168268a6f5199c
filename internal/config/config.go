// Package config loads the TOML configuration file and applies environment
// overrides. Validation is a separate step so callers can layer flag
// overrides before validating.
package config

import "time"

// Config is the root of config.toml.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	DeepSeek  DeepSeekConfig  `toml:"deepseek"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Quota     QuotaConfig     `toml:"quota"`
	Security  SecurityConfig  `toml:"security"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return hostPort(host, s.Port)
}

// AuthConfig carries the JWT settings and the bootstrap user list. Users
// declared here are imported only when the users directory is empty; after
// that the on-disk store is authoritative.
type AuthConfig struct {
	JWTSecret       string          `toml:"jwt_secret"`
	TokenTTLSeconds int             `toml:"token_ttl_seconds"`
	Users           []BootstrapUser `toml:"users"`
}

type BootstrapUser struct {
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	QuotaTier string `toml:"quota_tier"`
	IsActive  *bool  `toml:"is_active"`
}

type DeepSeekConfig struct {
	APIKey         string           `toml:"api_key"`
	BaseURL        string           `toml:"base_url"`
	TimeoutSeconds int              `toml:"timeout_seconds"`
	HTTPClient     HTTPClientConfig `toml:"http_client"`
}

// HTTPClientConfig tunes the upstream connection pool.
type HTTPClientConfig struct {
	PoolMaxIdlePerHost     int  `toml:"pool_max_idle_per_host"`
	PoolIdleTimeoutSeconds int  `toml:"pool_idle_timeout_seconds"`
	ConnectTimeoutSeconds  int  `toml:"connect_timeout_seconds"`
	TCPNoDelay             bool `toml:"tcp_nodelay"`
	HTTP2AdaptiveWindow    bool `toml:"http2_adaptive_window"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `toml:"requests_per_second"`
}

type QuotaConfig struct {
	SaveInterval    uint32           `toml:"save_interval"`
	MonthlyResetDay int              `toml:"monthly_reset_day"`
	Tiers           QuotaTiersConfig `toml:"tiers"`
}

type QuotaTiersConfig struct {
	Basic   uint32 `toml:"basic"`
	Pro     uint32 `toml:"pro"`
	Premium uint32 `toml:"premium"`
}

// Limit returns the monthly limit for a tier name, false if unknown.
func (q QuotaTiersConfig) Limit(tier string) (uint32, bool) {
	switch tier {
	case "basic":
		return q.Basic, true
	case "pro":
		return q.Pro, true
	case "premium":
		return q.Premium, true
	default:
		return 0, false
	}
}

type SecurityConfig struct {
	LoginFailWindowSeconds int    `toml:"login_fail_window_seconds"`
	LoginFailThreshold     int    `toml:"login_fail_threshold"`
	WebhookURL             string `toml:"webhook_url"`
}

// EffectiveTokenTTL is the reuse window for issued tokens, capped at one
// minute so rotation stays frequent even with a generous configured TTL.
func (c *Config) EffectiveTokenTTL() time.Duration {
	ttl := c.Auth.TokenTTLSeconds
	if ttl > 60 {
		ttl = 60
	}
	return time.Duration(ttl) * time.Second
}

// Default returns the configuration defaults matching the documented TOML.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Auth:   AuthConfig{TokenTTLSeconds: 3600},
		DeepSeek: DeepSeekConfig{
			BaseURL:        "https://api.deepseek.com",
			TimeoutSeconds: 300,
			HTTPClient: HTTPClientConfig{
				PoolMaxIdlePerHost:     20,
				PoolIdleTimeoutSeconds: 90,
				ConnectTimeoutSeconds:  10,
				TCPNoDelay:             true,
				HTTP2AdaptiveWindow:    true,
			},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10},
		Quota: QuotaConfig{
			SaveInterval:    100,
			MonthlyResetDay: 1,
			Tiers:           QuotaTiersConfig{Basic: 500, Pro: 1000, Premium: 1500},
		},
		Security: SecurityConfig{
			LoginFailWindowSeconds: 60,
			LoginFailThreshold:     5,
		},
	}
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.DeepSeek.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		return ErrInvalidTokenTTL
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return ErrInvalidRateLimit
	}
	return nil
}
