package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrMissingAPIKey      = errors.New("deepseek api key is not set (OPENAI_API_KEY env or deepseek.api_key)")
	ErrMissingJWTSecret   = errors.New("auth.jwt_secret is required")
	ErrInvalidTokenTTL    = errors.New("auth.token_ttl_seconds must be positive")
	ErrInvalidRateLimit   = errors.New("rate_limit.requests_per_second must be positive")
)
