package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Load reads the TOML file at path and applies environment overrides.
// A `.env` file next to the working directory is honored if present.
// Validation is NOT performed here; call cfg.Validate() after any further
// overrides have been applied.
func Load(path string) (*Config, error) {
	// Best effort, matching dotenv semantics: absence is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrConfigFileNotFound
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// applyEnvironmentOverrides layers environment variables over the file
// values. The upstream API key always wins from the environment so the
// secret can stay out of config.toml.
func applyEnvironmentOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.DeepSeek.APIKey = key
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if url := os.Getenv("DEEPSEEK_BASE_URL"); url != "" {
		cfg.DeepSeek.BaseURL = url
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
