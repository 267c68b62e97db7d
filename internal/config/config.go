package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendRemote = "remote"
	BackendLorem  = "lorem"

	DefaultPort              = 8000
	DefaultBackendTimeout    = 60 * time.Second
	DefaultMaxConcurrency    = 1
	DefaultTokenizerEncoding = "cl100k_base"

	EnvBaseURL = "LLS_BASE_URL"
	EnvAPIKey  = "LLS_API_KEY"
	EnvPort    = "SHIM_PORT"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

// BackendConfig describes the inference backend.
type BackendConfig struct {
	Kind    string        `yaml:"kind"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Headers Headers       `yaml:"headers"`
	Timeout time.Duration `yaml:"timeout"`
}

// Headers contains additional HTTP headers to send with a backend request.
type Headers map[string]string

// AdapterConfig tunes request translation.
type AdapterConfig struct {
	// DefaultMaxTokens applies when the caller omits max_tokens; zero
	// leaves the choice to the backend.
	DefaultMaxTokens  int    `yaml:"default_max_tokens"`
	MaxConcurrency    int    `yaml:"max_concurrency"`
	CountUsage        bool   `yaml:"count_usage"`
	TokenizerEncoding string `yaml:"tokenizer_encoding"`
}

// Default returns a configuration usable without a file.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort},
		Backend: BackendConfig{
			Kind:    BackendRemote,
			Timeout: DefaultBackendTimeout,
		},
		Adapter: AdapterConfig{
			MaxConcurrency:    DefaultMaxConcurrency,
			TokenizerEncoding: DefaultTokenizerEncoding,
		},
	}
}

// Load reads YAML configuration from disk, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads the first .env file found walking up from dir. Variables
// already present in the environment win.
func LoadDotEnv(dir string) (string, error) {
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return "", fmt.Errorf("load %q: %w", envPath, err)
			}
			return envPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.Backend.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Backend.APIKey = v
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	for i, key := range c.Server.APIKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("server.api_keys[%d] must not be empty", i)
		}
	}

	if err := validateBackend(c.Backend); err != nil {
		return err
	}

	if c.Adapter.DefaultMaxTokens < 0 {
		return fmt.Errorf("adapter.default_max_tokens must not be negative, got %d", c.Adapter.DefaultMaxTokens)
	}
	if c.Adapter.MaxConcurrency < 1 {
		return fmt.Errorf("adapter.max_concurrency must be at least 1, got %d", c.Adapter.MaxConcurrency)
	}
	if c.Adapter.CountUsage && strings.TrimSpace(c.Adapter.TokenizerEncoding) == "" {
		return fmt.Errorf("adapter.tokenizer_encoding must be set when count_usage is enabled")
	}

	return nil
}

func validateBackend(backend BackendConfig) error {
	switch backend.Kind {
	case BackendRemote:
		if strings.TrimSpace(backend.BaseURL) == "" {
			return fmt.Errorf("backend.base_url must be provided for kind %q", BackendRemote)
		}
		if !strings.HasPrefix(backend.BaseURL, "http://") && !strings.HasPrefix(backend.BaseURL, "https://") {
			return fmt.Errorf("backend.base_url %q must use http or https", backend.BaseURL)
		}
	case BackendLorem:
	default:
		return fmt.Errorf("backend.kind %q must be one of %q or %q", backend.Kind, BackendRemote, BackendLorem)
	}

	if backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative, got %s", backend.Timeout)
	}

	for headerKey := range backend.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("backend header %q is not a valid canonical HTTP header", headerKey)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
