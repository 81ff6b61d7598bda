// Package config loads the run configuration file: platform URL, config
// root, and authentication credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Supported auth scheme names.
const (
	SchemeAPIKey           = "ApiKeyAuth"
	SchemeUsernamePassword = "UsernamePasswordAuth"
	SchemeOAuth2           = "OAuth2Auth"
)

// Config is the top-level run configuration.
type Config struct {
	BaseURL    string     `yaml:"base_url"`
	ConfigRoot string     `yaml:"config_root"`
	Auth       AuthConfig `yaml:"auth_config"`
}

// AuthConfig selects an auth scheme and carries its credentials. Credential
// values may be indirected through a source (see Credential).
type AuthConfig struct {
	Scheme       string     `yaml:"scheme"`
	APIKey       Credential `yaml:"apiKey"`
	Username     Credential `yaml:"username"`
	Password     Credential `yaml:"password"`
	IAMID        string     `yaml:"iamid"`
	RefreshToken Credential `yaml:"refresh_token"`
	ClientID     Credential `yaml:"client_id"`
	ClientSecret Credential `yaml:"client_secret"`
}

// Credential is a secret value that is either inline or resolved from the
// environment. The YAML form is either a plain scalar or a mapping with
// source (ENV or LOCAL) and key/value.
type Credential struct {
	Source string `yaml:"source"`
	Key    string `yaml:"key"`
	Value  string `yaml:"value"`
}

// UnmarshalYAML accepts either a bare scalar or the source/key mapping form.
func (c *Credential) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Source = "LOCAL"
		c.Value = node.Value
		return nil
	}
	type plain Credential
	return node.Decode((*plain)(c))
}

// Resolve returns the credential value, reading the environment when the
// source is ENV. An unset environment variable is an error; silently empty
// credentials make for miserable debugging.
func (c Credential) Resolve() (string, error) {
	switch c.Source {
	case "ENV":
		value, ok := os.LookupEnv(c.Key)
		if !ok {
			return "", fmt.Errorf("no value for env var %s", c.Key)
		}
		return value, nil
	case "", "LOCAL":
		return c.Value, nil
	default:
		return "", fmt.Errorf("unknown credential source %q", c.Source)
	}
}

// IsSet reports whether the credential carries any value or indirection.
func (c Credential) IsSet() bool {
	return c.Value != "" || c.Key != ""
}

// Load reads and validates the configuration file. A relative config_root
// is resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if !filepath.IsAbs(cfg.ConfigRoot) {
		base, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config root: %w", err)
		}
		cfg.ConfigRoot = filepath.Join(base, cfg.ConfigRoot)
	}

	return &cfg, nil
}

// Validate ensures required keys exist for the selected auth scheme.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.ConfigRoot == "" {
		return fmt.Errorf("config_root is required")
	}

	switch c.Auth.Scheme {
	case SchemeAPIKey:
		if !c.Auth.APIKey.IsSet() {
			return fmt.Errorf("apiKey required when using %s", SchemeAPIKey)
		}
	case SchemeUsernamePassword:
		if !c.Auth.Username.IsSet() || !c.Auth.Password.IsSet() || c.Auth.IAMID == "" {
			return fmt.Errorf("username, password and iamid required when using %s", SchemeUsernamePassword)
		}
	case SchemeOAuth2:
		if !c.Auth.RefreshToken.IsSet() || !c.Auth.ClientID.IsSet() || !c.Auth.ClientSecret.IsSet() {
			return fmt.Errorf("refresh_token, client_id and client_secret required when using %s", SchemeOAuth2)
		}
	case "":
		return fmt.Errorf("auth_config.scheme is required")
	default:
		return fmt.Errorf("unknown auth scheme %q", c.Auth.Scheme)
	}
	return nil
}
