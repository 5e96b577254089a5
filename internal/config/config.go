// Package config handles Berenice configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/berenice/config.yaml, /etc/berenice/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "berenice", "config.yaml"))
	}

	paths = append(paths, "/etc/berenice/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Berenice configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	ZAPI     ZAPIConfig     `yaml:"zapi"`
	Graphiti GraphitiConfig `yaml:"graphiti"`
	LLM      LLMConfig      `yaml:"llm"`
	Clinic   ClinicConfig   `yaml:"clinic"`
	Archive  ArchiveConfig  `yaml:"archive"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ZAPIConfig defines the Z-API WhatsApp provider credentials.
type ZAPIConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Token       string `yaml:"token"`
	ClientToken string `yaml:"client_token"`
	BaseURL     string `yaml:"base_url"` // Default: https://api.z-api.io
}

// GraphitiConfig defines the knowledge-graph service connection.
type GraphitiConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"` // Per-request timeout (default 30)
}

// LLMConfig defines the chat-completions provider used by the agent.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// ClinicConfig holds the clinic identity used in prompts and templates.
type ClinicConfig struct {
	Name    string `yaml:"name"`
	Phone   string `yaml:"phone"` // WhatsApp number with country code
	Address string `yaml:"address"`
}

// ArchiveConfig defines the local message archive database.
type ArchiveConfig struct {
	// Path is the SQLite database file. Empty disables the archive.
	Path string `yaml:"path"`
}

// MQTTConfig defines the optional MQTT status mirror. Disabled unless
// Enabled is set and a broker URL is configured.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"` // e.g. mqtt://broker:1883 or mqtts://...
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // Default: berenice
	IntervalSec int    `yaml:"interval_sec"` // Stats publish interval (default 60)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		ZAPI: ZAPIConfig{
			BaseURL: "https://api.z-api.io",
		},
		Graphiti: GraphitiConfig{
			BaseURL:    "http://localhost:8001",
			TimeoutSec: 30,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Clinic: ClinicConfig{
			Name: "Clínica Berenice",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "berenice",
			IntervalSec: 60,
		},
	}
}

// Validate checks that the settings required to serve are present.
// A missing required field is a startup failure: the process must not
// begin accepting webhooks with an unusable gateway configuration.
func (c *Config) Validate() error {
	var missing []string

	if c.ZAPI.InstanceID == "" {
		missing = append(missing, "zapi.instance_id")
	}
	if c.ZAPI.Token == "" {
		missing = append(missing, "zapi.token")
	}
	if c.ZAPI.ClientToken == "" {
		missing = append(missing, "zapi.client_token")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key")
	}
	if c.Clinic.Phone == "" {
		missing = append(missing, "clinic.phone")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
