// Package config loads the service configuration from a YAML or JSON file
// with optional K_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/greenharbor/nursery-dispatch/core/metrics"
	"github.com/greenharbor/nursery-dispatch/infra/mqtt"
)

type Config struct {
	Server  ServerConfig   `json:"server"`
	Storage StorageConfig  `json:"storage"`
	Journal JournalConfig  `json:"journal"`
	Catalog CatalogConfig  `json:"catalog"`
	Metrics metrics.Config `json:"metrics"`
	MQTT    MQTTConfig     `json:"mqtt"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Server.SetDefaults()
	cfg.Storage.SetDefaults()
	cfg.Journal.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Journal.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Addr string `json:"addr"`
	// AuthToken, when set, is required as a bearer token on every request.
	AuthToken string `json:"auth_token"`
}

// SetDefaults applies sane defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// StorageConfig selects the slot and order store backend.
type StorageConfig struct {
	// Backend selects the store type: "memory" or "sqlite".
	Backend string `json:"backend"`
	// Path is the SQLite database location.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StorageConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "dispatch.db"
	}
}

// Validate checks mandatory fields.
func (c StorageConfig) Validate() error {
	if c.Backend != "memory" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown storage backend %s", c.Backend)
	}
	if c.Backend == "sqlite" && c.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	return nil
}

// JournalConfig defines settings for the dispatch journal.
type JournalConfig struct {
	// Backend selects the journal type: "memory", "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the journal.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *JournalConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" && c.Backend != "memory" {
		c.Path = "dispatch.journal"
	}
}

// Validate checks mandatory fields.
func (c JournalConfig) Validate() error {
	switch c.Backend {
	case "memory", "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown journal backend %s", c.Backend)
	}
	if c.Backend != "memory" && c.Path == "" {
		return fmt.Errorf("journal path is required")
	}
	return nil
}

// CatalogConfig defines the crate cavity types available for packing.
type CatalogConfig struct {
	Cavities []CavityConfig `json:"cavities"`
}

// CavityConfig describes one cavity type.
type CavityConfig struct {
	ID             string `json:"id"`
	CavitySize     int    `json:"cavity_size"`
	NumberPerCrate int    `json:"number_per_crate"`
}

// Validate checks that at least one cavity type is configured.
func (c CatalogConfig) Validate() error {
	if len(c.Cavities) == 0 {
		return fmt.Errorf("at least one cavity type is required")
	}
	for _, cav := range c.Cavities {
		if cav.ID == "" {
			return fmt.Errorf("cavity id is required")
		}
		if cav.CavitySize <= 0 || cav.NumberPerCrate <= 0 {
			return fmt.Errorf("cavity %s: sizes must be positive", cav.ID)
		}
	}
	return nil
}

// MQTTConfig wraps the broker settings with an enable switch.
type MQTTConfig struct {
	Enabled     bool `json:"enabled"`
	mqtt.Config `json:",squash"`
}
