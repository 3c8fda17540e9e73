package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models storyline.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Client struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Token   string        `yaml:"token"`
		UserID  string        `yaml:"user_id"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"client"`
	Server struct {
		Addr          string        `yaml:"addr"`
		DBPath        string        `yaml:"db_path"`
		JWTSecret     string        `yaml:"jwt_secret"`
		DevAuth       bool          `yaml:"dev_auth"`
		RetentionDays int           `yaml:"retention_days"`
		PurgeInterval time.Duration `yaml:"purge_interval"`
		PageSize      int           `yaml:"page_size"`
	} `yaml:"server"`
	Cache struct {
		RefetchLimit int `yaml:"refetch_limit"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ObjectiveStatuses []StatusSeed    `yaml:"objective_statuses"`
	Webhooks          []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig forwards audit events to an HTTP endpoint.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// StatusSeed is an objective status created with a new workspace.
type StatusSeed struct {
	Name     string `yaml:"name"`
	Color    string `yaml:"color"`
	Category string `yaml:"category"`
}

var categories = map[string]bool{"planned": true, "active": true, "completed": true, "cancelled": true}

// Load reads and validates config from a directory.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.ID) == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("config.client.timeout must not be negative")
	}
	if c.Server.RetentionDays < 0 {
		return fmt.Errorf("config.server.retention_days must not be negative")
	}
	if c.Server.PurgeInterval < 0 {
		return fmt.Errorf("config.server.purge_interval must not be negative")
	}
	if c.Server.PageSize < 0 {
		return fmt.Errorf("config.server.page_size must not be negative")
	}
	if c.Cache.RefetchLimit < 0 {
		return fmt.Errorf("config.cache.refetch_limit must not be negative")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.log.format must be console or json")
	}
	for i, s := range c.ObjectiveStatuses {
		if s.Name == "" {
			return fmt.Errorf("objective_statuses[%d] has empty name", i)
		}
		if !categories[s.Category] {
			return fmt.Errorf("objective status %s has unknown category %q", s.Name, s.Category)
		}
	}
	for i, h := range c.Webhooks {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "storyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(workspaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset
// durations and limits fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) fillDefaults() {
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 10 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "storyline.db"
	}
	if c.Server.RetentionDays == 0 {
		c.Server.RetentionDays = 30
	}
	if c.Server.PurgeInterval == 0 {
		c.Server.PurgeInterval = time.Hour
	}
	if c.Server.PageSize == 0 {
		c.Server.PageSize = 50
	}
	if c.Cache.RefetchLimit == 0 {
		c.Cache.RefetchLimit = 4
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

const defaultTemplate = `workspace:
  id: %s

client:
  base_url: http://127.0.0.1:8080
  timeout: 10s

server:
  addr: 127.0.0.1:8080
  db_path: storyline.db
  retention_days: 30
  purge_interval: 1h
  page_size: 50

cache:
  refetch_limit: 4

log:
  level: info
  format: console

objective_statuses:
  - name: Planned
    color: "#8b95a5"
    category: planned
  - name: On track
    color: "#2fb344"
    category: active
  - name: At risk
    color: "#f59f00"
    category: active
  - name: Done
    color: "#206bc4"
    category: completed
  - name: Dropped
    color: "#d63939"
    category: cancelled
`
