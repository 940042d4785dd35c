package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
)

// Config models pdca.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Timezone    string              `yaml:"timezone"`
	Statuses    []domain.StatusDef  `yaml:"statuses"`
	Departments []domain.Department `yaml:"departments"`
	Defaults    struct {
		Status string `yaml:"status"`
	} `yaml:"defaults"`
	Admin struct {
		ID          string `yaml:"id"`
		Email       string `yaml:"email"`
		DisplayName string `yaml:"display_name"`
	} `yaml:"admin"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		DevLogin      bool   `yaml:"dev_login"`
		TokenTTLHours int    `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Reports struct {
		WeekStart string `yaml:"week_start"`
	} `yaml:"reports"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pdca init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config when the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := domain.NormalizeStatuses(c.Statuses); err != nil {
		return fmt.Errorf("config.statuses: %w", err)
	}
	if _, err := domain.NormalizeDepartments(c.Departments); err != nil {
		return fmt.Errorf("config.departments: %w", err)
	}
	def := strings.TrimSpace(c.Defaults.Status)
	if def != "" {
		found := false
		for _, s := range c.Statuses {
			if strings.TrimSpace(s.ID) == def {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("config.defaults.status %s is not a configured status", def)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config.timezone: %w", err)
		}
	}
	if c.Auth.TokenTTLHours < 0 {
		return fmt.Errorf("config.auth.token_ttl_hours must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	if _, err := dates.ParseWeekday(c.Reports.WeekStart); err != nil {
		return fmt.Errorf("config.reports.week_start: %w", err)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// DefaultStatus is the status given to actions created without one.
func (c *Config) DefaultStatus() string {
	if def := strings.TrimSpace(c.Defaults.Status); def != "" {
		return def
	}
	if len(c.Statuses) > 0 {
		return strings.TrimSpace(c.Statuses[0].ID)
	}
	return "pendiente"
}

// Location resolves the time zone used to compute "today".
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WeekStart is the first day of a report week.
func (c *Config) WeekStart() time.Weekday {
	d, _ := dates.ParseWeekday(c.Reports.WeekStart)
	return d
}

// TokenTTL is the lifetime of minted tokens.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLHours == 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pdca.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
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

const defaultTemplate = `workspace:
  name: pdca

# Empty means the host's local time zone.
timezone: ""

statuses:
  - id: pendiente
    label: Pendiente
    color: "#f5a623"
    type: none
  - id: en_curso
    label: En curso
    color: "#4a90e2"
    type: start
  - id: finalizado
    label: Finalizado
    color: "#7ed321"
    type: end
  - id: descartado
    label: Descartado
    color: "#9b9b9b"
    type: end

departments:
  - id: calidad
    name: Calidad
  - id: produccion
    name: Producción

defaults:
  status: pendiente

admin:
  id: admin
  email: admin@example.com
  display_name: Administrator

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_secret: ""
  dev_login: false
  token_ttl_hours: 12

logging:
  level: info

reports:
  week_start: monday

webhooks: []
`
