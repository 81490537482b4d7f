package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml: licence defaults, public register defaults and
// the internal user directory the engine resolves roles and operational areas
// from. Credentials are never stored here; authentication happens upstream.
type Config struct {
	Reference struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"reference"`
	Licence struct {
		DurationYears int `yaml:"duration_years"`
	} `yaml:"licence"`
	PublicRegister struct {
		PeriodDays int    `yaml:"period_days"`
		Endpoint   string `yaml:"endpoint"`
	} `yaml:"public_register"`
	Roles map[string]RolePolicy `yaml:"roles"`
	Users map[string]User       `yaml:"users"`
}

// RolePolicy states what an assignee must carry before holding the role.
type RolePolicy struct {
	Description     string `yaml:"description"`
	RequireArea     bool   `yaml:"require_area"`
	RequireCostCode bool   `yaml:"require_cost_code"`
}

// User is one internal user directory entry.
type User struct {
	Name      string   `yaml:"name"`
	Roles     []string `yaml:"roles"`
	Areas     []string `yaml:"areas"`
	CostCodes []string `yaml:"cost_codes"`
}

// HasRole reports whether the user carries the named role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasArea reports whether the user may operate in the named area. An empty
// area on the case matches any user.
func (u User) HasArea(area string) bool {
	if area == "" {
		return true
	}
	for _, a := range u.Areas {
		if a == area {
			return true
		}
	}
	return false
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with csl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when no config file exists.
func LoadOptional(workspace string) (*Config, error) {
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
	if c.Licence.DurationYears <= 0 {
		return fmt.Errorf("config.licence.duration_years must be positive")
	}
	if c.PublicRegister.PeriodDays <= 0 {
		return fmt.Errorf("config.public_register.period_days must be positive")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	if _, ok := c.Roles["admin"]; !ok {
		return fmt.Errorf("config.roles must include admin")
	}
	for roleID := range c.Roles {
		if roleID == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
	}
	for userID, u := range c.Users {
		if userID == "" {
			return fmt.Errorf("config.users contains empty user id")
		}
		for _, r := range u.Roles {
			if _, ok := c.Roles[r]; !ok {
				return fmt.Errorf("user %s references unknown role %s", userID, r)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `reference:
  prefix: FLA

licence:
  duration_years: 5

public_register:
  period_days: 28
  endpoint: ""

roles:
  admin_officer:
    description: "Admin officer carrying out the first review stage"
    require_area: true
  woodland_officer:
    description: "Woodland officer carrying out the technical review"
    require_area: true
    require_cost_code: true
  field_manager:
    description: "Field manager approving, refusing or referring cases"
    require_area: true
    require_cost_code: true
  admin:
    description: "Account administrator"

users:
  local-user:
    name: "Local User"
    roles: [admin, admin_officer, woodland_officer, field_manager]
    areas: [north, south, east, west]
    cost_codes: [FC-DEFAULT]
`
