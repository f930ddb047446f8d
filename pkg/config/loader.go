package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.DUID.Type == "" {
		c.DUID.Type = "llt"
	}
	if c.DUID.Path == "" {
		c.DUID.Path = "/var/lib/wicked/duid"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "/var/lib/wicked/leases.db"
	}
	if c.ControlAPI.Address == "" {
		c.ControlAPI.Address = "127.0.0.1:8546"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = "127.0.0.1:9546"
	}

	for i := range c.Interfaces {
		p := &c.Interfaces[i].Profile
		if p.Mode == "" {
			p.Mode = ModeManaged
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("at least one interface must be configured")
	}

	seen := make(map[string]bool, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("interfaces: entry with empty name")
		}
		if seen[iface.Name] {
			return fmt.Errorf("interfaces: duplicate interface %q", iface.Name)
		}
		seen[iface.Name] = true

		switch iface.Profile.GetMode() {
		case ModeManaged, ModeInfoOnly:
		default:
			return fmt.Errorf("interfaces.%s.profile.mode: unknown mode %q", iface.Name, iface.Profile.Mode)
		}
	}

	switch c.DUID.Type {
	case "llt", "ll":
	default:
		return fmt.Errorf("duid.type: must be \"llt\" or \"ll\", got %q", c.DUID.Type)
	}

	return nil
}
