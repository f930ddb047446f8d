// Package config defines the daemon's YAML configuration schema and its
// load/validate pipeline.
package config

import "time"

type Config struct {
	Logging    Logging      `yaml:"logging"`
	DUID       DUIDConfig   `yaml:"duid"`
	Cache      CacheConfig  `yaml:"cache"`
	ControlAPI ControlAPI   `yaml:"control_api,omitempty"`
	Metrics    Metrics      `yaml:"metrics,omitempty"`
	Interfaces []Interface  `yaml:"interfaces"`
}

type Logging struct {
	Format     string            `yaml:"format"`
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components,omitempty"`
}

// DUIDConfig selects and locates the persisted client identifier.
type DUIDConfig struct {
	Type string `yaml:"type"` // "llt" or "ll"
	Path string `yaml:"path"`
}

// CacheConfig points at the sqlite-backed lease cache.
type CacheConfig struct {
	Path string `yaml:"path"`
}

type ControlAPI struct {
	Address string `yaml:"address"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Interface is one managed link and its DHCPv6 client profile.
type Interface struct {
	Name    string  `yaml:"name"`
	Profile Profile `yaml:"profile"`
}

// Mode selects between full address configuration and the
// information-request-only profile.
type Mode string

const (
	ModeManaged  Mode = "managed"
	ModeInfoOnly Mode = "info-only"
)

type Profile struct {
	Mode              Mode          `yaml:"mode"`
	RapidCommit       bool          `yaml:"rapid_commit,omitempty"`
	Hostname          string        `yaml:"hostname,omitempty"`
	UserClass         string        `yaml:"user_class,omitempty"`
	VendorClass       string        `yaml:"vendor_class,omitempty"`
	RequestedOptions  []string      `yaml:"requested_options,omitempty"`
	ConfirmOnReboot   bool          `yaml:"confirm_on_reboot,omitempty"`
	SolicitMaxWait    time.Duration `yaml:"solicit_max_wait,omitempty"`
}

func (p *Profile) GetMode() Mode {
	if p.Mode == "" {
		return ModeManaged
	}
	return p.Mode
}
