package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/stack"
	"gopkg.in/yaml.v3"
)

// BoardRole selects what the board does in the test topology.
type BoardRole string

const (
	RoleNotSelected BoardRole = "not_selected"
	RoleMaster      BoardRole = "master"
	RoleSlave       BoardRole = "slave"
	RoleRelay       BoardRole = "relay"
)

// PeripheralCapable reports whether the board can serve the throughput stream.
func (r BoardRole) PeripheralCapable() bool {
	return r == RoleSlave || r == RoleRelay
}

// Scans reports whether the board looks for an upstream sender.
func (r BoardRole) Scans() bool {
	return r == RoleMaster || r == RoleRelay
}

// Advertises reports whether the board accepts a downstream collector.
func (r BoardRole) Advertises() bool {
	return r == RoleSlave || r == RoleRelay
}

// ParseBoardRole parses a role name.
func ParseBoardRole(s string) (BoardRole, error) {
	switch BoardRole(strings.ToLower(strings.TrimSpace(s))) {
	case RoleMaster:
		return RoleMaster, nil
	case RoleSlave:
		return RoleSlave, nil
	case RoleRelay:
		return RoleRelay, nil
	case RoleNotSelected, "":
		return RoleNotSelected, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be master, slave or relay", s)
	}
}

// Test parameter limits.
const (
	MinATTMTU = 23
	MaxATTMTU = 247

	DefaultConnInterval = stack.MinInterval
)

// TestParams are negotiated on every new link.
type TestParams struct {
	ATTMTU        uint16       `yaml:"att_mtu" json:"att_mtu" default:"247"`
	ConnInterval  uint16       `yaml:"conn_interval" json:"conn_interval" default:"6"`
	PHYs          stack.PHYSet `yaml:"phys" json:"phys" default:"3"`
	DataLenExt    bool         `yaml:"data_length_ext" json:"data_length_ext" default:"true"`
	ConnEvtLenExt bool         `yaml:"conn_evt_len_ext" json:"conn_evt_len_ext" default:"false"`
}

// DataLength returns the link-layer payload length requested for the link.
func (p TestParams) DataLength() uint16 {
	const l2capHeader = 4
	if p.DataLenExt {
		return MaxATTMTU + l2capHeader
	}
	return MinATTMTU + l2capHeader
}

// Validate checks parameter ranges.
func (p TestParams) Validate() error {
	if p.ATTMTU < MinATTMTU || p.ATTMTU > MaxATTMTU {
		return fmt.Errorf("att_mtu %d out of range [%d, %d]", p.ATTMTU, MinATTMTU, MaxATTMTU)
	}
	if p.ConnInterval < stack.MinInterval || p.ConnInterval > stack.MaxInterval {
		return fmt.Errorf("conn_interval %d out of range [%d, %d] units", p.ConnInterval, stack.MinInterval, stack.MaxInterval)
	}
	return nil
}

// Config holds application configuration
type Config struct {
	Role            BoardRole     `yaml:"role" json:"role" default:"relay"`
	DeviceName      string        `yaml:"device_name" json:"device_name" default:"Relay_ATT_MTU"`
	TargetName      string        `yaml:"target_name" json:"target_name" default:"Nordic_ATT_MTU"`
	TransferBytes   uint32        `yaml:"transfer_bytes" json:"transfer_bytes" default:"1048576"`
	CentralLinks    int           `yaml:"central_links" json:"central_links" default:"1"`
	PeripheralLinks int           `yaml:"peripheral_links" json:"peripheral_links" default:"1"`
	NotifyQueue     int           `yaml:"notify_queue" json:"notify_queue" default:"8"`
	StreamInterval  time.Duration `yaml:"stream_interval" json:"stream_interval" default:"30ms"`
	HistorySize     uint32        `yaml:"history_size" json:"history_size" default:"16"`
	LogLevel        string        `yaml:"log_level" json:"log_level" default:"info"`
	Test            TestParams    `yaml:"test" json:"test"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Test)
	return cfg
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if _, err := ParseBoardRole(string(c.Role)); err != nil {
		return err
	}
	if c.TransferBytes == 0 {
		return fmt.Errorf("transfer_bytes must be > 0")
	}
	if c.CentralLinks < 0 || c.PeripheralLinks < 0 || c.PeripheralLinks > 1 {
		return fmt.Errorf("link budget central=%d peripheral=%d: at most one peripheral link is supported",
			c.CentralLinks, c.PeripheralLinks)
	}
	if c.NotifyQueue <= 0 {
		return fmt.Errorf("notify_queue must be > 0")
	}
	if c.StreamInterval <= 0 {
		return fmt.Errorf("stream_interval must be > 0")
	}
	if c.HistorySize == 0 {
		return fmt.Errorf("history_size must be > 0")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return c.Test.Validate()
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
