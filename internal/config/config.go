// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/ministack/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `ministack:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig    `mapstructure:"node" yaml:"node"`
	Link    LinkConfig    `mapstructure:"link" yaml:"link"`
	ARP     ARPConfig     `mapstructure:"arp" yaml:"arp"`
	UDP     UDPConfig     `mapstructure:"udp" yaml:"udp"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ─── Host Identity ───

// NodeConfig is the identity of the single stack interface.
type NodeConfig struct {
	IP        string `mapstructure:"ip" yaml:"ip"`
	MAC       string `mapstructure:"mac" yaml:"mac"`             // Empty = read from Interface
	Interface string `mapstructure:"interface" yaml:"interface"` // Host NIC used for MAC lookup

	// Resolved by ValidateAndApplyDefaults
	Addr   core.IPv4Addr `mapstructure:"-" yaml:"-"`
	HWAddr core.MAC      `mapstructure:"-" yaml:"-"`
}

// ─── Link ───

// LinkConfig selects the link driver and frame-level limits.
type LinkConfig struct {
	Driver       string         `mapstructure:"driver" yaml:"driver"` // afpacket | pcap
	MTU          int            `mapstructure:"mtu" yaml:"mtu"`
	PollInterval string         `mapstructure:"poll_interval" yaml:"poll_interval"` // idle sleep between polls
	Trace        bool           `mapstructure:"trace" yaml:"trace"`                 // log every frame at debug
	Options      map[string]any `mapstructure:"options" yaml:"options"`             // driver specific

	Interval time.Duration `mapstructure:"-" yaml:"-"`
}

// ─── ARP ───

// ARPConfig controls the address resolution cache.
type ARPConfig struct {
	Timeout        string `mapstructure:"timeout" yaml:"timeout"`                 // table entry lifetime
	PendingTimeout string `mapstructure:"pending_timeout" yaml:"pending_timeout"` // queued packet lifetime
	Announce       bool   `mapstructure:"announce" yaml:"announce"`               // gratuitous ARP on start

	EntryTTL   time.Duration `mapstructure:"-" yaml:"-"`
	PendingTTL time.Duration `mapstructure:"-" yaml:"-"`
}

// ─── UDP ───

// UDPConfig lists built-in UDP services.
type UDPConfig struct {
	EchoPorts []int `mapstructure:"echo_ports" yaml:"echo_ports"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `ministack: ...`.
type configRoot struct {
	Ministack GlobalConfig `mapstructure:"ministack"`
}

// Load loads configuration from file.
// Env vars override file values, e.g. key "ministack.log.level" → MINISTACK_LOG_LEVEL.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Ministack

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Link defaults
	v.SetDefault("ministack.link.mtu", 1500)
	v.SetDefault("ministack.link.poll_interval", "1ms")
	v.SetDefault("ministack.link.trace", false)

	// ARP defaults
	v.SetDefault("ministack.arp.timeout", "5m")
	v.SetDefault("ministack.arp.pending_timeout", "1s")
	v.SetDefault("ministack.arp.announce", true)

	// Log defaults
	v.SetDefault("ministack.log.level", "info")
	v.SetDefault("ministack.log.format", "text")
	v.SetDefault("ministack.log.outputs.file.enabled", false)
	v.SetDefault("ministack.log.outputs.file.path", "/var/log/ministack/ministack.log")
	v.SetDefault("ministack.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("ministack.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("ministack.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("ministack.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("ministack.metrics.enabled", false)
	v.SetDefault("ministack.metrics.listen", ":9091")
	v.SetDefault("ministack.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and resolves addresses and durations.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Node identity ──
	if err := resolveNode(&cfg.Node); err != nil {
		return err
	}

	// ── Link ──
	if cfg.Link.Driver == "" {
		return fmt.Errorf("%w: link.driver is required", core.ErrConfigInvalid)
	}
	if cfg.Link.MTU < 68 || cfg.Link.MTU > 9000 {
		return fmt.Errorf("%w: link.mtu %d out of range 68..9000", core.ErrConfigInvalid, cfg.Link.MTU)
	}
	interval, err := parsePositiveDuration("link.poll_interval", cfg.Link.PollInterval)
	if err != nil {
		return err
	}
	cfg.Link.Interval = interval

	// ── ARP ──
	if cfg.ARP.EntryTTL, err = parsePositiveDuration("arp.timeout", cfg.ARP.Timeout); err != nil {
		return err
	}
	if cfg.ARP.PendingTTL, err = parsePositiveDuration("arp.pending_timeout", cfg.ARP.PendingTimeout); err != nil {
		return err
	}

	// ── UDP ──
	for _, p := range cfg.UDP.EchoPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: udp.echo_ports: invalid port %d", core.ErrConfigInvalid, p)
		}
	}

	return nil
}

// resolveNode parses the IP and resolves the MAC.
// Priority for MAC: explicit value → host interface lookup → error.
func resolveNode(node *NodeConfig) error {
	if node.IP == "" {
		return fmt.Errorf("%w: node.ip is required", core.ErrConfigInvalid)
	}
	addr, err := core.ParseIPv4(node.IP)
	if err != nil {
		return fmt.Errorf("%w: node.ip: %v", core.ErrConfigInvalid, err)
	}
	node.Addr = addr

	if node.MAC != "" {
		mac, err := core.ParseMAC(node.MAC)
		if err != nil {
			return fmt.Errorf("%w: node.mac: %v", core.ErrConfigInvalid, err)
		}
		node.HWAddr = mac
		return nil
	}

	if node.Interface == "" {
		return fmt.Errorf("%w: node.mac or node.interface is required", core.ErrConfigInvalid)
	}
	iface, err := net.InterfaceByName(node.Interface)
	if err != nil {
		return fmt.Errorf("%w: node.interface: %v", core.ErrConfigInvalid, err)
	}
	if len(iface.HardwareAddr) != core.MACLen {
		return fmt.Errorf("%w: interface %s has no Ethernet address", core.ErrConfigInvalid, node.Interface)
	}
	copy(node.HWAddr[:], iface.HardwareAddr)
	node.MAC = node.HWAddr.String()
	return nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", core.ErrConfigInvalid, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %s", core.ErrConfigInvalid, key, value)
	}
	return d, nil
}
