// Package config loads the daemon's YAML configuration and supplies
// the defaults documented for every setting it doesn't override.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kdeconnect-go/kdeconnect/pkg/resource"
)

// Config is the daemon's full configuration, as loaded from YAML.
type Config struct {
	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`

	ListenAddr string `yaml:"listen_addr"`

	IdleTimeout     Duration `yaml:"idle_timeout"`
	ActivityTimeout Duration `yaml:"activity_timeout"`

	PayloadPortStart int `yaml:"payload_port_start"`
	PayloadPortEnd   int `yaml:"payload_port_end"`

	CertDir string `yaml:"cert_dir"`
	LogDir  string `yaml:"log_dir"`

	Resources resource.Config `yaml:"resources"`

	Discovery DiscoveryConfig `yaml:"discovery"`
}

// DiscoveryConfig controls the optional mDNS adapter. Disabled by
// default: the daemon always accepts already-resolved announcements
// from any source on its in-process API.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Duration is a time.Duration that unmarshals from a YAML string like
// "300s" or "5m", rather than the raw nanosecond integer yaml.v3 would
// otherwise require.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultListenAddr is the protocol's conventional listen address.
const DefaultListenAddr = "0.0.0.0:1716"

// DefaultIdleTimeout is the default for Config.IdleTimeout. The daemon
// does not pass Config.IdleTimeout to the transport: established
// connections use transport.DefaultIdleTimeout (also 300s) as their
// read/write deadline whatever this field holds.
const DefaultIdleTimeout = Duration(300 * time.Second)

// DefaultActivityTimeout is the daemon's stale-connection window: at
// this interval it closes every connection that has received no packet
// for longer than this.
const DefaultActivityTimeout = Duration(60 * time.Second)

// DefaultCertDir and DefaultLogDir name the daemon's state directories
// relative to its working directory when unset.
const (
	DefaultCertDir = "./certs"
	DefaultLogDir  = "./logs"
)

// Default returns a Config populated with every documented default.
// DeviceID and DeviceName are left empty: the daemon generates a new
// device id at each start when none is set, and a caller is expected to set a
// human-readable name.
func Default() Config {
	return Config{
		ListenAddr:       DefaultListenAddr,
		IdleTimeout:      DefaultIdleTimeout,
		ActivityTimeout:  DefaultActivityTimeout,
		PayloadPortStart: 1739,
		PayloadPortEnd:   1764,
		CertDir:          DefaultCertDir,
		LogDir:           DefaultLogDir,
		Resources:        resource.DefaultConfig(),
	}
}

// Load reads a YAML configuration file at path, overlaying it onto
// Default(). A missing file is not an error: Default() is returned
// unchanged, so the daemon runs with no configuration file at all.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the loaded values for internal consistency.
func (c Config) Validate() error {
	if c.PayloadPortStart <= 0 || c.PayloadPortEnd <= 0 {
		return fmt.Errorf("config: payload port range must be positive")
	}
	if c.PayloadPortStart > c.PayloadPortEnd {
		return fmt.Errorf("config: payload_port_start must not exceed payload_port_end")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("config: idle_timeout must be positive")
	}
	if c.ActivityTimeout <= 0 {
		return fmt.Errorf("config: activity_timeout must be positive")
	}
	return nil
}
