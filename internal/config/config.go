// Package config defines the daemon configuration for netkeeper.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the netkeeper daemon.
type Config struct {
	Interface string         `koanf:"interface"`
	Monitor   MonitorSection `koanf:"monitor"`
	Paths     PathsSection   `koanf:"paths"`
	AP        APSection      `koanf:"ap"`
	Metrics   MetricsSection `koanf:"metrics"`
	Log       LogSection     `koanf:"log"`
}

// MonitorSection holds the supervisor timing knobs. All values must be
// positive; they are loaded once at startup (restart to apply changes).
type MonitorSection struct {
	CheckIntervalSeconds       int `koanf:"check_interval_seconds"`
	DisconnectThresholdSeconds int `koanf:"disconnect_threshold_seconds"`
	APRescanIntervalSeconds    int `koanf:"ap_rescan_interval_seconds"`
	BootConnectTimeoutSeconds  int `koanf:"boot_connect_timeout_seconds"`
}

// PathsSection holds filesystem locations shared with the rest of the
// appliance (the web configuration UI writes DeviceConfig).
type PathsSection struct {
	DeviceConfig string `koanf:"device_config"`
	ForceAPFlag  string `koanf:"force_ap_flag"`
	APRunDir     string `koanf:"ap_run_dir"`
}

// APSection holds the self-hosted access point network parameters.
type APSection struct {
	Subnet    string `koanf:"subnet"`
	Gateway   string `koanf:"gateway"`
	DHCPStart string `koanf:"dhcp_start"`
	DHCPEnd   string `koanf:"dhcp_end"`
	Channel   int    `koanf:"channel"`
	Hostname  string `koanf:"hostname"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level string `koanf:"level"`
}

// CheckInterval returns the client-mode tick interval as a duration.
func (m MonitorSection) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

// DisconnectThreshold returns the AP-fallback threshold as a duration.
func (m MonitorSection) DisconnectThreshold() time.Duration {
	return time.Duration(m.DisconnectThresholdSeconds) * time.Second
}

// APRescanInterval returns the AP-mode rescan cadence as a duration.
func (m MonitorSection) APRescanInterval() time.Duration {
	return time.Duration(m.APRescanIntervalSeconds) * time.Second
}

// BootConnectTimeout returns the boot grace window as a duration.
func (m MonitorSection) BootConnectTimeout() time.Duration {
	return time.Duration(m.BootConnectTimeoutSeconds) * time.Second
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Interface: "wlan0",
		Monitor: MonitorSection{
			CheckIntervalSeconds:       30,
			DisconnectThresholdSeconds: 120,
			APRescanIntervalSeconds:    60,
			BootConnectTimeoutSeconds:  60,
		},
		Paths: PathsSection{
			DeviceConfig: "/boot/device-config.json",
			ForceAPFlag:  "/boot/force-ap",
			APRunDir:     "/run/netkeeper",
		},
		AP: APSection{
			Subnet:    "192.168.4.0/24",
			Gateway:   "192.168.4.1",
			DHCPStart: "192.168.4.10",
			DHCPEnd:   "192.168.4.100",
			Channel:   6,
			Hostname:  "setup.local",
		},
		Metrics: MetricsSection{
			Enabled: true,
			Addr:    "127.0.0.1:9480",
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Verify checks the configuration for values the daemon cannot run with.
func Verify(cfg *Config) error {
	if cfg.Interface == "" {
		return fmt.Errorf("interface must not be empty")
	}
	if cfg.Monitor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.check_interval_seconds must be positive, got %d", cfg.Monitor.CheckIntervalSeconds)
	}
	if cfg.Monitor.DisconnectThresholdSeconds <= 0 {
		return fmt.Errorf("monitor.disconnect_threshold_seconds must be positive, got %d", cfg.Monitor.DisconnectThresholdSeconds)
	}
	if cfg.Monitor.APRescanIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.ap_rescan_interval_seconds must be positive, got %d", cfg.Monitor.APRescanIntervalSeconds)
	}
	if cfg.Monitor.BootConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.boot_connect_timeout_seconds must be positive, got %d", cfg.Monitor.BootConnectTimeoutSeconds)
	}
	if cfg.Paths.DeviceConfig == "" {
		return fmt.Errorf("paths.device_config must not be empty")
	}
	if cfg.AP.Channel < 1 || cfg.AP.Channel > 13 {
		return fmt.Errorf("ap.channel must be within 1..13, got %d", cfg.AP.Channel)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must not be empty when metrics are enabled")
	}
	return nil
}
