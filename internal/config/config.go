package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Cluster names accepted in an endpoint's cluster list.
const (
	ClusterOnOff        = "onoff"
	ClusterLevelControl = "levelcontrol"
	ClusterIdentify     = "identify"
)

// DeviceConfig describes one simulated device.
type DeviceConfig struct {
	Name         string   `toml:"name"`
	NodeID       uint64   `toml:"node_id"`
	Listen       string   `toml:"listen"`
	AdminAddr    string   `toml:"admin_addr"`
	// AdminToken, when set, is required as a bearer token on /v1 routes.
	AdminToken   string   `toml:"admin_token"`
	CorsOrigins  []string `toml:"cors_origins"`
	PeerIdentity string   `toml:"peer_identity"`

	// Durations use time.ParseDuration syntax ("250ms", "2s").
	HandshakeDelay string `toml:"handshake_delay"`
	ResponseDelay  string `toml:"response_delay"`

	// FailCommands entries are "cluster:command" pairs, e.g. "0x0006:0x01".
	FailCommands      []string `toml:"fail_commands"`
	DropResponses     bool     `toml:"drop_responses"`
	RejectControllers []uint64 `toml:"reject_controllers"`

	Endpoints []EndpointConfig `toml:"endpoints"`
	Session   SessionConfig    `toml:"session"`
}

type EndpointConfig struct {
	ID       uint16   `toml:"id"`
	Clusters []string `toml:"clusters"`
}

type SessionConfig struct {
	HandshakeTimeout string    `toml:"handshake_timeout"`
	ReadTimeout      string    `toml:"read_timeout"`
	WriteTimeout     string    `toml:"write_timeout"`
	SecurityMode     string    `toml:"security_mode"`
	TLS              TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Mutual   bool   `toml:"mutual"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateDeviceConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func (cfg DeviceConfig) withDefaults() DeviceConfig {
	if cfg.Name == "" {
		cfg.Name = "devicesim"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":5540"
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []EndpointConfig{{
			ID:       1,
			Clusters: []string{ClusterOnOff, ClusterLevelControl, ClusterIdentify},
		}}
	}
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceConfig(cfg DeviceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("device config missing name")
	}
	if cfg.NodeID == 0 {
		return fmt.Errorf("device config missing node_id")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("device config missing listen")
	}
	if _, err := cfg.Delays(); err != nil {
		return err
	}
	if _, err := cfg.FailSet(); err != nil {
		return err
	}
	if _, err := cfg.SessionSettings(); err != nil {
		return err
	}
	seen := make(map[uint16]struct{}, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if err := ValidateEndpoint(ep); err != nil {
			return fmt.Errorf("endpoint[%d] invalid: %w", i, err)
		}
		if _, dup := seen[ep.ID]; dup {
			return fmt.Errorf("endpoint[%d] invalid: duplicate id %d", i, ep.ID)
		}
		seen[ep.ID] = struct{}{}
	}
	return nil
}

func ValidateEndpoint(ep EndpointConfig) error {
	if len(ep.Clusters) == 0 {
		return fmt.Errorf("at least one cluster is required")
	}
	for _, name := range ep.Clusters {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ClusterOnOff, ClusterLevelControl, ClusterIdentify:
		default:
			return fmt.Errorf("unknown cluster %q", name)
		}
	}
	return nil
}
