// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/runtime"
)

// Config is the top-level node configuration, loaded from a YAML or
// JSON file and overridable by environment variables.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Identity    *IdentityConfig `yaml:"identity" json:"identity"`
	Listen      *ListenConfig   `yaml:"listen" json:"listen"`
	Runtime     *RuntimeConfig  `yaml:"runtime" json:"runtime"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// IdentityConfig locates this node's long-term signing/encryption key.
type IdentityConfig struct {
	SeedFile string `yaml:"seed_file" json:"seed_file"`
}

// ListenConfig is the inbound WebSocket bind address.
type ListenConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	Path string `yaml:"path" json:"path"`
}

// RuntimeConfig mirrors runtime.Config, with durations as YAML duration
// strings (JSON takes them as integer nanoseconds) and peers as
// hex-encoded node ids rather than NodeId values,
// since runtime.Config itself is not serialization-friendly.
type RuntimeConfig struct {
	Encryption                bool          `yaml:"encryption" json:"encryption"`
	Username                  string        `yaml:"username" json:"username"`
	CacheCleanupInterval      time.Duration `yaml:"cache_cleanup_interval" json:"cache_cleanup_interval"`
	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	TrackerCleanupInterval    time.Duration `yaml:"tracker_cleanup_interval" json:"tracker_cleanup_interval"`
	GroupHubHeartbeatInterval time.Duration `yaml:"group_hub_heartbeat_interval" json:"group_hub_heartbeat_interval"`
	BackupTickInterval        time.Duration `yaml:"backup_tick_interval" json:"backup_tick_interval"`
	GossipAnnounceInterval    time.Duration `yaml:"gossip_announce_interval" json:"gossip_announce_interval"`
	GossipBootstrapPeers      []string      `yaml:"gossip_bootstrap_peers" json:"gossip_bootstrap_peers"`
}

// ToRuntimeConfig parses GossipBootstrapPeers and returns an equivalent
// runtime.Config, starting from runtime.DefaultConfig so any zero-value
// field here falls back to the runtime's own default. Encryption is the
// exception: it is always copied, so an unset value turns encryption
// off.
func (r *RuntimeConfig) ToRuntimeConfig() (runtime.Config, error) {
	cfg := runtime.DefaultConfig()
	if r == nil {
		return cfg, nil
	}

	cfg.Encryption = r.Encryption
	if r.Username != "" {
		cfg.Username = r.Username
	}
	if r.CacheCleanupInterval > 0 {
		cfg.CacheCleanupInterval = r.CacheCleanupInterval
	}
	if r.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = r.HeartbeatInterval
	}
	if r.TrackerCleanupInterval > 0 {
		cfg.TrackerCleanupInterval = r.TrackerCleanupInterval
	}
	if r.GroupHubHeartbeatInterval > 0 {
		cfg.GroupHubHeartbeatInterval = r.GroupHubHeartbeatInterval
	}
	if r.BackupTickInterval > 0 {
		cfg.BackupTickInterval = r.BackupTickInterval
	}
	if r.GossipAnnounceInterval > 0 {
		cfg.GossipAnnounceInterval = r.GossipAnnounceInterval
	}

	peers := make([]identity.NodeId, 0, len(r.GossipBootstrapPeers))
	for _, hex := range r.GossipBootstrapPeers {
		id, err := identity.NodeIdFromHex(hex)
		if err != nil {
			return runtime.Config{}, fmt.Errorf("config: invalid gossip bootstrap peer %q: %w", hex, err)
		}
		peers = append(peers, id)
	}
	cfg.GossipBootstrapPeers = peers

	return cfg, nil
}

// LoggingConfig configures internal/logger's default logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig configures the internal/metrics Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file as JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		// Fall back to JSON in case the extension is misleading.
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by
// extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills zero-valued sections with ToM's defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Identity == nil {
		cfg.Identity = &IdentityConfig{}
	}
	if cfg.Identity.SeedFile == "" {
		cfg.Identity.SeedFile = ".tom/identity.seed"
	}

	if cfg.Listen == nil {
		cfg.Listen = &ListenConfig{}
	}
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = ":7420"
	}
	if cfg.Listen.Path == "" {
		cfg.Listen.Path = "/tom/v1"
	}

	if cfg.Runtime == nil {
		cfg.Runtime = &RuntimeConfig{}
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9420"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
