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
	"os"
	"testing"
)

func TestSubstituteEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "simple variable substitution",
			input:    "${TEST_VAR}",
			envVars:  map[string]string{"TEST_VAR": "value123"},
			expected: "value123",
		},
		{
			name:     "variable with default - variable exists",
			input:    "${TEST_VAR:default}",
			envVars:  map[string]string{"TEST_VAR": "actual"},
			expected: "actual",
		},
		{
			name:     "variable with default - variable missing",
			input:    "${MISSING_VAR:default}",
			envVars:  map[string]string{},
			expected: "default",
		},
		{
			name:     "multiple variables in string",
			input:    "http://${HOST}:${PORT}/path",
			envVars:  map[string]string{"HOST": "localhost", "PORT": "8080"},
			expected: "http://localhost:8080/path",
		},
		{
			name:     "variable with empty default",
			input:    "${EMPTY:}",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "no variables",
			input:    "plain text",
			envVars:  map[string]string{},
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := SubstituteEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("SubstituteEnvVars() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestGetEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		value    string
		expected string
	}{
		{
			name:     "TOM_ENV set",
			envVar:   "TOM_ENV",
			value:    "production",
			expected: "production",
		},
		{
			name:     "ENVIRONMENT set",
			envVar:   "ENVIRONMENT",
			value:    "staging",
			expected: "staging",
		},
		{
			name:     "no env var - defaults to development",
			envVar:   "",
			value:    "",
			expected: "development",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("TOM_ENV")
			os.Unsetenv("ENVIRONMENT")

			if tt.envVar != "" {
				os.Setenv(tt.envVar, tt.value)
				defer os.Unsetenv(tt.envVar)
			}

			result := GetEnvironment()
			if result != tt.expected {
				t.Errorf("GetEnvironment() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected bool
	}{
		{"production environment", "production", true},
		{"development environment", "development", false},
		{"staging environment", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("TOM_ENV", tt.env)
			defer os.Unsetenv("TOM_ENV")

			result := IsProduction()
			if result != tt.expected {
				t.Errorf("IsProduction() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected bool
	}{
		{"development environment", "development", true},
		{"local environment", "local", true},
		{"production environment", "production", false},
		{"staging environment", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("TOM_ENV", tt.env)
			defer os.Unsetenv("TOM_ENV")

			result := IsDevelopment()
			if result != tt.expected {
				t.Errorf("IsDevelopment() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	os.Setenv("TEST_SEED_FILE", "/data/node.seed")
	os.Setenv("TEST_LISTEN_ADDR", "0.0.0.0:9000")
	defer os.Unsetenv("TEST_SEED_FILE")
	defer os.Unsetenv("TEST_LISTEN_ADDR")

	cfg := &Config{
		Identity: &IdentityConfig{
			SeedFile: "${TEST_SEED_FILE}",
		},
		Listen: &ListenConfig{
			Addr: "${TEST_LISTEN_ADDR}",
			Path: "${TEST_PATH:/tom/v1}",
		},
		Runtime: &RuntimeConfig{
			Username:             "${TEST_USERNAME:anon}",
			GossipBootstrapPeers: []string{"${TEST_PEER:}"},
		},
	}

	SubstituteEnvVarsInConfig(cfg)

	if cfg.Identity.SeedFile != "/data/node.seed" {
		t.Errorf("Identity.SeedFile = %q, want %q", cfg.Identity.SeedFile, "/data/node.seed")
	}
	if cfg.Listen.Addr != "0.0.0.0:9000" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, "0.0.0.0:9000")
	}
	if cfg.Listen.Path != "/tom/v1" {
		t.Errorf("Listen.Path = %q, want %q", cfg.Listen.Path, "/tom/v1")
	}
	if cfg.Runtime.Username != "anon" {
		t.Errorf("Runtime.Username = %q, want %q", cfg.Runtime.Username, "anon")
	}
	if cfg.Runtime.GossipBootstrapPeers[0] != "" {
		t.Errorf("Runtime.GossipBootstrapPeers[0] = %q, want empty", cfg.Runtime.GossipBootstrapPeers[0])
	}
}
