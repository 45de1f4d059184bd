// Package config loads the per-registry operational table (base URL,
// rate-limit budget, enumeration strategy) from a YAML file, per §6's
// "registry base URLs ... queue list, default priorities" environment
// requirement.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/globaltrial/registry-pipeline/internal/platform/envutil"
)

// RegistryConfig is one registry's operational configuration.
type RegistryConfig struct {
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Strategy          string `yaml:"strategy"` // pagination_token | page_number | offset | bulk_file | geocode
	BulkFilePrefix    string `yaml:"bulk_file_prefix,omitempty"`
}

// OrchestratorConfig is the top-level document in registries.yaml.
type OrchestratorConfig struct {
	Registries []RegistryConfig `yaml:"registries"`
	Queues     []QueueConfig    `yaml:"queues"`
}

// QueueConfig declares a queue lane and its default priority, so the
// worker pool and orchestrator agree on what lanes exist (§4.2, §6).
type QueueConfig struct {
	Name            string `yaml:"name"`
	DefaultPriority int    `yaml:"default_priority"`
}

// Load reads the YAML file at ORCHESTRATOR_CONFIG_PATH (default
// ./config/registries.yaml).
func Load() (*OrchestratorConfig, error) {
	path := envutil.String("ORCHESTRATOR_CONFIG_PATH", "./config/registries.yaml")
	return LoadFrom(path)
}

func LoadFrom(path string) (*OrchestratorConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry config %q: %w", path, err)
	}
	var cfg OrchestratorConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config %q: %w", path, err)
	}
	return &cfg, nil
}

// ByName returns the RegistryConfig for a given registry tag, or
// (zero, false) if unconfigured.
func (c *OrchestratorConfig) ByName(name string) (RegistryConfig, bool) {
	for _, r := range c.Registries {
		if r.Name == name {
			return r, true
		}
	}
	return RegistryConfig{}, false
}
