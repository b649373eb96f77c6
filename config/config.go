// Package config provides configuration loading and management for the
// corpus orchestrator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete orchestrator configuration
type Config struct {
	Collaborator CollaboratorConfig `yaml:"collaborator"`
	Repo         RepoConfig         `yaml:"repo"`
	NATS         NATSConfig         `yaml:"nats"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Registry     RegistryConfig     `yaml:"registry"`
}

// CollaboratorConfig configures the investigation collaborator endpoint
type CollaboratorConfig struct {
	// Endpoint is the collaborator API URL
	Endpoint string `yaml:"endpoint"`
	// Timeout is the maximum time to wait for an investigation response
	Timeout time.Duration `yaml:"timeout"`
}

// RepoConfig configures the corpus repository settings
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = in-memory state only)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// DispatchConfig configures the investigation dispatcher
type DispatchConfig struct {
	// SpecStudyCap limits concurrent spec-study investigations
	SpecStudyCap int `yaml:"spec_study_cap"`
	// SourceStudyCap limits concurrent source-study investigations
	SourceStudyCap int `yaml:"source_study_cap"`
	// JobTimeout bounds a single investigation job
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// RegistryConfig configures topic identity derivation
type RegistryConfig struct {
	// Stopwords overrides the default stopword list used when
	// normalizing topic statements (empty = use defaults)
	Stopwords []string `yaml:"stopwords"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Collaborator: CollaboratorConfig{
			Endpoint: "http://localhost:8700/investigate",
			Timeout:  10 * time.Minute,
		},
		Repo: RepoConfig{
			Path: "", // Auto-detect
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Dispatch: DispatchConfig{
			SpecStudyCap:   250,
			SourceStudyCap: 500,
			JobTimeout:     10 * time.Minute,
		},
		Registry: RegistryConfig{
			Stopwords: nil, // Use defaults
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Collaborator.Endpoint == "" {
		return fmt.Errorf("collaborator.endpoint is required")
	}
	if c.Dispatch.SpecStudyCap <= 0 {
		return fmt.Errorf("dispatch.spec_study_cap must be positive")
	}
	if c.Dispatch.SourceStudyCap <= 0 {
		return fmt.Errorf("dispatch.source_study_cap must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Collaborator
	if other.Collaborator.Endpoint != "" {
		c.Collaborator.Endpoint = other.Collaborator.Endpoint
	}
	if other.Collaborator.Timeout != 0 {
		c.Collaborator.Timeout = other.Collaborator.Timeout
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Dispatch
	if other.Dispatch.SpecStudyCap != 0 {
		c.Dispatch.SpecStudyCap = other.Dispatch.SpecStudyCap
	}
	if other.Dispatch.SourceStudyCap != 0 {
		c.Dispatch.SourceStudyCap = other.Dispatch.SourceStudyCap
	}
	if other.Dispatch.JobTimeout != 0 {
		c.Dispatch.JobTimeout = other.Dispatch.JobTimeout
	}

	// Registry
	if len(other.Registry.Stopwords) > 0 {
		c.Registry.Stopwords = other.Registry.Stopwords
	}
}
