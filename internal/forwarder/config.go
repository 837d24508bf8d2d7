// Copyright (c) Portbridge contributors. All rights reserved.

package forwarder

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portbridge/portbridge/internal/networking"
	"github.com/portbridge/portbridge/internal/relay"
)

// Config is the runtime endpoint set of a forwarder.
type Config struct {
	Endpoints []relay.Endpoint
}

func (c *Config) Clone() Config {
	endpoints := make([]relay.Endpoint, len(c.Endpoints))
	copy(endpoints, c.Endpoints)
	return Config{Endpoints: endpoints}
}

func (c *Config) String() string {
	var b bytes.Buffer
	b.WriteString("[")
	for i, endpoint := range c.Endpoints {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(endpoint.String())
	}
	b.WriteString("]")
	return b.String()
}

// Duration supports "5s"-style values in YAML configuration files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ForwarderConfig describes one forwarder in a configuration file.
type ForwarderConfig struct {
	Name            string           `yaml:"name"`
	ListenAddress   string           `yaml:"listenAddress,omitempty"`
	ListenPort      int32            `yaml:"listenPort"`
	ConnectTimeout  Duration         `yaml:"connectTimeout,omitempty"`
	ReadTimeout     Duration         `yaml:"readTimeout,omitempty"`
	WriteTimeout    Duration         `yaml:"writeTimeout,omitempty"`
	BufferSize      int              `yaml:"bufferSize,omitempty"`
	MaxPendingBytes int64            `yaml:"maxPendingBytes,omitempty"`
	IdleTimeout     Duration         `yaml:"idleTimeout,omitempty"`
	Endpoints       []relay.Endpoint `yaml:"endpoints"`
}

// RelayOptions converts the file-level settings into relay options.
// Unset values fall back to the relay defaults.
func (fc *ForwarderConfig) RelayOptions() relay.Options {
	return relay.Options{
		ConnectTimeout:  time.Duration(fc.ConnectTimeout),
		ReadTimeout:     time.Duration(fc.ReadTimeout),
		WriteTimeout:    time.Duration(fc.WriteTimeout),
		BufferSize:      fc.BufferSize,
		MaxPendingBytes: fc.MaxPendingBytes,
		IdleTimeout:     time.Duration(fc.IdleTimeout),
	}
}

func (fc *ForwarderConfig) EndpointConfig() Config {
	cfg := Config{Endpoints: fc.Endpoints}
	return cfg.Clone()
}

func (fc *ForwarderConfig) Validate() error {
	if fc.Name == "" {
		return fmt.Errorf("forwarder name must not be empty")
	}
	if fc.ListenPort != 0 && !networking.IsValidPort(int(fc.ListenPort)) {
		return fmt.Errorf("forwarder '%s': invalid listen port %d", fc.Name, fc.ListenPort)
	}
	if len(fc.Endpoints) == 0 {
		return fmt.Errorf("forwarder '%s': at least one endpoint is required", fc.Name)
	}
	for _, endpoint := range fc.Endpoints {
		if endpoint.Address == "" {
			return fmt.Errorf("forwarder '%s': endpoint address must not be empty", fc.Name)
		}
		if !networking.IsValidPort(int(endpoint.Port)) {
			return fmt.Errorf("forwarder '%s': endpoint %s has an invalid port", fc.Name, endpoint.String())
		}
	}
	return nil
}

// FileConfig is the top-level structure of a portbridge configuration file.
type FileConfig struct {
	Forwarders []ForwarderConfig `yaml:"forwarders"`
}

func (fc *FileConfig) Validate() error {
	if len(fc.Forwarders) == 0 {
		return fmt.Errorf("configuration must define at least one forwarder")
	}

	names := make(map[string]bool, len(fc.Forwarders))
	for i := range fc.Forwarders {
		if err := fc.Forwarders[i].Validate(); err != nil {
			return err
		}
		if names[fc.Forwarders[i].Name] {
			return fmt.Errorf("duplicate forwarder name '%s'", fc.Forwarders[i].Name)
		}
		names[fc.Forwarders[i].Name] = true
	}
	return nil
}

func ParseFileConfig(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file '%s': %w", path, err)
	}
	return ParseFileConfig(data)
}
