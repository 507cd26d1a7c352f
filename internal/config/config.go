package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
	} `yaml:"server"`
	ControlPlane struct {
		URL      string `yaml:"url"`
		TokenEnv string `yaml:"token_env"`
	} `yaml:"control_plane"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Runner struct {
		URL string `yaml:"url"`
	} `yaml:"runner"`
	Broker struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"broker"`
	Pipeline struct {
		CommitTimeout   Duration `yaml:"commit_timeout"`
		ExtractInterval Duration `yaml:"extract_interval"`
		ExtractTimeout  Duration `yaml:"extract_timeout"`
		OverallTimeout  Duration `yaml:"overall_timeout"`
	} `yaml:"pipeline"`
}

// Duration accepts Go duration strings like "2m" or "30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Pipeline.CommitTimeout == 0 {
		c.Pipeline.CommitTimeout = Duration(2 * time.Minute)
	}
	if c.Pipeline.ExtractInterval == 0 {
		c.Pipeline.ExtractInterval = Duration(2 * time.Second)
	}
	if c.Pipeline.ExtractTimeout == 0 {
		c.Pipeline.ExtractTimeout = Duration(5 * time.Minute)
	}
	if c.Pipeline.OverallTimeout == 0 {
		c.Pipeline.OverallTimeout = Duration(15 * time.Minute)
	}
	if c.Broker.Subject == "" {
		c.Broker.Subject = "pluto.deployments"
	}
}

// ControlPlaneToken resolves the control-plane token from the configured
// environment variable.
func (c *Config) ControlPlaneToken() string {
	if c.ControlPlane.TokenEnv == "" {
		return os.Getenv("PLUTO_CONTROL_PLANE_TOKEN")
	}
	return os.Getenv(c.ControlPlane.TokenEnv)
}
