package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BuildMode selects how the agent executes builds.
type BuildMode string

const (
	Docker BuildMode = "DOCKER"
	Worker BuildMode = "WORKER"
	Agent  BuildMode = "AGENT"
)

// JobPoolBuildLess marks a container that has to claim its task from the
// local broker before it can run anything.
const JobPoolBuildLess = "BUILD_LESS"

const (
	DefaultAgentHome    = "/data/devops"
	DefaultBrokerHost   = "127.0.0.1"
	DefaultBrokerPort   = 80
	DefaultPipelineFile = "pipeline.yaml"
	DefaultPollInterval = time.Second
)

// Identity is the agent identity handed to the runners. It is seeded from
// configuration and updated at most once by a build-less claim, before any
// runner starts.
type Identity struct {
	AgentID   string
	SecretKey string
	ProjectID string
	BuildMode BuildMode
}

// Config is the agent process configuration.
type Config struct {
	BuildType    string        `yaml:"buildType"`
	AgentHome    string        `yaml:"agentHome"`
	Workspace    string        `yaml:"workspace"`
	JobPool      string        `yaml:"jobPool"`
	BrokerHost   string        `yaml:"dockerHostIp"`
	BrokerPort   int           `yaml:"dockerHostPort"`
	Hostname     string        `yaml:"hostname"`
	AgentID      string        `yaml:"agentId"`
	SecretKey    string        `yaml:"secretKey"`
	ProjectID    string        `yaml:"projectId"`
	PipelineFile string        `yaml:"pipelineFile"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		AgentHome:    DefaultAgentHome,
		BrokerHost:   DefaultBrokerHost,
		BrokerPort:   DefaultBrokerPort,
		Hostname:     hostname,
		PipelineFile: DefaultPipelineFile,
		PollInterval: DefaultPollInterval,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then the environment read through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"DEVOPS_BUILD_TYPE", &c.BuildType},
		{"DEVOPS_AGENT_HOME", &c.AgentHome},
		{"DEVOPS_WORKSPACE", &c.Workspace},
		{"JOB_POOL", &c.JobPool},
		{"DOCKER_HOST_IP", &c.BrokerHost},
		{"HOSTNAME", &c.Hostname},
		{"DEVOPS_AGENT_ID", &c.AgentID},
		{"DEVOPS_AGENT_SECRET_KEY", &c.SecretKey},
		{"DEVOPS_PROJECT_ID", &c.ProjectID},
		{"DEVOPS_PIPELINE_FILE", &c.PipelineFile},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	if v := getenv("DOCKER_HOST_PORT"); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing DOCKER_HOST_PORT %q: %w", v, err)
		}
		c.BrokerPort = port
	}
	if v := getenv("DEVOPS_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing DEVOPS_POLL_INTERVAL %q: %w", v, err)
		}
		c.PollInterval = d
	}
	return nil
}

// Validate checks the fields that have a fixed valid range. The build type
// is deliberately not checked here; the dispatcher owns that decision.
func (c *Config) Validate() error {
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("invalid broker port %d", c.BrokerPort)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// BuildLess reports whether the job pool requires a task claim.
func (c *Config) BuildLess() bool {
	return c.JobPool == JobPoolBuildLess
}

// Identity returns the identity seeded from configuration. BuildMode is left
// unset until the dispatcher has parsed the build type.
func (c *Config) Identity() Identity {
	return Identity{
		AgentID:   c.AgentID,
		SecretKey: c.SecretKey,
		ProjectID: c.ProjectID,
	}
}
