package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad(t *testing.T) {
	t.Run("defaults without file or env", func(t *testing.T) {
		cfg, err := Load("", envMap(nil))
		require.NoError(t, err)

		assert.Equal(t, "", cfg.BuildType)
		assert.Equal(t, DefaultAgentHome, cfg.AgentHome)
		assert.Equal(t, DefaultBrokerHost, cfg.BrokerHost)
		assert.Equal(t, DefaultBrokerPort, cfg.BrokerPort)
		assert.Equal(t, DefaultPipelineFile, cfg.PipelineFile)
		assert.Equal(t, time.Second, cfg.PollInterval)
		assert.False(t, cfg.BuildLess())
	})

	t.Run("file values are overridden by env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		content := `
buildType: WORKER
agentHome: /srv/agent
dockerHostIp: 10.0.0.1
dockerHostPort: 8080
jobPool: BUILD_LESS
pollInterval: 250ms
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path, envMap(map[string]string{
			"DEVOPS_BUILD_TYPE": "DOCKER",
			"DOCKER_HOST_PORT":  "9090",
			"HOSTNAME":          "container-1",
		}))
		require.NoError(t, err)

		assert.Equal(t, "DOCKER", cfg.BuildType)
		assert.Equal(t, "/srv/agent", cfg.AgentHome)
		assert.Equal(t, "10.0.0.1", cfg.BrokerHost)
		assert.Equal(t, 9090, cfg.BrokerPort)
		assert.Equal(t, "container-1", cfg.Hostname)
		assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
		assert.True(t, cfg.BuildLess())
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
		assert.Error(t, err)
	})

	t.Run("invalid port", func(t *testing.T) {
		_, err := Load("", envMap(map[string]string{"DOCKER_HOST_PORT": "http"}))
		assert.Error(t, err)

		_, err = Load("", envMap(map[string]string{"DOCKER_HOST_PORT": "70000"}))
		assert.Error(t, err)
	})

	t.Run("invalid poll interval", func(t *testing.T) {
		_, err := Load("", envMap(map[string]string{"DEVOPS_POLL_INTERVAL": "soon"}))
		assert.Error(t, err)

		_, err = Load("", envMap(map[string]string{"DEVOPS_POLL_INTERVAL": "-1s"}))
		assert.Error(t, err)
	})
}

func TestIdentity(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		"DEVOPS_AGENT_ID":         "a-1",
		"DEVOPS_AGENT_SECRET_KEY": "s-1",
		"DEVOPS_PROJECT_ID":       "p-1",
	}))
	require.NoError(t, err)

	id := cfg.Identity()
	assert.Equal(t, Identity{AgentID: "a-1", SecretKey: "s-1", ProjectID: "p-1"}, id)
}
