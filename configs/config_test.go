package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/magiconair/properties/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromPropertiesWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.properties")
	require.NoError(t, os.WriteFile(path, []byte(`
node.id = Node-A
network.endpoints = tcp://127.0.0.1:8044, inproc://a
storage = splinter.db
circuit.management_type = gameroom
admin.key.Node-B = aabbcc
`), 0o600))

	t.Setenv(StorageEnv, "postgres://splinter@localhost/splinter")
	t.Setenv(StateDirEnv, "/tmp/splinter-state")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.NodeID, "Node-A")
	assert.Equal(t, cfg.Endpoints, []string{"tcp://127.0.0.1:8044", "inproc://a"})
	assert.Equal(t, cfg.Storage, "postgres://splinter@localhost/splinter")
	assert.Equal(t, cfg.StateDir, "/tmp/splinter-state")
	assert.Equal(t, cfg.CircuitManagementType, "gameroom")
	assert.Equal(t, cfg.AdminKeys["Node-B"], "aabbcc")
}

func TestLoadRequiresNodeID(t *testing.T) {
	t.Setenv(StorageEnv, "")
	t.Setenv(StateDirEnv, "")
	_, err := Load("")
	require.Error(t, err)
}
