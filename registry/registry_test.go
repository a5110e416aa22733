package registry

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splinter/utils"
)

func TestFileRegistryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r, err := NewFileRegistry(path)
	require.NoError(t, err)
	require.NoError(t, r.InsertNode(Node{
		Identity:  "Node-A",
		Endpoints: []string{"tcp://127.0.0.1:8044"},
		Keys:      []string{"aabbcc"},
	}))
	require.NoError(t, r.InsertNode(Node{Identity: "Node-B", Endpoints: []string{"tcp://127.0.0.1:8045"}}))

	reopened, err := NewFileRegistry(path)
	require.NoError(t, err)
	nodes, err := reopened.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "Node-A", nodes[0].Identity)

	node, err := reopened.FetchNode("Node-B")
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp://127.0.0.1:8045"}, node.Endpoints)

	require.NoError(t, reopened.DeleteNode("Node-A"))
	_, err = reopened.FetchNode("Node-A")
	assert.True(t, utils.IsNotFound(err))
}

func TestRemoteRegistryMirror(t *testing.T) {
	local, err := NewFileRegistry(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	require.NoError(t, local.InsertNode(Node{
		Identity:  "Node-A",
		Endpoints: []string{"tcp://127.0.0.1:8044"},
	}))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewServer(local)
	go server.Serve(listener)
	defer server.Stop()

	mirror := NewRemoteRegistry(listener.Addr().String())

	node, err := mirror.FetchNode("Node-A")
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp://127.0.0.1:8044"}, node.Endpoints)

	_, err = mirror.FetchNode("Node-Z")
	assert.True(t, utils.IsNotFound(err))

	nodes, err := mirror.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	// the mirror is read-only.
	assert.Error(t, mirror.InsertNode(Node{Identity: "Node-X"}))
}
