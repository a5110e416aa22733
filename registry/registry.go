// Package registry is the node directory: a read/write mapping from node
// identity to endpoints and keys, with file, MongoDB, and remote-mirror
// backends. The daemon consults it to resolve member endpoints when a
// proposal names nodes it has not peered with.
package registry

import (
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"splinter/utils"
)

// Node is one directory entry.
type Node struct {
	Identity    string   `json:"identity"`
	Endpoints   []string `json:"endpoints"`
	DisplayName string   `json:"display_name,omitempty"`
	Keys        []string `json:"keys,omitempty"`
}

// Registry is the directory contract.
type Registry interface {
	ListNodes() ([]Node, error)
	FetchNode(identity string) (*Node, error)
	InsertNode(node Node) error
	DeleteNode(identity string) error
}

// FileRegistry persists the directory as a JSON file; reads are served
// from memory.
type FileRegistry struct {
	mu    sync.Mutex
	path  string
	nodes map[string]Node
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path, nodes: make(map[string]Node)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, utils.WrapError(utils.KindInternal, err, "unable to read registry file")
	}
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to parse registry file")
	}
	for _, node := range nodes {
		r.nodes[node.Identity] = node
	}
	return r, nil
}

func (r *FileRegistry) ListNodes() ([]Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(), nil
}

func (r *FileRegistry) FetchNode(identity string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[identity]
	if !ok {
		return nil, utils.Errorf(utils.KindNotFound, "no registry entry for %s", identity)
	}
	copied := node
	return &copied, nil
}

func (r *FileRegistry) InsertNode(node Node) error {
	if node.Identity == "" {
		return utils.NewError(utils.KindInvalidState, "registry node requires an identity")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.Identity] = node
	return r.saveLocked()
}

func (r *FileRegistry) DeleteNode(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[identity]; !ok {
		return utils.Errorf(utils.KindNotFound, "no registry entry for %s", identity)
	}
	delete(r.nodes, identity)
	return r.saveLocked()
}

func (r *FileRegistry) sortedLocked() []Node {
	nodes := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Identity < nodes[j].Identity })
	return nodes
}

func (r *FileRegistry) saveLocked() error {
	data, err := json.Marshal(r.sortedLocked())
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to serialize registry")
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to write registry file")
	}
	return nil
}
