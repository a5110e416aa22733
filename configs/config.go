package configs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/magiconair/properties"
)

// Config is the full configuration of a splinter node. Values come from a
// .properties file with environment overrides applied on top.
type Config struct {
	NodeID          string
	DisplayName     string
	Endpoints       []string
	AdvertisedAddrs []string

	// Storage is a DSN: "memory", a sqlite path ("splinter.db" or
	// ":memory:"), or a postgres URL.
	Storage  string
	StateDir string

	TLSCertFile   string
	TLSKeyFile    string
	TLSCAFile     string
	TLSInsecure   bool
	RegistryFile  string
	RegistryMongo string

	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration

	// AdminKeys maps node id -> hex Ed25519 public key permitted to sign
	// circuit management payloads for that node.
	AdminKeys map[string]string

	// AdminPrivateKey is this node's hex Ed25519 private key seed; an
	// ephemeral key is generated when empty.
	AdminPrivateKey string

	// ChallengeAuth offers challenge authorization on the connection
	// handshake; peers are then identified by key instead of node id.
	ChallengeAuth bool

	CircuitManagementType string
	CircuitServiceType    string
}

// Load reads the properties file at path (optional, "" skips) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	p := properties.NewProperties()
	if path != "" {
		var err error
		p, err = properties.LoadFile(path, properties.UTF8)
		if err != nil {
			return nil, fmt.Errorf("unable to load config %s: %w", path, err)
		}
	}

	c := &Config{
		NodeID:            p.GetString("node.id", ""),
		DisplayName:       p.GetString("node.display_name", ""),
		Endpoints:         splitList(p.GetString("network.endpoints", "tcp://127.0.0.1:8044")),
		AdvertisedAddrs:   splitList(p.GetString("network.advertised", "")),
		Storage:           p.GetString("storage", "memory"),
		StateDir:          p.GetString("state.dir", "/var/lib/splinter"),
		TLSCertFile:       p.GetString("tls.cert", ""),
		TLSKeyFile:        p.GetString("tls.key", ""),
		TLSCAFile:         p.GetString("tls.ca", ""),
		TLSInsecure:       p.GetBool("tls.insecure", false),
		RegistryFile:      p.GetString("registry.file", ""),
		RegistryMongo:     p.GetString("registry.mongo", ""),
		HeartbeatInterval: p.GetParsedDuration("network.heartbeat", HeartbeatInterval),
		ConnectTimeout:    p.GetParsedDuration("network.connect_timeout", ConnectTimeout),
		AdminKeys:         map[string]string{},
		AdminPrivateKey:   p.GetString("admin.private_key", ""),
		ChallengeAuth:     p.GetBool("network.challenge_auth", false),

		CircuitManagementType: p.GetString("circuit.management_type", ""),
		CircuitServiceType:    p.GetString("circuit.service_type", ""),
	}

	for _, key := range p.Keys() {
		if strings.HasPrefix(key, "admin.key.") {
			c.AdminKeys[strings.TrimPrefix(key, "admin.key.")] = p.MustGetString(key)
		}
	}

	if v := os.Getenv(StateDirEnv); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv(StorageEnv); v != "" {
		c.Storage = v
	}
	if c.CircuitManagementType == "" {
		c.CircuitManagementType = os.Getenv(CircuitManagementTypeEnv)
	}
	if c.CircuitServiceType == "" {
		c.CircuitServiceType = os.Getenv(CircuitServiceTypeEnv)
	}

	if c.NodeID == "" {
		return nil, fmt.Errorf("node.id must be set")
	}
	return c, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
