package configs

import "time"

// Wire protocol versions.
const (
	// FrameVersion is the framed transport version advertised on connect.
	FrameVersionMin = 1
	FrameVersion    = 1

	// PeerAuthorizationProtocolMin et al. bound the authorization handshake
	// version negotiation.
	PeerAuthorizationProtocolMin     = 1
	PeerAuthorizationProtocolVersion = 1
)

// Admin defaults.
const (
	// AdminCircuitID is the circuit id carried by admin direct messages on
	// the virtual admin circuit.
	AdminCircuitID = "admin"

	// CircuitVersion is the protocol version recorded on newly proposed
	// circuits.
	CircuitVersion = 2

	// AdminEventBound caps the admin event store; the smallest event id is
	// evicted once the bound is reached.
	AdminEventBound = 100
)

// Environment variables recognized by the admin layer.
const (
	CircuitManagementTypeEnv = "SPLINTER_CIRCUIT_MANAGEMENT_TYPE"
	CircuitServiceTypeEnv    = "SPLINTER_CIRCUIT_SERVICE_TYPE"
	StateDirEnv              = "SPLINTER_STATE_DIR"
	StorageEnv               = "SPLINTER_STORAGE"
)

// Networking parameters.
var (
	HeartbeatInterval     = 30 * time.Second
	ConnectTimeout        = 10 * time.Second
	AuthorizationTimeout  = 30 * time.Second
	InitialRetryFrequency = 100 * time.Millisecond
	MaximumRetryFrequency = 300 * time.Second
	ShutdownGracePeriod   = 10 * time.Second

	// MatrixSendQueue bounds the per-connection outbound FIFO. Heartbeats are
	// dropped when it is full; application sends surface a NetworkSend error.
	MatrixSendQueue = 128

	// DispatchQueue bounds each dispatch loop's inbound channel.
	DispatchQueue = 256

	MaxConnectionHandler = 16
)

// Scabbard timing.
var (
	TwoPCVoteTimeout       = 30 * time.Second
	TwoPCDecisionTimeout   = 30 * time.Second
	CommitLogBatchInterval = 10 * time.Millisecond
)

// StrictRefCounts panics on negative peer ref-count bookkeeping when true;
// otherwise the error is logged. Development safety toggle.
var StrictRefCounts = false
