package store

// The relational layout is backend-agnostic: the same DDL runs on SQLite
// and Postgres. Child rows carry a position column for stable ordering.

var adminSchema = []string{
	`CREATE TABLE IF NOT EXISTS circuit_proposal (
		circuit_id         TEXT PRIMARY KEY,
		proposal_type      INTEGER NOT NULL,
		circuit_hash       TEXT NOT NULL,
		requester          BYTEA NOT NULL,
		requester_node_id  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proposed_circuit (
		circuit_id              TEXT PRIMARY KEY,
		authorization_type      INTEGER NOT NULL,
		persistence             TEXT NOT NULL,
		durability              TEXT NOT NULL,
		routes                  TEXT NOT NULL,
		circuit_management_type TEXT NOT NULL,
		application_metadata    BYTEA,
		comments                TEXT,
		display_name            TEXT,
		circuit_version         INTEGER NOT NULL,
		circuit_status          INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proposed_node (
		circuit_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		public_key BYTEA,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS proposed_node_endpoint (
		circuit_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		endpoint   TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, node_id, endpoint)
	)`,
	`CREATE TABLE IF NOT EXISTS proposed_service (
		circuit_id   TEXT NOT NULL,
		service_id   TEXT NOT NULL,
		service_type TEXT NOT NULL,
		position     INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS proposed_service_argument (
		circuit_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		arg_key    TEXT NOT NULL,
		arg_value  TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, service_id, arg_key)
	)`,
	`CREATE TABLE IF NOT EXISTS proposed_service_allowed_node (
		circuit_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, service_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS vote_record (
		circuit_id    TEXT NOT NULL,
		public_key    BYTEA NOT NULL,
		vote          INTEGER NOT NULL,
		voter_node_id TEXT NOT NULL,
		position      INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, voter_node_id)
	)`,

	`CREATE TABLE IF NOT EXISTS circuit (
		circuit_id              TEXT PRIMARY KEY,
		authorization_type      INTEGER NOT NULL,
		persistence             TEXT NOT NULL,
		durability              TEXT NOT NULL,
		routes                  TEXT NOT NULL,
		circuit_management_type TEXT NOT NULL,
		application_metadata    BYTEA,
		comments                TEXT,
		display_name            TEXT,
		circuit_version         INTEGER NOT NULL,
		circuit_status          INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS circuit_member (
		circuit_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		public_key BYTEA,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS circuit_member_endpoint (
		circuit_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		endpoint   TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, node_id, endpoint)
	)`,
	`CREATE TABLE IF NOT EXISTS circuit_service (
		circuit_id   TEXT NOT NULL,
		service_id   TEXT NOT NULL,
		service_type TEXT NOT NULL,
		position     INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS circuit_service_argument (
		circuit_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		arg_key    TEXT NOT NULL,
		arg_value  TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, service_id, arg_key)
	)`,
	`CREATE TABLE IF NOT EXISTS circuit_service_allowed_node (
		circuit_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (circuit_id, service_id, node_id)
	)`,

	`CREATE TABLE IF NOT EXISTS admin_service_event (
		event_id        INTEGER PRIMARY KEY,
		event_type      INTEGER NOT NULL,
		management_type TEXT NOT NULL,
		requester_key   BYTEA,
		proposal        BYTEA NOT NULL
	)`,
}
