package store

var scabbardSchema = []string{
	`CREATE TABLE IF NOT EXISTS consensus_2pc_coordinator_context (
		service_id        TEXT NOT NULL,
		epoch             INTEGER NOT NULL,
		coordinator_id    TEXT NOT NULL,
		state             INTEGER NOT NULL,
		last_commit_epoch INTEGER,
		value             BYTEA,
		self_vote         INTEGER,
		alarm             INTEGER,
		PRIMARY KEY (service_id, epoch)
	)`,
	`CREATE TABLE IF NOT EXISTS consensus_2pc_coordinator_context_participant (
		service_id   TEXT NOT NULL,
		epoch        INTEGER NOT NULL,
		process_id   TEXT NOT NULL,
		vote         INTEGER,
		decision_ack INTEGER NOT NULL DEFAULT 0,
		position     INTEGER NOT NULL,
		PRIMARY KEY (service_id, epoch, process_id)
	)`,
	`CREATE TABLE IF NOT EXISTS consensus_2pc_participant_context (
		service_id             TEXT NOT NULL,
		epoch                  INTEGER NOT NULL,
		coordinator_id         TEXT NOT NULL,
		state                  INTEGER NOT NULL,
		last_commit_epoch      INTEGER,
		value                  BYTEA,
		vote_decision          INTEGER,
		decision_timeout_start INTEGER,
		alarm                  INTEGER,
		PRIMARY KEY (service_id, epoch)
	)`,
	`CREATE TABLE IF NOT EXISTS consensus_2pc_participant_context_participant (
		service_id TEXT NOT NULL,
		epoch      INTEGER NOT NULL,
		process_id TEXT NOT NULL,
		position   INTEGER NOT NULL,
		PRIMARY KEY (service_id, epoch, process_id)
	)`,

	`CREATE TABLE IF NOT EXISTS two_pc_consensus_event (
		id          INTEGER PRIMARY KEY,
		service_id  TEXT NOT NULL,
		epoch       INTEGER NOT NULL,
		position    INTEGER NOT NULL,
		event_type  INTEGER NOT NULL,
		executed_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS two_pc_consensus_deliver_event (
		event_id     INTEGER PRIMARY KEY,
		from_process TEXT NOT NULL,
		message      BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS two_pc_consensus_start_event (
		event_id INTEGER PRIMARY KEY,
		value    BYTEA
	)`,
	`CREATE TABLE IF NOT EXISTS two_pc_consensus_vote_event (
		event_id INTEGER PRIMARY KEY,
		decision INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS two_pc_consensus_action (
		id          INTEGER PRIMARY KEY,
		service_id  TEXT NOT NULL,
		epoch       INTEGER NOT NULL,
		position    INTEGER NOT NULL,
		action_type INTEGER NOT NULL,
		executed_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS two_pc_consensus_send_message_action (
		action_id  INTEGER PRIMARY KEY,
		to_process TEXT NOT NULL,
		message    BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS two_pc_consensus_notify_action (
		action_id         INTEGER PRIMARY KEY,
		notification_type INTEGER NOT NULL,
		value             BYTEA
	)`,
	`CREATE TABLE IF NOT EXISTS two_pc_consensus_update_action (
		action_id INTEGER PRIMARY KEY,
		context   BYTEA NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS supervisor_notification (
		id                INTEGER PRIMARY KEY,
		service_id        TEXT NOT NULL,
		epoch             INTEGER NOT NULL,
		notification_type INTEGER NOT NULL,
		value             BYTEA,
		created_at        INTEGER NOT NULL
	)`,
}
