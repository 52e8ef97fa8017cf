package sqlstore

// Schema documents the relational shape this backend expects (§6).
// Migrations are a deployment concern; this package only ever runs
// DML, never DDL, so Schema is provided for operators to feed to
// whatever migration tool they use and is never executed by this
// package.
const Schema = `
CREATE TABLE circuit_proposal (
	circuit_id            TEXT PRIMARY KEY,
	circuit_hash          TEXT NOT NULL,
	proposal_type         INTEGER NOT NULL,
	definition            JSONB NOT NULL,
	votes                 JSONB NOT NULL,
	requester_public_key  BYTEA,
	requester_node_id     TEXT NOT NULL
);

CREATE TABLE circuit (
	circuit_id          TEXT PRIMARY KEY,
	authorization_type  INTEGER NOT NULL,
	members             JSONB NOT NULL,
	roster              JSONB NOT NULL,
	management_type     TEXT NOT NULL,
	circuit_version     INTEGER NOT NULL,
	circuit_status      INTEGER NOT NULL,
	display_name        TEXT NOT NULL
);

CREATE TABLE admin_service_event (
	id                  BIGSERIAL PRIMARY KEY,
	management_type     TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	event_type          INTEGER NOT NULL,
	proposal_snapshot   JSONB NOT NULL
);
CREATE INDEX admin_service_event_mgmt_created_idx
	ON admin_service_event (management_type, created_at);

CREATE TABLE scabbard_alarm (
	fqsi        TEXT NOT NULL,
	alarm_kind  INTEGER NOT NULL,
	alarm_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (fqsi, alarm_kind)
);

CREATE TABLE lifecycle_service (
	fqsi          TEXT PRIMARY KEY,
	service_type  TEXT NOT NULL,
	arguments     JSONB NOT NULL,
	command       INTEGER NOT NULL,
	status        INTEGER NOT NULL
);

CREATE TABLE consensus_context (
	fqsi                    TEXT NOT NULL,
	epoch                   BIGINT NOT NULL,
	role                    INTEGER NOT NULL,
	state                   TEXT NOT NULL,
	pending_value           BYTEA,
	votes                   JSONB,
	vote_timeout_start      TIMESTAMPTZ,
	decision_timeout_start  TIMESTAMPTZ,
	PRIMARY KEY (fqsi, epoch)
);

CREATE TABLE consensus_action (
	id           BIGSERIAL PRIMARY KEY,
	fqsi         TEXT NOT NULL,
	epoch        BIGINT NOT NULL,
	payload      BYTEA NOT NULL,
	executed_at  TIMESTAMPTZ
);

CREATE TABLE consensus_event (
	id           BIGSERIAL PRIMARY KEY,
	fqsi         TEXT NOT NULL,
	epoch        BIGINT NOT NULL,
	payload      BYTEA NOT NULL,
	executed_at  TIMESTAMPTZ
);

CREATE TABLE commit_history (
	fqsi      TEXT NOT NULL,
	epoch     BIGINT NOT NULL,
	value     BYTEA NOT NULL,
	decision  TEXT,
	PRIMARY KEY (fqsi, epoch)
);
`
