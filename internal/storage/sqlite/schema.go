package sqlite

import "fmt"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS integrations (
	id                    TEXT NOT NULL,
	tenant_id             TEXT NOT NULL,
	type                  TEXT NOT NULL,
	name                  TEXT NOT NULL,
	credentials           BLOB,
	settings_json         TEXT NOT NULL DEFAULT '{}',
	custom_fields_json    TEXT NOT NULL DEFAULT '{}',
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS etl_jobs (
	id                TEXT NOT NULL,
	tenant_id         TEXT NOT NULL,
	integration_id    TEXT NOT NULL,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	version           INTEGER NOT NULL DEFAULT 0,
	steps_json        TEXT NOT NULL DEFAULT '[]',
	watermarks_json   TEXT NOT NULL DEFAULT '{}',
	schedule_interval TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	started_at        TEXT,
	completed_at      TEXT,
	last_error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_etl_jobs_status ON etl_jobs (status);
CREATE INDEX IF NOT EXISTS idx_etl_jobs_tenant_status ON etl_jobs (tenant_id, status);

CREATE TABLE IF NOT EXISTS raw_extraction_data (
	id                TEXT NOT NULL,
	tenant_id         TEXT NOT NULL,
	job_id            TEXT NOT NULL,
	integration_id    TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	parent_external_id TEXT NOT NULL DEFAULT '',
	payload           BLOB NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	extracted_at      TEXT NOT NULL,
	processed_at      TEXT,
	error             TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, job_id, external_id)
);
CREATE INDEX IF NOT EXISTS idx_raw_status ON raw_extraction_data (tenant_id, job_id, processing_status);

CREATE TABLE IF NOT EXISTS target_rows (
	tenant_id          TEXT NOT NULL,
	integration_id     TEXT NOT NULL,
	entity_type        TEXT NOT NULL,
	external_id        TEXT NOT NULL,
	parent_external_id TEXT NOT NULL DEFAULT '',
	fields_json        TEXT NOT NULL DEFAULT '{}',
	updated_at         TEXT NOT NULL,
	PRIMARY KEY (tenant_id, entity_type, external_id)
);

CREATE TABLE IF NOT EXISTS custom_field_catalog (
	tenant_id      TEXT NOT NULL,
	integration_id TEXT NOT NULL,
	container      TEXT NOT NULL,
	field_id       TEXT NOT NULL,
	field_name     TEXT NOT NULL DEFAULT '',
	first_seen_at  TEXT NOT NULL,
	last_seen_at   TEXT NOT NULL,
	active         INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (tenant_id, integration_id, container, field_id)
);

CREATE TABLE IF NOT EXISTS issue_type_catalog (
	tenant_id      TEXT NOT NULL,
	integration_id TEXT NOT NULL,
	container      TEXT NOT NULL,
	issue_type_id  TEXT NOT NULL,
	issue_type_name TEXT NOT NULL DEFAULT '',
	first_seen_at  TEXT NOT NULL,
	last_seen_at   TEXT NOT NULL,
	active         INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (tenant_id, integration_id, container, issue_type_id)
);

CREATE TABLE IF NOT EXISTS kv_store (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL
);
`

func (db *DB) applySchema() error {
	if _, err := db.conn.Exec(schemaDDL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	return nil
}
