package sqlite

// The partial unique index uq_jobs_dedupe_active enforces that at most one
// job per (dedupe_key, content_hash) is in a non-terminal state. Enqueue
// relies on it to resolve concurrent submissions.
const schema = `
CREATE TABLE IF NOT EXISTS providers (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	credential  TEXT NOT NULL,
	priority    INTEGER NOT NULL CHECK (priority >= 1),
	enabled     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS models (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL REFERENCES providers(id),
	model_name       TEXT NOT NULL,
	per_minute_limit INTEGER NOT NULL CHECK (per_minute_limit >= 1),
	per_day_limit    INTEGER NOT NULL CHECK (per_day_limit >= 1),
	enabled          INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_models_enabled_provider ON models(enabled, provider_id);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	file_id      TEXT NOT NULL,
	dedupe_key   TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	payload      BLOB NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 1,
	state        TEXT NOT NULL CHECK (state IN ('queued','processing','succeeded','failed','dead')),
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	error        TEXT NOT NULL DEFAULT '',
	result       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	locked_at    TIMESTAMP,
	worker_id    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_dedupe_active
	ON jobs(dedupe_key, content_hash) WHERE state IN ('queued','processing');
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(priority DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS job_attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	attempt_no  INTEGER NOT NULL,
	provider_id TEXT,
	model_id    TEXT,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	success     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_job_attempts_job ON job_attempts(job_id, attempt_no);

CREATE TABLE IF NOT EXISTS rate_counters (
	model_id     TEXT NOT NULL REFERENCES models(id),
	period       TEXT NOT NULL CHECK (period IN ('minute','day')),
	window_start TIMESTAMP NOT NULL,
	used_count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (model_id, period, window_start)
);

CREATE TABLE IF NOT EXISTS provider_backoffs (
	provider_id TEXT PRIMARY KEY REFERENCES providers(id),
	until       TIMESTAMP NOT NULL,
	reason      TEXT NOT NULL DEFAULT ''
);
`
