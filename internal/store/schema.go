package store

// schema mirrors internal/model's entities as SQLite tables. Grounded on
// SimplyLiz-CodeMCP/internal/jobs/store.go's raw-SQL-string idiom: plain
// CREATE TABLE IF NOT EXISTS statements run once at open time, no migration
// framework (the pack carries none).
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS people (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '' UNIQUE,
	signing_fingerprint TEXT NOT NULL DEFAULT '',
	transport_fingerprint TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS builders (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	signing_fingerprint TEXT NOT NULL DEFAULT '',
	transport_fingerprint TEXT NOT NULL DEFAULT '',
	last_ping TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS groups (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	repo_path TEXT NOT NULL DEFAULT '',
	repo_url TEXT NOT NULL DEFAULT '',
	files_path TEXT NOT NULL DEFAULT '',
	files_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS suites (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS components (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS arches (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS checks (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	source INTEGER NOT NULL DEFAULT 0,
	binary INTEGER NOT NULL DEFAULT 0,
	build INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS group_suites (
	id INTEGER PRIMARY KEY,
	group_id INTEGER NOT NULL REFERENCES groups(id),
	suite_id INTEGER NOT NULL REFERENCES suites(id),
	UNIQUE (group_id, suite_id)
);

CREATE TABLE IF NOT EXISTS group_suite_components (
	group_suite_id INTEGER NOT NULL REFERENCES group_suites(id),
	component_id INTEGER NOT NULL REFERENCES components(id),
	PRIMARY KEY (group_suite_id, component_id)
);

CREATE TABLE IF NOT EXISTS group_suite_arches (
	group_suite_id INTEGER NOT NULL REFERENCES group_suites(id),
	arch_id INTEGER NOT NULL REFERENCES arches(id),
	PRIMARY KEY (group_suite_id, arch_id)
);

CREATE TABLE IF NOT EXISTS group_suite_checks (
	group_suite_id INTEGER NOT NULL REFERENCES group_suites(id),
	check_id INTEGER NOT NULL REFERENCES checks(id),
	PRIMARY KEY (group_suite_id, check_id)
);

CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	group_suite_id INTEGER NOT NULL REFERENCES group_suites(id),
	component_id INTEGER NOT NULL REFERENCES components(id),
	affinity_arch_id INTEGER REFERENCES arches(id),
	uploader_id INTEGER NOT NULL REFERENCES people(id),
	uploaded_at TEXT NOT NULL,
	directory TEXT NOT NULL DEFAULT '',
	dsc_filename TEXT NOT NULL DEFAULT '',
	current INTEGER NOT NULL DEFAULT 1,
	UNIQUE (name, version, group_suite_id)
);

CREATE INDEX IF NOT EXISTS idx_sources_name_group ON sources (name, group_suite_id);

CREATE TABLE IF NOT EXISTS source_arches (
	source_id INTEGER NOT NULL REFERENCES sources(id),
	arch_id INTEGER NOT NULL REFERENCES arches(id),
	PRIMARY KEY (source_id, arch_id)
);

CREATE TABLE IF NOT EXISTS maintainers (
	id INTEGER PRIMARY KEY,
	source_id INTEGER NOT NULL REFERENCES sources(id),
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	comaintainer INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS binaries (
	id INTEGER PRIMARY KEY,
	source_id INTEGER NOT NULL REFERENCES sources(id),
	arch_id INTEGER NOT NULL REFERENCES arches(id),
	build_job_id INTEGER NOT NULL REFERENCES jobs(id),
	uploaded_at TEXT NOT NULL,
	UNIQUE (build_job_id, arch_id)
);

CREATE TABLE IF NOT EXISTS debs (
	id INTEGER PRIMARY KEY,
	binary_id INTEGER NOT NULL REFERENCES binaries(id),
	directory TEXT NOT NULL,
	filename TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY,
	source_id INTEGER NOT NULL REFERENCES sources(id),
	check_id INTEGER NOT NULL REFERENCES checks(id),
	arch_id INTEGER NOT NULL REFERENCES arches(id),
	binary_id INTEGER REFERENCES binaries(id),
	builder_id INTEGER REFERENCES builders(id),
	state TEXT NOT NULL DEFAULT 'pending',
	assigned_at TEXT,
	assigned_count INTEGER NOT NULL DEFAULT 0,
	finished_at TEXT,
	failed INTEGER,
	dose_report TEXT,
	UNIQUE (source_id, check_id, arch_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs (state, assigned_count, finished_at);

CREATE TABLE IF NOT EXISTS job_dependencies (
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	depends_on_job_id INTEGER NOT NULL REFERENCES jobs(id),
	PRIMARY KEY (job_id, depends_on_job_id)
);

CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY,
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	uploaded_at TEXT NOT NULL,
	failed INTEGER NOT NULL,
	firehose_id TEXT NOT NULL,
	directory TEXT NOT NULL
);
`
