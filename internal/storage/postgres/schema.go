package postgres

// Schema is the DDL applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS repositories (
	repo_url            TEXT PRIMARY KEY,
	owner               TEXT NOT NULL,
	repo                TEXT NOT NULL,
	stars               INTEGER NOT NULL DEFAULT 0,
	forks               INTEGER NOT NULL DEFAULT 0,
	commits             INTEGER NOT NULL DEFAULT 0,
	contributors        INTEGER NOT NULL DEFAULT 0,
	has_ci              BOOLEAN NOT NULL DEFAULT FALSE,
	has_dockerfile      BOOLEAN NOT NULL DEFAULT FALSE,
	has_procfile        BOOLEAN NOT NULL DEFAULT FALSE,
	has_package_json    BOOLEAN NOT NULL DEFAULT FALSE,
	has_requirements    BOOLEAN NOT NULL DEFAULT FALSE,
	readme_len          INTEGER NOT NULL DEFAULT 0,
	license             TEXT,
	language            TEXT,
	trufflehog_findings INTEGER NOT NULL DEFAULT 0,
	bandit_findings     INTEGER NOT NULL DEFAULT 0,
	score               INTEGER NOT NULL,
	category            TEXT NOT NULL CHECK (category IN ('production', 'non-production')),
	pages_linking       TEXT NOT NULL DEFAULT '',
	total_files         INTEGER NOT NULL DEFAULT 0,
	total_lines         INTEGER NOT NULL DEFAULT 0,
	last_processed      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_repositories_score ON repositories (score DESC);
CREATE INDEX IF NOT EXISTS idx_repositories_last_processed ON repositories (last_processed);
`
