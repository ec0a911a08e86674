package jobstore

import "github.com/jmoiron/sqlx"

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id           TEXT PRIMARY KEY,
	original_key     TEXT NOT NULL,
	output_key       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'queued',
	progress         INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	resolutions      TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at       DATETIME,
	completed_at     DATETIME,
	file_size        INTEGER NOT NULL DEFAULT 0,
	duration_seconds REAL NOT NULL DEFAULT 0,
	video_name       TEXT NOT NULL DEFAULT '',
	environment      TEXT NOT NULL DEFAULT 'staging',
	callback_url     TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	worker_id        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS job_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	level      TEXT NOT NULL DEFAULT 'info',
	message    TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_job_logs_job_created ON job_logs(job_id, created_at);
`

func runMigrations(db *sqlx.DB) error {
	_, err := db.Exec(schema)
	return err
}
