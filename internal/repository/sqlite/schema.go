package sqlite

import (
	"context"
	"database/sql"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS exams (
	id                    TEXT PRIMARY KEY,
	title                 TEXT NOT NULL,
	status                TEXT NOT NULL,
	duration_minutes      INTEGER NOT NULL,
	start_at_unix         INTEGER NOT NULL,
	end_at_unix           INTEGER NOT NULL,
	shuffle_questions     INTEGER NOT NULL DEFAULT 0,
	shuffle_options       INTEGER NOT NULL DEFAULT 0,
	allow_back_navigation INTEGER NOT NULL DEFAULT 1,
	negative_marking      REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
	id            TEXT PRIMARY KEY,
	question_text TEXT NOT NULL,
	question_type TEXT NOT NULL,
	marks         REAL NOT NULL,
	difficulty    TEXT NOT NULL DEFAULT 'M'
);

CREATE TABLE IF NOT EXISTS question_options (
	id          TEXT PRIMARY KEY,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	option_text TEXT NOT NULL,
	is_correct  INTEGER NOT NULL DEFAULT 0,
	position    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_questions (
	exam_id        TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	question_id    TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	marks_override REAL,
	PRIMARY KEY (exam_id, question_id)
);

CREATE TABLE IF NOT EXISTS attempts (
	id                TEXT PRIMARY KEY,
	exam_id           TEXT NOT NULL,
	student_id        INTEGER NOT NULL,
	state             TEXT NOT NULL,
	started_at_unix   INTEGER,
	submitted_at_unix INTEGER,
	question_order    TEXT NOT NULL DEFAULT '[]',
	objective_score   REAL NOT NULL DEFAULT 0,
	subjective_score  REAL NOT NULL DEFAULT 0,
	total_score       REAL NOT NULL DEFAULT 0,
	client_ip         TEXT NOT NULL DEFAULT '',
	user_agent        TEXT NOT NULL DEFAULT '',
	created_at_unix   INTEGER NOT NULL,
	UNIQUE (exam_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_attempts_student ON attempts(student_id, created_at_unix DESC);
CREATE INDEX IF NOT EXISTS idx_attempts_state ON attempts(state);

CREATE TABLE IF NOT EXISTS attempt_answers (
	attempt_id       TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
	question_id      TEXT NOT NULL,
	question_type    TEXT NOT NULL,
	selected_options TEXT NOT NULL DEFAULT '[]',
	answer_text      TEXT NOT NULL DEFAULT '',
	evaluated        INTEGER NOT NULL DEFAULT 0,
	marks_awarded    REAL NOT NULL DEFAULT 0,
	updated_at_unix  INTEGER NOT NULL,
	PRIMARY KEY (attempt_id, question_id)
);
`

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
