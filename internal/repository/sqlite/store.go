// Package sqlite implements the exam catalog and attempt store on an embedded SQLite file
// through database/sql and the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store holds the database handle and implements both service.ExamCatalog and
// service.AttemptStore. The pool is capped at one connection, so every transaction
// is serialized and WithAttemptLock is exclusive.
type Store struct {
	db *sql.DB
}

var (
	_ service.ExamCatalog  = (*Store)(nil)
	_ service.AttemptStore = (*Store)(nil)
)

// Open opens the database at dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:exstem.db?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── attempts ────────────────────────────────────────────────────────

const attemptColumns = `id, exam_id, student_id, state, started_at_unix, submitted_at_unix, question_order,
	objective_score, subjective_score, total_score, client_ip, user_agent, created_at_unix`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*model.Attempt, error) {
	var (
		a                  model.Attempt
		id, examID, order  string
		started, submitted sql.NullInt64
		createdAt          int64
	)
	err := row.Scan(&id, &examID, &a.StudentID, &a.State, &started, &submitted, &order,
		&a.ObjectiveScore, &a.SubjectiveScore, &a.TotalScore, &a.ClientIP, &a.UserAgent, &createdAt)
	if err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.ExamID, err = uuid.Parse(examID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(order), &a.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question order: %w", err)
	}
	a.StartedAt = fromNullUnix(started)
	a.SubmittedAt = fromNullUnix(submitted)
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return &a, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, a *model.Attempt) (*model.Attempt, bool, error) {
	order, err := json.Marshal(orEmpty(a.QuestionOrder))
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, state, started_at_unix, question_order,
		                       client_ip, user_agent, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		a.ID.String(), a.ExamID.String(), a.StudentID, a.State, toNullUnix(a.StartedAt), string(order),
		a.ClientIP, a.UserAgent, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	got, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = ? AND student_id = ?`,
		a.ExamID.String(), a.StudentID,
	))
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return got, n == 1, nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, attemptID.String()))
	if err != nil {
		return nil, wrapErr(err)
	}
	return a, nil
}

func (s *Store) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	return listAnswers(ctx, s.db, attemptID)
}

func (s *Store) UpsertAnswer(ctx context.Context, ans *model.Answer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	var state model.AttemptState
	if err := tx.QueryRowContext(ctx, `SELECT state FROM attempts WHERE id = ?`, ans.AttemptID.String()).Scan(&state); err != nil {
		return wrapErr(err)
	}
	if state != model.AttemptInProgress {
		return service.ErrStateConflict
	}
	if err := putAnswer(ctx, tx, ans); err != nil {
		return err
	}
	return wrapErr(tx.Commit())
}

func (s *Store) WithAttemptLock(ctx context.Context, attemptID uuid.UUID, fn func(service.AttemptTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	a, err := scanAttempt(tx.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, attemptID.String()))
	if err != nil {
		return wrapErr(err)
	}
	if err := fn(&sqliteTx{tx: tx, attempt: a}); err != nil {
		return err
	}
	return wrapErr(tx.Commit())
}

func (s *Store) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return s.listAttempts(ctx, `WHERE exam_id = ? ORDER BY created_at_unix, id`, examID.String())
}

func (s *Store) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	return s.listAttempts(ctx, `WHERE student_id = ? ORDER BY created_at_unix DESC`, studentID)
}

func (s *Store) ListInProgress(ctx context.Context) ([]model.Attempt, error) {
	return s.listAttempts(ctx, `WHERE state = ? ORDER BY started_at_unix`, model.AttemptInProgress)
}

func (s *Store) listAttempts(ctx context.Context, where string, args ...any) ([]model.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts `+where, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := []model.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, wrapErr(rows.Err())
}

type sqliteTx struct {
	tx      *sql.Tx
	attempt *model.Attempt
}

func (t *sqliteTx) Attempt() *model.Attempt {
	c := *t.attempt
	c.QuestionOrder = append([]uuid.UUID(nil), t.attempt.QuestionOrder...)
	return &c
}

func (t *sqliteTx) Answers(ctx context.Context) ([]model.Answer, error) {
	return listAnswers(ctx, t.tx, t.attempt.ID)
}

func (t *sqliteTx) PutAnswer(ctx context.Context, ans *model.Answer) error {
	ans.AttemptID = t.attempt.ID
	return putAnswer(ctx, t.tx, ans)
}

func (t *sqliteTx) SaveAttempt(ctx context.Context, a *model.Attempt) error {
	order, err := json.Marshal(orEmpty(a.QuestionOrder))
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE attempts
		 SET state = ?, started_at_unix = ?, submitted_at_unix = ?, question_order = ?,
		     objective_score = ?, subjective_score = ?, total_score = ?, client_ip = ?, user_agent = ?
		 WHERE id = ?`,
		a.State, toNullUnix(a.StartedAt), toNullUnix(a.SubmittedAt), string(order),
		a.ObjectiveScore, a.SubjectiveScore, a.TotalScore, a.ClientIP, a.UserAgent,
		t.attempt.ID.String(),
	)
	if err != nil {
		return wrapErr(err)
	}
	t.attempt = a
	return nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listAnswers(ctx context.Context, q execQuerier, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT question_id, question_type, selected_options, answer_text, evaluated, marks_awarded, updated_at_unix
		 FROM attempt_answers WHERE attempt_id = ?
		 ORDER BY question_id`, attemptID.String(),
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := []model.Answer{}
	for rows.Next() {
		ans := model.Answer{AttemptID: attemptID}
		var qid, selected string
		var updatedAt int64
		if err := rows.Scan(&qid, &ans.QuestionType, &selected, &ans.AnswerText, &ans.Evaluated,
			&ans.MarksAwarded, &updatedAt); err != nil {
			return nil, err
		}
		if ans.QuestionID, err = uuid.Parse(qid); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(selected), &ans.SelectedOptions); err != nil {
			return nil, fmt.Errorf("decode selected options: %w", err)
		}
		ans.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, ans)
	}
	return out, wrapErr(rows.Err())
}

func putAnswer(ctx context.Context, q execQuerier, ans *model.Answer) error {
	selected, err := json.Marshal(orEmpty(ans.SelectedOptions))
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, question_type, selected_options,
		                              answer_text, evaluated, marks_awarded, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		     question_type    = excluded.question_type,
		     selected_options = excluded.selected_options,
		     answer_text      = excluded.answer_text,
		     evaluated        = excluded.evaluated,
		     marks_awarded    = excluded.marks_awarded,
		     updated_at_unix  = excluded.updated_at_unix`,
		ans.AttemptID.String(), ans.QuestionID.String(), ans.QuestionType, string(selected),
		ans.AnswerText, ans.Evaluated, ans.MarksAwarded, ans.UpdatedAt.UnixNano(),
	)
	return wrapErr(err)
}

// wrapErr maps driver errors onto the engine's store errors.
func wrapErr(err error) error {
	var se *sqlite.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return service.ErrNotFound
	case errors.As(err, &se) && (se.Code()&0xff == sqlite3.SQLITE_BUSY || se.Code()&0xff == sqlite3.SQLITE_LOCKED):
		return fmt.Errorf("%w: %v", service.ErrTransient, err)
	default:
		return err
	}
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func orEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
