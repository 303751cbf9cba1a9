package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// AttemptRepository is the Postgres-backed attempt store.
//
// Row locks give the per-attempt exclusivity the engine needs: answer upserts take the
// attempt row FOR SHARE, finalize and grading take it FOR UPDATE.
type AttemptRepository struct {
	pool        *pgxpool.Pool
	lockTimeout string
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool, lockTimeout: "5s"}
}

var _ service.AttemptStore = (*AttemptRepository)(nil)

const attemptColumns = `id, exam_id, student_id, state, started_at, submitted_at, question_order,
	objective_score, subjective_score, total_score, client_ip, user_agent, created_at`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var order []byte
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.State, &a.StartedAt, &a.SubmittedAt, &order,
		&a.ObjectiveScore, &a.SubjectiveScore, &a.TotalScore, &a.ClientIP, &a.UserAgent, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(order, &a.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question order: %w", err)
	}
	return a, nil
}

// CreateIfAbsent inserts the attempt; a concurrent or earlier insert for the same
// (exam, student) wins and is returned instead.
func (r *AttemptRepository) CreateIfAbsent(ctx context.Context, a *model.Attempt) (*model.Attempt, bool, error) {
	order, err := json.Marshal(orEmpty(a.QuestionOrder))
	if err != nil {
		return nil, false, err
	}

	created, err := scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, state, started_at, question_order, client_ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING `+attemptColumns,
		a.ID, a.ExamID, a.StudentID, a.State, a.StartedAt, order, a.ClientIP, a.UserAgent, a.CreatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, wrapErr(err)
	}

	// Lost the race: the row exists and is committed.
	existing, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		a.ExamID, a.StudentID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing attempt: %w", wrapErr(err))
	}
	return existing, false, nil
}

// GetAttempt retrieves an attempt by id.
func (r *AttemptRepository) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, attemptID))
	if err != nil {
		return nil, wrapErr(err)
	}
	return a, nil
}

// ListAnswers retrieves all answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	return listAnswers(ctx, r.pool, attemptID)
}

// UpsertAnswer writes the answer if the attempt is still IN_PROGRESS.
func (r *AttemptRepository) UpsertAnswer(ctx context.Context, ans *model.Answer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := r.setLockTimeout(ctx, tx); err != nil {
		return err
	}

	var state model.AttemptState
	err = tx.QueryRow(ctx, `SELECT state FROM attempts WHERE id = $1 FOR SHARE`, ans.AttemptID).Scan(&state)
	if err != nil {
		return wrapErr(err)
	}
	if state != model.AttemptInProgress {
		return service.ErrStateConflict
	}

	if err := putAnswer(ctx, tx, ans); err != nil {
		return err
	}
	return wrapErr(tx.Commit(ctx))
}

// WithAttemptLock runs fn inside a transaction holding the attempt row FOR UPDATE.
func (r *AttemptRepository) WithAttemptLock(ctx context.Context, attemptID uuid.UUID, fn func(service.AttemptTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := r.setLockTimeout(ctx, tx); err != nil {
		return err
	}

	a, err := scanAttempt(tx.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, attemptID))
	if err != nil {
		return wrapErr(err)
	}

	if err := fn(&pgAttemptTx{tx: tx, attempt: a}); err != nil {
		return err
	}
	return wrapErr(tx.Commit(ctx))
}

// ListByExam retrieves all attempts of an exam.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return r.list(ctx, `WHERE exam_id = $1 ORDER BY created_at, id`, examID)
}

// ListByStudent retrieves a student's attempts, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	return r.list(ctx, `WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
}

// ListInProgress retrieves every IN_PROGRESS attempt.
func (r *AttemptRepository) ListInProgress(ctx context.Context) ([]model.Attempt, error) {
	return r.list(ctx, `WHERE state = $1 ORDER BY started_at`, model.AttemptInProgress)
}

func (r *AttemptRepository) list(ctx context.Context, where string, args ...any) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attemptColumns+` FROM attempts `+where, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, wrapErr(rows.Err())
}

func (r *AttemptRepository) setLockTimeout(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, r.lockTimeout)
	return wrapErr(err)
}

// pgAttemptTx is the locked view handed to WithAttemptLock callbacks.
type pgAttemptTx struct {
	tx      pgx.Tx
	attempt *model.Attempt
}

func (t *pgAttemptTx) Attempt() *model.Attempt {
	c := *t.attempt
	c.QuestionOrder = append([]uuid.UUID(nil), t.attempt.QuestionOrder...)
	return &c
}

func (t *pgAttemptTx) Answers(ctx context.Context) ([]model.Answer, error) {
	return listAnswers(ctx, t.tx, t.attempt.ID)
}

func (t *pgAttemptTx) PutAnswer(ctx context.Context, ans *model.Answer) error {
	ans.AttemptID = t.attempt.ID
	return putAnswer(ctx, t.tx, ans)
}

func (t *pgAttemptTx) SaveAttempt(ctx context.Context, a *model.Attempt) error {
	order, err := json.Marshal(orEmpty(a.QuestionOrder))
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE attempts
		 SET state = $1, started_at = $2, submitted_at = $3, question_order = $4,
		     objective_score = $5, subjective_score = $6, total_score = $7,
		     client_ip = $8, user_agent = $9
		 WHERE id = $10`,
		a.State, a.StartedAt, a.SubmittedAt, order,
		a.ObjectiveScore, a.SubjectiveScore, a.TotalScore,
		a.ClientIP, a.UserAgent, t.attempt.ID,
	)
	if err != nil {
		return wrapErr(err)
	}
	t.attempt = a
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listAnswers(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT attempt_id, question_id, question_type, selected_options, answer_text,
		        evaluated, marks_awarded, updated_at
		 FROM attempt_answers WHERE attempt_id = $1
		 ORDER BY question_id`, attemptID,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var ans model.Answer
		var selected []byte
		if err := rows.Scan(&ans.AttemptID, &ans.QuestionID, &ans.QuestionType, &selected, &ans.AnswerText,
			&ans.Evaluated, &ans.MarksAwarded, &ans.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(selected, &ans.SelectedOptions); err != nil {
			return nil, fmt.Errorf("decode selected options: %w", err)
		}
		answers = append(answers, ans)
	}
	return answers, wrapErr(rows.Err())
}

func putAnswer(ctx context.Context, q querier, ans *model.Answer) error {
	selected, err := json.Marshal(orEmpty(ans.SelectedOptions))
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, question_type, selected_options,
		                              answer_text, evaluated, marks_awarded, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		     question_type    = EXCLUDED.question_type,
		     selected_options = EXCLUDED.selected_options,
		     answer_text      = EXCLUDED.answer_text,
		     evaluated        = EXCLUDED.evaluated,
		     marks_awarded    = EXCLUDED.marks_awarded,
		     updated_at       = EXCLUDED.updated_at`,
		ans.AttemptID, ans.QuestionID, ans.QuestionType, selected,
		ans.AnswerText, ans.Evaluated, ans.MarksAwarded, ans.UpdatedAt,
	)
	return wrapErr(err)
}

// Postgres SQLSTATEs that are safe to retry.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement or lock timeout)
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && transientCodes[pgErr.Code]
}

func orEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
