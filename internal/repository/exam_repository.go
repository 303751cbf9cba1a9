package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// ExamRepository is the Postgres-backed exam catalog.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

var _ service.ExamCatalog = (*ExamRepository)(nil)

const examColumns = `id, title, status, duration_minutes, start_at, end_at,
	shuffle_questions, shuffle_options, allow_back_navigation, negative_marking`

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.Status, &e.DurationMinutes, &e.StartAt, &e.EndAt,
		&e.ShuffleQuestions, &e.ShuffleOptions, &e.AllowBackNavigation, &e.NegativeMarking)
}

// GetExam retrieves an exam with its ordered question bindings.
func (r *ExamRepository) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := scanExam(r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, examID), e)
	if err != nil {
		return nil, wrapErr(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, position, marks_override
		 FROM exam_questions WHERE exam_id = $1
		 ORDER BY position, question_id`, examID,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var eq model.ExamQuestion
		if err := rows.Scan(&eq.QuestionID, &eq.Position, &eq.MarksOverride); err != nil {
			return nil, err
		}
		e.Questions = append(e.Questions, eq)
	}
	return e, wrapErr(rows.Err())
}

// ListQuestions retrieves the exam's questions with their options and answer keys.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM exams WHERE id = $1)`, examID).Scan(&exists); err != nil {
		return nil, wrapErr(err)
	}
	if !exists {
		return nil, service.ErrNotFound
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_text, q.question_type, q.marks, q.difficulty,
		        o.id, o.option_text, o.is_correct
		 FROM exam_questions eq
		 JOIN questions q ON q.id = eq.question_id
		 LEFT JOIN question_options o ON o.question_id = q.id
		 WHERE eq.exam_id = $1
		 ORDER BY eq.position, q.id, o.position, o.id`, examID,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q         model.Question
			optID     *uuid.UUID
			optText   *string
			isCorrect *bool
		)
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.Marks, &q.Difficulty, &optID, &optText, &isCorrect); err != nil {
			return nil, err
		}
		if n := len(questions); n == 0 || questions[n-1].ID != q.ID {
			questions = append(questions, q)
		}
		if optID != nil {
			last := &questions[len(questions)-1]
			last.Options = append(last.Options, model.Option{ID: *optID, Text: *optText, IsCorrect: *isCorrect})
		}
	}
	return questions, wrapErr(rows.Err())
}

// ListActiveExams returns SCHEDULED and RUNNING exams whose window has not closed.
func (r *ExamRepository) ListActiveExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams
		 WHERE status IN ($1, $2) AND end_at > NOW()
		 ORDER BY start_at`, model.ExamStatusScheduled, model.ExamStatusRunning)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, wrapErr(rows.Err())
}

// wrapErr maps driver errors onto the engine's store errors.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return service.ErrNotFound
	case isTransient(err):
		return fmt.Errorf("%w: %v", service.ErrTransient, err)
	default:
		return err
	}
}

// SaveExam replaces an exam definition together with its questions and options.
func (r *ExamRepository) SaveExam(ctx context.Context, exam model.Exam, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO exams (`+examColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     title = EXCLUDED.title, status = EXCLUDED.status,
		     duration_minutes = EXCLUDED.duration_minutes,
		     start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at,
		     shuffle_questions = EXCLUDED.shuffle_questions, shuffle_options = EXCLUDED.shuffle_options,
		     allow_back_navigation = EXCLUDED.allow_back_navigation,
		     negative_marking = EXCLUDED.negative_marking,
		     updated_at = NOW()`,
		exam.ID, exam.Title, exam.Status, exam.DurationMinutes, exam.StartAt, exam.EndAt,
		exam.ShuffleQuestions, exam.ShuffleOptions, exam.AllowBackNavigation, exam.NegativeMarking,
	)
	if err != nil {
		return fmt.Errorf("upsert exam: %w", wrapErr(err))
	}

	optionRows := make([][]any, 0)
	questionIDs := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		difficulty := q.Difficulty
		if difficulty == "" {
			difficulty = model.DifficultyMedium
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO questions (id, question_text, question_type, marks, difficulty)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET
			     question_text = EXCLUDED.question_text, question_type = EXCLUDED.question_type,
			     marks = EXCLUDED.marks, difficulty = EXCLUDED.difficulty`,
			q.ID, q.Text, q.Type, q.Marks, difficulty)
		if err != nil {
			return fmt.Errorf("upsert question: %w", wrapErr(err))
		}
		questionIDs = append(questionIDs, q.ID)
		for pos, o := range q.Options {
			optionRows = append(optionRows, []any{o.ID, q.ID, o.Text, o.IsCorrect, pos})
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM question_options WHERE question_id = ANY($1)`, questionIDs); err != nil {
		return wrapErr(err)
	}
	if len(optionRows) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"question_options"},
			[]string{"id", "question_id", "option_text", "is_correct", "position"},
			pgx.CopyFromRows(optionRows),
		)
		if err != nil {
			return fmt.Errorf("copy options: %w", wrapErr(err))
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, exam.ID); err != nil {
		return wrapErr(err)
	}
	for _, eq := range exam.Questions {
		_, err := tx.Exec(ctx,
			`INSERT INTO exam_questions (exam_id, question_id, position, marks_override) VALUES ($1, $2, $3, $4)`,
			exam.ID, eq.QuestionID, eq.Position, eq.MarksOverride)
		if err != nil {
			return fmt.Errorf("bind question: %w", wrapErr(err))
		}
	}
	return wrapErr(tx.Commit(ctx))
}
