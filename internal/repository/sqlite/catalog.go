package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// ─── catalog ─────────────────────────────────────────────────────────

const examColumns = `id, title, status, duration_minutes, start_at_unix, end_at_unix,
	shuffle_questions, shuffle_options, allow_back_navigation, negative_marking`

func scanExam(row rowScanner) (*model.Exam, error) {
	var (
		e              model.Exam
		id             string
		startAt, endAt int64
	)
	err := row.Scan(&id, &e.Title, &e.Status, &e.DurationMinutes, &startAt, &endAt,
		&e.ShuffleQuestions, &e.ShuffleOptions, &e.AllowBackNavigation, &e.NegativeMarking)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	e.StartAt = time.Unix(0, startAt).UTC()
	e.EndAt = time.Unix(0, endAt).UTC()
	return &e, nil
}

func (s *Store) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = ?`, examID.String()))
	if err != nil {
		return nil, wrapErr(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, position, marks_override FROM exam_questions
		 WHERE exam_id = ? ORDER BY position, question_id`, examID.String())
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eq       model.ExamQuestion
			qid      string
			override sql.NullFloat64
		)
		if err := rows.Scan(&qid, &eq.Position, &override); err != nil {
			return nil, err
		}
		if eq.QuestionID, err = uuid.Parse(qid); err != nil {
			return nil, err
		}
		if override.Valid {
			v := override.Float64
			eq.MarksOverride = &v
		}
		e.Questions = append(e.Questions, eq)
	}
	return e, wrapErr(rows.Err())
}

func (s *Store) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams WHERE id = ?`, examID.String()).Scan(&n); err != nil {
		return nil, wrapErr(err)
	}
	if n == 0 {
		return nil, service.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.question_text, q.question_type, q.marks, q.difficulty,
		        o.id, o.option_text, o.is_correct
		 FROM exam_questions eq
		 JOIN questions q ON q.id = eq.question_id
		 LEFT JOIN question_options o ON o.question_id = q.id
		 WHERE eq.exam_id = ?
		 ORDER BY eq.position, q.id, o.position`, examID.String())
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q              model.Question
			qid            string
			optID, optText sql.NullString
			isCorrect      sql.NullBool
		)
		if err := rows.Scan(&qid, &q.Text, &q.Type, &q.Marks, &q.Difficulty, &optID, &optText, &isCorrect); err != nil {
			return nil, err
		}
		if q.ID, err = uuid.Parse(qid); err != nil {
			return nil, err
		}
		if n := len(questions); n == 0 || questions[n-1].ID != q.ID {
			questions = append(questions, q)
		}
		if optID.Valid {
			oid, err := uuid.Parse(optID.String)
			if err != nil {
				return nil, err
			}
			last := &questions[len(questions)-1]
			last.Options = append(last.Options, model.Option{ID: oid, Text: optText.String, IsCorrect: isCorrect.Bool})
		}
	}
	return questions, wrapErr(rows.Err())
}

func (s *Store) ListActiveExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE status IN (?, ?) AND end_at_unix > ?
		 ORDER BY start_at_unix`,
		model.ExamStatusScheduled, model.ExamStatusRunning, time.Now().UnixNano())
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, wrapErr(rows.Err())
}

// SaveExam replaces an exam definition together with its questions and options.
func (s *Store) SaveExam(ctx context.Context, exam model.Exam, questions []model.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (`+examColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     title = excluded.title, status = excluded.status,
		     duration_minutes = excluded.duration_minutes,
		     start_at_unix = excluded.start_at_unix, end_at_unix = excluded.end_at_unix,
		     shuffle_questions = excluded.shuffle_questions, shuffle_options = excluded.shuffle_options,
		     allow_back_navigation = excluded.allow_back_navigation,
		     negative_marking = excluded.negative_marking`,
		exam.ID.String(), exam.Title, exam.Status, exam.DurationMinutes,
		exam.StartAt.UnixNano(), exam.EndAt.UnixNano(),
		exam.ShuffleQuestions, exam.ShuffleOptions, exam.AllowBackNavigation, exam.NegativeMarking,
	)
	if err != nil {
		return fmt.Errorf("upsert exam: %w", wrapErr(err))
	}

	for _, q := range questions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, question_text, question_type, marks, difficulty) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     question_text = excluded.question_text, question_type = excluded.question_type,
			     marks = excluded.marks, difficulty = excluded.difficulty`,
			q.ID.String(), q.Text, q.Type, q.Marks, difficultyOrDefault(q.Difficulty))
		if err != nil {
			return fmt.Errorf("upsert question: %w", wrapErr(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM question_options WHERE question_id = ?`, q.ID.String()); err != nil {
			return wrapErr(err)
		}
		for pos, o := range q.Options {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO question_options (id, question_id, option_text, is_correct, position) VALUES (?, ?, ?, ?, ?)`,
				o.ID.String(), q.ID.String(), o.Text, o.IsCorrect, pos)
			if err != nil {
				return fmt.Errorf("insert option: %w", wrapErr(err))
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = ?`, exam.ID.String()); err != nil {
		return wrapErr(err)
	}
	for _, eq := range exam.Questions {
		var override sql.NullFloat64
		if eq.MarksOverride != nil {
			override = sql.NullFloat64{Float64: *eq.MarksOverride, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exam_questions (exam_id, question_id, position, marks_override) VALUES (?, ?, ?, ?)`,
			exam.ID.String(), eq.QuestionID.String(), eq.Position, override)
		if err != nil {
			return fmt.Errorf("bind question: %w", wrapErr(err))
		}
	}
	return wrapErr(tx.Commit())
}

func difficultyOrDefault(d model.Difficulty) model.Difficulty {
	if d == "" {
		return model.DifficultyMedium
	}
	return d
}
