package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AttemptService is the attempt engine: lifecycle, autosave, scoring and grading.
type AttemptService struct {
	catalog ExamCatalog
	store   AttemptStore
	events  EventPublisher
	order   *OrderAssigner
	clock   *TimeKeeper
	scorer  *Scorer
	retry   RetryPolicy
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService. A nil events publisher disables events.
func NewAttemptService(
	catalog ExamCatalog,
	store AttemptStore,
	events EventPublisher,
	order *OrderAssigner,
	clock *TimeKeeper,
	retry RetryPolicy,
	log zerolog.Logger,
) *AttemptService {
	if events == nil {
		events = noopPublisher{}
	}
	return &AttemptService{
		catalog: catalog,
		store:   store,
		events:  events,
		order:   order,
		clock:   clock,
		scorer:  &Scorer{},
		retry:   retry,
		log:     log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start opens the student's attempt for an exam, or resumes the existing one.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int, meta model.StartMeta) (*model.AttemptPayload, error) {
	exam, err := s.startableExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.clock.CheckWindow(exam); err != nil {
		return nil, err
	}

	var att *model.Attempt
	err = s.retry.do(ctx, s.log, "start", func() error {
		now := s.clock.Now()
		candidate := &model.Attempt{
			ID:            uuid.New(),
			ExamID:        exam.ID,
			StudentID:     studentID,
			State:         model.AttemptInProgress,
			StartedAt:     &now,
			QuestionOrder: s.order.Assign(exam),
			ClientIP:      meta.ClientIP,
			UserAgent:     meta.UserAgent,
			CreatedAt:     now,
		}
		got, created, err := s.store.CreateIfAbsent(ctx, candidate)
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		att = got
		if created {
			s.log.Info().
				Str("attempt_id", att.ID.String()).
				Str("exam_id", exam.ID.String()).
				Int("student_id", studentID).
				Int("questions", len(att.QuestionOrder)).
				Msg("Attempt started")
			s.publish(ctx, model.EventAttemptStarted, att)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case att.State == model.AttemptNotStarted:
		if att, err = s.begin(ctx, att.ID, exam, meta); err != nil {
			return nil, err
		}
	case att.State == model.AttemptInProgress && s.clock.IsExpired(att, exam):
		if att, err = s.expire(ctx, att, exam); err != nil {
			return nil, err
		}
	}

	return s.payload(ctx, att, exam)
}

// GetAttempt returns the resume view of an attempt without creating anything.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptPayload, error) {
	att, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	exam, err := s.catalog.GetExam(ctx, att.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if att.State == model.AttemptInProgress && s.clock.IsExpired(att, exam) {
		if att, err = s.expire(ctx, att, exam); err != nil {
			return nil, err
		}
	}
	return s.payload(ctx, att, exam)
}

// SaveAnswer autosaves one answer. Only an IN_PROGRESS attempt owned by the student accepts it.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID, p model.AnswerPayload) error {
	att, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if att.State != model.AttemptInProgress {
		return invalidState("attempt is %s", att.State)
	}

	exam, err := s.catalog.GetExam(ctx, att.ExamID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if s.clock.IsExpired(att, exam) {
		if _, err := s.expire(ctx, att, exam); err != nil {
			return err
		}
		return invalidState("time is up for attempt %s", att.ID)
	}

	if !att.InOrder(questionID) {
		return notFound("question")
	}
	q, err := s.question(ctx, att.ExamID, questionID)
	if err != nil {
		return err
	}
	selected, text, err := normalizeAnswer(q, p)
	if err != nil {
		return err
	}

	err = s.retry.do(ctx, s.log, "save_answer", func() error {
		return s.store.UpsertAnswer(ctx, &model.Answer{
			AttemptID:       att.ID,
			QuestionID:      q.ID,
			QuestionType:    q.Type,
			SelectedOptions: selected,
			AnswerText:      text,
			Evaluated:       false,
			MarksAwarded:    0,
			UpdatedAt:       s.clock.Now(),
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrStateConflict):
		return invalidState("attempt %s is no longer in progress", att.ID)
	default:
		return fmt.Errorf("upsert answer: %w", err)
	}

	s.publish(ctx, model.EventAnswerSaved, att)
	return nil
}

// Submit finalizes the attempt. Repeated calls return the stored result without re-scoring.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.SubmitResult, error) {
	att, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !att.State.Terminal() {
		exam, err := s.catalog.GetExam(ctx, att.ExamID)
		if err != nil {
			return nil, fmt.Errorf("get exam: %w", err)
		}
		if att, err = s.finalize(ctx, att.ID, exam); err != nil {
			return nil, err
		}
	}
	return &model.SubmitResult{
		AttemptID:   att.ID,
		FinalState:  att.State,
		TotalScore:  att.TotalScore,
		SubmittedAt: att.SubmittedAt,
	}, nil
}

// GradeAnswer sets the marks of a free-text answer on a finished attempt and recomputes
// the subjective and total scores. The objective score is left as the scorer wrote it.
func (s *AttemptService) GradeAnswer(ctx context.Context, attemptID, questionID uuid.UUID, marks float64) (*model.GradeResult, error) {
	att, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	// Rechecked under the lock; an unfinished attempt may not have an order yet.
	if !att.State.Terminal() {
		return nil, invalidState("attempt is %s", att.State)
	}
	if !att.InOrder(questionID) {
		return nil, notFound("question")
	}
	exam, err := s.catalog.GetExam(ctx, att.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	q, err := s.question(ctx, att.ExamID, questionID)
	if err != nil {
		return nil, err
	}
	if q.Type.Kind() != model.KindFreeText {
		return nil, validation("question %s is auto-scored and cannot be graded manually", q.ID)
	}
	if maxMarks := exam.MarksFor(q); marks < 0 || marks > maxMarks {
		return nil, validation("marks must be between 0 and %g", maxMarks)
	}

	var result *model.GradeResult
	var graded model.Attempt
	err = s.retry.do(ctx, s.log, "grade_answer", func() error {
		return s.store.WithAttemptLock(ctx, attemptID, func(tx AttemptTx) error {
			a := *tx.Attempt()
			if !a.State.Terminal() {
				return invalidState("attempt is %s", a.State)
			}

			answers, err := tx.Answers(ctx)
			if err != nil {
				return fmt.Errorf("list answers: %w", err)
			}

			idx := -1
			for i := range answers {
				if answers[i].QuestionID == questionID {
					idx = i
					break
				}
			}
			if idx < 0 {
				answers = append(answers, model.Answer{
					AttemptID:       a.ID,
					QuestionID:      q.ID,
					QuestionType:    q.Type,
					SelectedOptions: []uuid.UUID{},
				})
				idx = len(answers) - 1
			}
			ans := &answers[idx]
			if ans.QuestionType == "" {
				ans.QuestionType = q.Type
			}
			ans.MarksAwarded = marks
			ans.Evaluated = true
			ans.UpdatedAt = s.clock.Now()
			if err := tx.PutAnswer(ctx, ans); err != nil {
				return fmt.Errorf("put answer: %w", err)
			}

			a.SubjectiveScore = SubjectiveTotal(answers)
			a.TotalScore = a.ObjectiveScore + a.SubjectiveScore
			if err := tx.SaveAttempt(ctx, &a); err != nil {
				return fmt.Errorf("save attempt: %w", err)
			}

			graded = a
			result = &model.GradeResult{
				AttemptID:       a.ID,
				QuestionID:      q.ID,
				MarksAwarded:    marks,
				ObjectiveScore:  a.ObjectiveScore,
				SubjectiveScore: a.SubjectiveScore,
				TotalScore:      a.TotalScore,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("question_id", questionID.String()).
		Float64("marks", marks).
		Float64("total_score", result.TotalScore).
		Msg("Answer graded")
	s.publish(ctx, model.EventGraded, &graded)
	return result, nil
}

// GetLiveStatus aggregates attempt states and scores for one exam.
func (s *AttemptService) GetLiveStatus(ctx context.Context, examID uuid.UUID) (*model.LiveStatus, error) {
	if _, err := s.catalog.GetExam(ctx, examID); err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	attempts, err := s.store.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	status := &model.LiveStatus{
		ExamID:   examID,
		Total:    len(attempts),
		Attempts: make([]model.LiveAttempt, 0, len(attempts)),
	}
	for _, a := range attempts {
		switch a.State {
		case model.AttemptNotStarted:
			status.NotStarted++
		case model.AttemptInProgress:
			status.InProgress++
		case model.AttemptSubmitted:
			status.Submitted++
		case model.AttemptAutoSubmitted:
			status.AutoSubmitted++
		}
		status.Attempts = append(status.Attempts, model.LiveAttempt{
			AttemptID:       a.ID,
			StudentID:       a.StudentID,
			State:           a.State,
			StartedAt:       a.StartedAt,
			SubmittedAt:     a.SubmittedAt,
			ObjectiveScore:  a.ObjectiveScore,
			SubjectiveScore: a.SubjectiveScore,
			TotalScore:      a.TotalScore,
		})
	}
	return status, nil
}

// ListActiveExams returns startable exams whose window has not ended.
func (s *AttemptService) ListActiveExams(ctx context.Context) ([]model.ExamSummary, error) {
	exams, err := s.catalog.ListActiveExams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active exams: %w", err)
	}
	now := s.clock.Now()
	out := make([]model.ExamSummary, 0, len(exams))
	for i := range exams {
		if !exams[i].Status.Startable() || !exams[i].EndAt.After(now) {
			continue
		}
		out = append(out, exams[i].Summary())
	}
	return out, nil
}

// ListStudentAttempts returns the student's attempts, newest first.
func (s *AttemptService) ListStudentAttempts(ctx context.Context, studentID int) ([]model.AttemptSummary, error) {
	attempts, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]model.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, model.AttemptSummary{
			AttemptID:   a.ID,
			ExamID:      a.ExamID,
			State:       a.State,
			StartedAt:   a.StartedAt,
			SubmittedAt: a.SubmittedAt,
			TotalScore:  a.TotalScore,
		})
	}
	return out, nil
}

// Enroll registers students for an exam ahead of time. Their attempts stay NOT_STARTED
// until they start. Returns how many attempts were newly created.
func (s *AttemptService) Enroll(ctx context.Context, examID uuid.UUID, studentIDs []int) (int, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("get exam: %w", err)
	}

	created := 0
	for _, studentID := range studentIDs {
		err := s.retry.do(ctx, s.log, "enroll", func() error {
			_, ok, err := s.store.CreateIfAbsent(ctx, &model.Attempt{
				ID:            uuid.New(),
				ExamID:        exam.ID,
				StudentID:     studentID,
				State:         model.AttemptNotStarted,
				QuestionOrder: []uuid.UUID{},
				CreatedAt:     s.clock.Now(),
			})
			if ok {
				created++
			}
			return err
		})
		if err != nil {
			return created, fmt.Errorf("enroll student %d: %w", studentID, err)
		}
	}
	return created, nil
}

// ReconcileExpired auto-submits every in-progress attempt whose time is up. It returns the
// number of attempts it finalized; per-attempt failures are logged and skipped.
func (s *AttemptService) ReconcileExpired(ctx context.Context) (int, error) {
	attempts, err := s.store.ListInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-progress attempts: %w", err)
	}

	exams := make(map[uuid.UUID]*model.Exam)
	done := 0
	for i := range attempts {
		a := &attempts[i]
		exam, ok := exams[a.ExamID]
		if !ok {
			exam, err = s.catalog.GetExam(ctx, a.ExamID)
			if err != nil {
				s.log.Warn().Err(err).Str("exam_id", a.ExamID.String()).Msg("Skipping attempts of unreadable exam")
				exams[a.ExamID] = nil
				continue
			}
			exams[a.ExamID] = exam
		}
		if exam == nil || !s.clock.IsExpired(a, exam) {
			continue
		}
		if _, err := s.finalize(ctx, a.ID, exam); err != nil {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to auto-submit expired attempt")
			continue
		}
		done++
	}
	return done, nil
}

// Scorer exposes the scorer for run accounting.
func (s *AttemptService) Scorer() *Scorer {
	return s.scorer
}

// ─── internals ───────────────────────────────────────────────────────

// finalize is the single locked path into a terminal state. It scores at most once.
func (s *AttemptService) finalize(ctx context.Context, attemptID uuid.UUID, exam *model.Exam) (*model.Attempt, error) {
	questions, err := s.catalog.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	var out model.Attempt
	var scored bool
	err = s.retry.do(ctx, s.log, "submit", func() error {
		scored = false
		return s.store.WithAttemptLock(ctx, attemptID, func(tx AttemptTx) error {
			a := *tx.Attempt()
			if a.State.Terminal() {
				out = a
				return nil
			}
			if a.State != model.AttemptInProgress {
				return invalidState("attempt is %s", a.State)
			}

			state := model.AttemptSubmitted
			if s.clock.IsExpired(&a, exam) {
				state = model.AttemptAutoSubmitted
			}

			answers, err := tx.Answers(ctx)
			if err != nil {
				return fmt.Errorf("list answers: %w", err)
			}
			outcome := s.scorer.Score(exam, questions, answers)
			for i := range outcome.Evaluated {
				if err := tx.PutAnswer(ctx, &outcome.Evaluated[i]); err != nil {
					return fmt.Errorf("put answer: %w", err)
				}
			}

			now := s.clock.Now()
			a.State = state
			a.SubmittedAt = &now
			a.ObjectiveScore = outcome.Objective
			a.SubjectiveScore = SubjectiveTotal(answers)
			a.TotalScore = a.ObjectiveScore + a.SubjectiveScore
			if err := tx.SaveAttempt(ctx, &a); err != nil {
				return fmt.Errorf("save attempt: %w", err)
			}
			out = a
			scored = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if scored {
		s.scorer.committed()
		s.log.Info().
			Str("attempt_id", out.ID.String()).
			Str("state", string(out.State)).
			Float64("objective_score", out.ObjectiveScore).
			Float64("total_score", out.TotalScore).
			Msg("Attempt finalized")
		s.publish(ctx, model.EventSubmitted, &out)
	}
	return &out, nil
}

// expire auto-submits an attempt found past its deadline during another call.
func (s *AttemptService) expire(ctx context.Context, a *model.Attempt, exam *model.Exam) (*model.Attempt, error) {
	s.log.Info().Str("attempt_id", a.ID.String()).Msg("Attempt expired, auto-submitting")
	return s.finalize(ctx, a.ID, exam)
}

// begin moves an enrolled NOT_STARTED attempt into IN_PROGRESS exactly once.
func (s *AttemptService) begin(ctx context.Context, attemptID uuid.UUID, exam *model.Exam, meta model.StartMeta) (*model.Attempt, error) {
	var out model.Attempt
	var started bool
	err := s.retry.do(ctx, s.log, "begin", func() error {
		started = false
		return s.store.WithAttemptLock(ctx, attemptID, func(tx AttemptTx) error {
			a := *tx.Attempt()
			if a.State != model.AttemptNotStarted {
				out = a
				return nil
			}
			now := s.clock.Now()
			a.State = model.AttemptInProgress
			a.StartedAt = &now
			a.QuestionOrder = s.order.Assign(exam)
			a.ClientIP = meta.ClientIP
			a.UserAgent = meta.UserAgent
			if err := tx.SaveAttempt(ctx, &a); err != nil {
				return fmt.Errorf("save attempt: %w", err)
			}
			out = a
			started = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if started {
		s.log.Info().Str("attempt_id", out.ID.String()).Int("student_id", out.StudentID).Msg("Enrolled attempt started")
		s.publish(ctx, model.EventAttemptStarted, &out)
	}
	return &out, nil
}

func (s *AttemptService) payload(ctx context.Context, a *model.Attempt, exam *model.Exam) (*model.AttemptPayload, error) {
	questions, err := s.catalog.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	saved := make([]model.SavedAnswer, 0, len(answers))
	byQuestion := make(map[uuid.UUID]model.Answer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}
	for _, qid := range a.QuestionOrder {
		if ans, ok := byQuestion[qid]; ok {
			saved = append(saved, model.SavedAnswer{
				QuestionID:      ans.QuestionID,
				SelectedOptions: ans.SelectedOptions,
				AnswerText:      ans.AnswerText,
			})
		}
	}

	var remaining int64
	if a.State == model.AttemptInProgress {
		remaining = int64(s.clock.Remaining(a, exam) / time.Second)
	}

	return &model.AttemptPayload{
		AttemptID:        a.ID,
		ExamID:           a.ExamID,
		State:            a.State,
		StartedAt:        a.StartedAt,
		Questions:        s.order.Reconstruct(a, exam, questions),
		SavedAnswers:     saved,
		RemainingSeconds: remaining,
		AllowBack:        exam.AllowBackNavigation,
	}, nil
}

func (s *AttemptService) startableExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !exam.Status.Startable() {
		return nil, notFound("exam")
	}
	return exam, nil
}

func (s *AttemptService) ownedAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	att, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if att.StudentID != studentID {
		return nil, ErrForbidden
	}
	return att, nil
}

func (s *AttemptService) question(ctx context.Context, examID, questionID uuid.UUID) (*model.Question, error) {
	questions, err := s.catalog.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	for i := range questions {
		if questions[i].ID == questionID {
			return &questions[i], nil
		}
	}
	return nil, notFound("question")
}

func (s *AttemptService) publish(ctx context.Context, typ model.AttemptEventType, a *model.Attempt) {
	ev := model.AttemptEvent{
		Type:       typ,
		ExamID:     a.ExamID,
		AttemptID:  a.ID,
		StudentID:  a.StudentID,
		State:      a.State,
		TotalScore: a.TotalScore,
		At:         s.clock.Now(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Str("event", string(typ)).Msg("Failed to publish attempt event")
	}
}
