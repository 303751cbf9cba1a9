package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// ExamCatalog is the read-only exam and question source.
type ExamCatalog interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	ListActiveExams(ctx context.Context) ([]model.Exam, error)
}

// AttemptStore persists attempts and answers.
//
// Implementations must make CreateIfAbsent atomic per (exam, student), guard UpsertAnswer
// on the attempt being IN_PROGRESS, and run WithAttemptLock exclusively per attempt.
type AttemptStore interface {
	// CreateIfAbsent inserts a unless an attempt already exists for its (exam, student)
	// pair, in which case the existing attempt is returned with created=false.
	CreateIfAbsent(ctx context.Context, a *model.Attempt) (attempt *model.Attempt, created bool, err error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
	// UpsertAnswer replaces the answer for (attempt, question). It returns ErrStateConflict
	// when the attempt is no longer IN_PROGRESS at write time.
	UpsertAnswer(ctx context.Context, ans *model.Answer) error
	// WithAttemptLock runs fn holding the attempt exclusively. Writes made through tx are
	// committed only when fn returns nil.
	WithAttemptLock(ctx context.Context, attemptID uuid.UUID, fn func(tx AttemptTx) error) error
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error)
	ListInProgress(ctx context.Context) ([]model.Attempt, error)
}

// AttemptTx is the view of a locked attempt.
type AttemptTx interface {
	Attempt() *model.Attempt
	Answers(ctx context.Context) ([]model.Answer, error)
	PutAnswer(ctx context.Context, ans *model.Answer) error
	SaveAttempt(ctx context.Context, a *model.Attempt) error
}

// EventPublisher is notified after attempt changes commit. Failures are logged, never returned.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.AttemptEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.AttemptEvent) error { return nil }
