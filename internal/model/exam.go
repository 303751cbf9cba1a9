package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusScheduled ExamStatus = "SCHEDULED"
	ExamStatusRunning   ExamStatus = "RUNNING"
	ExamStatusCompleted ExamStatus = "COMPLETED"
)

// Startable reports whether students may open attempts against an exam in this status.
func (s ExamStatus) Startable() bool {
	return s == ExamStatusScheduled || s == ExamStatusRunning
}

// Exam is the read-only exam definition consumed from the catalog.
type Exam struct {
	ID                  uuid.UUID      `json:"id"`
	Title               string         `json:"title"`
	Status              ExamStatus     `json:"status"`
	DurationMinutes     int            `json:"duration_minutes"`
	StartAt             time.Time      `json:"start_at"`
	EndAt               time.Time      `json:"end_at"`
	ShuffleQuestions    bool           `json:"shuffle_questions"`
	ShuffleOptions      bool           `json:"shuffle_options"`
	AllowBackNavigation bool           `json:"allow_back_navigation"`
	NegativeMarking     float64        `json:"negative_marking"`
	Questions           []ExamQuestion `json:"questions"`
}

// ExamQuestion binds a question to an exam at a position, optionally overriding its marks.
type ExamQuestion struct {
	QuestionID    uuid.UUID `json:"question_id"`
	Position      int       `json:"position"`
	MarksOverride *float64  `json:"marks_override,omitempty"`
}

// Duration returns the exam's allotted time per attempt.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// QuestionIDs returns the bound question ids in their defined order.
func (e *Exam) QuestionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(e.Questions))
	for i, eq := range e.Questions {
		ids[i] = eq.QuestionID
	}
	return ids
}

// MarksFor returns the marks a question is worth in this exam: the override when set,
// otherwise the question's base marks.
func (e *Exam) MarksFor(q *Question) float64 {
	for _, eq := range e.Questions {
		if eq.QuestionID == q.ID && eq.MarksOverride != nil {
			return *eq.MarksOverride
		}
	}
	return q.Marks
}

// ExamSummary is the student-facing listing entry for an active exam.
type ExamSummary struct {
	ID                  uuid.UUID  `json:"id"`
	Title               string     `json:"title"`
	Status              ExamStatus `json:"status"`
	DurationMinutes     int        `json:"duration_minutes"`
	StartAt             time.Time  `json:"start_at"`
	EndAt               time.Time  `json:"end_at"`
	AllowBackNavigation bool       `json:"allow_back_navigation"`
}

// Summary strips the question bindings from an exam.
func (e *Exam) Summary() ExamSummary {
	return ExamSummary{
		ID:                  e.ID,
		Title:               e.Title,
		Status:              e.Status,
		DurationMinutes:     e.DurationMinutes,
		StartAt:             e.StartAt,
		EndAt:               e.EndAt,
		AllowBackNavigation: e.AllowBackNavigation,
	}
}
