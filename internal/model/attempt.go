package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates attempt lifecycle states.
type AttemptState string

const (
	AttemptNotStarted    AttemptState = "NOT_STARTED"
	AttemptInProgress    AttemptState = "IN_PROGRESS"
	AttemptSubmitted     AttemptState = "SUBMITTED"
	AttemptAutoSubmitted AttemptState = "AUTO_SUBMITTED"
)

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

// Attempt is one student's instance of taking one exam.
type Attempt struct {
	ID              uuid.UUID    `json:"id"`
	ExamID          uuid.UUID    `json:"exam_id"`
	StudentID       int          `json:"student_id"`
	State           AttemptState `json:"state"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	QuestionOrder   []uuid.UUID  `json:"question_order"`
	ObjectiveScore  float64      `json:"objective_score"`
	SubjectiveScore float64      `json:"subjective_score"`
	TotalScore      float64      `json:"total_score"`
	ClientIP        string       `json:"client_ip,omitempty"`
	UserAgent       string       `json:"user_agent,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// InOrder reports whether questionID is part of the persisted question order.
func (a *Attempt) InOrder(questionID uuid.UUID) bool {
	for _, id := range a.QuestionOrder {
		if id == questionID {
			return true
		}
	}
	return false
}

// Answer is the single record per (attempt, question).
type Answer struct {
	AttemptID       uuid.UUID    `json:"attempt_id"`
	QuestionID      uuid.UUID    `json:"question_id"`
	QuestionType    QuestionType `json:"question_type"`
	SelectedOptions []uuid.UUID  `json:"selected_options"`
	AnswerText      string       `json:"answer_text"`
	Evaluated       bool         `json:"evaluated"`
	MarksAwarded    float64      `json:"marks_awarded"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// AnswerPayload is what a student submits for one question.
type AnswerPayload struct {
	SelectedOptions []uuid.UUID
	Text            string
}

// StartMeta carries request metadata captured on the first start.
type StartMeta struct {
	ClientIP  string
	UserAgent string
}

// SaveAnswerRequest is the autosave payload for one question.
type SaveAnswerRequest struct {
	SelectedOptions []string `json:"selected_options" binding:"omitempty,max=64,dive,uuid"`
	AnswerText      string   `json:"answer_text" binding:"omitempty,max=20000"`
}

// Payload converts the request into the engine's answer form.
func (r *SaveAnswerRequest) Payload() (AnswerPayload, error) {
	p := AnswerPayload{Text: r.AnswerText}
	for _, raw := range r.SelectedOptions {
		id, err := uuid.Parse(raw)
		if err != nil {
			return AnswerPayload{}, err
		}
		p.SelectedOptions = append(p.SelectedOptions, id)
	}
	return p, nil
}

// GradeAnswerRequest is the instructor payload for a manual grade.
type GradeAnswerRequest struct {
	Marks *float64 `json:"marks" binding:"required,gte=0"`
}

// EnrollRequest registers students for an exam ahead of its window.
type EnrollRequest struct {
	StudentIDs []int `json:"student_ids" binding:"student_ids,max=1000"`
}

// SavedAnswer is a student's persisted answer as shown back on resume.
type SavedAnswer struct {
	QuestionID      uuid.UUID   `json:"question_id"`
	SelectedOptions []uuid.UUID `json:"selected_options"`
	AnswerText      string      `json:"answer_text"`
}

// AttemptPayload is the response for start and resume.
type AttemptPayload struct {
	AttemptID        uuid.UUID            `json:"attempt_id"`
	ExamID           uuid.UUID            `json:"exam_id"`
	State            AttemptState         `json:"state"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	Questions        []QuestionForStudent `json:"questions"`
	SavedAnswers     []SavedAnswer        `json:"saved_answers"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	AllowBack        bool                 `json:"allow_back_navigation"`
}

// SubmitResult is the outcome of a submit call.
type SubmitResult struct {
	AttemptID   uuid.UUID    `json:"attempt_id"`
	FinalState  AttemptState `json:"final_state"`
	TotalScore  float64      `json:"total_score"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
}

// GradeResult is the outcome of a manual grade.
type GradeResult struct {
	AttemptID       uuid.UUID `json:"attempt_id"`
	QuestionID      uuid.UUID `json:"question_id"`
	MarksAwarded    float64   `json:"marks_awarded"`
	ObjectiveScore  float64   `json:"objective_score"`
	SubjectiveScore float64   `json:"subjective_score"`
	TotalScore      float64   `json:"total_score"`
}

// AttemptSummary is a row in a student's past attempts list.
type AttemptSummary struct {
	AttemptID   uuid.UUID    `json:"attempt_id"`
	ExamID      uuid.UUID    `json:"exam_id"`
	State       AttemptState `json:"state"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
	TotalScore  float64      `json:"total_score"`
}

// LiveAttempt is one row of the instructor live view.
type LiveAttempt struct {
	AttemptID       uuid.UUID    `json:"attempt_id"`
	StudentID       int          `json:"student_id"`
	State           AttemptState `json:"state"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	ObjectiveScore  float64      `json:"objective_score"`
	SubjectiveScore float64      `json:"subjective_score"`
	TotalScore      float64      `json:"total_score"`
}

// LiveStatus aggregates attempt states for one exam.
type LiveStatus struct {
	ExamID        uuid.UUID     `json:"exam_id"`
	Total         int           `json:"total"`
	NotStarted    int           `json:"not_started"`
	InProgress    int           `json:"in_progress"`
	Submitted     int           `json:"submitted"`
	AutoSubmitted int           `json:"auto_submitted"`
	Attempts      []LiveAttempt `json:"attempts"`
}

// AttemptEventType names a change broadcast to instructor monitors.
type AttemptEventType string

const (
	EventAttemptStarted AttemptEventType = "attempt_started"
	EventAnswerSaved    AttemptEventType = "answer_saved"
	EventSubmitted      AttemptEventType = "attempt_submitted"
	EventGraded         AttemptEventType = "answer_graded"
)

// AttemptEvent is published after a change commits.
type AttemptEvent struct {
	Type       AttemptEventType `json:"type"`
	ExamID     uuid.UUID        `json:"exam_id"`
	AttemptID  uuid.UUID        `json:"attempt_id"`
	StudentID  int              `json:"student_id"`
	State      AttemptState     `json:"state"`
	TotalScore float64          `json:"total_score"`
	At         time.Time        `json:"at"`
}
