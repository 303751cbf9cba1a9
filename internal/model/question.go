package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	QuestionTypeSingleSelect QuestionType = "SINGLE_SELECT"
	QuestionTypeMultiSelect  QuestionType = "MULTI_SELECT"
	QuestionTypeTrueFalse    QuestionType = "TRUE_FALSE"
	QuestionTypeShortText    QuestionType = "SHORT_TEXT"
	QuestionTypeLongText     QuestionType = "LONG_TEXT"
	QuestionTypeCode         QuestionType = "CODE"
)

// QuestionKind is the closed variant every question type collapses to.
// Selectable questions are auto-scored; free-text questions are graded by an instructor.
type QuestionKind int

const (
	KindUnknown QuestionKind = iota
	KindSelectable
	KindFreeText
)

// Kind maps the question type onto its variant.
func (t QuestionType) Kind() QuestionKind {
	switch t {
	case QuestionTypeSingleSelect, QuestionTypeMultiSelect, QuestionTypeTrueFalse:
		return KindSelectable
	case QuestionTypeShortText, QuestionTypeLongText, QuestionTypeCode:
		return KindFreeText
	default:
		return KindUnknown
	}
}

// SingleChoice reports whether at most one option may be selected.
func (t QuestionType) SingleChoice() bool {
	return t == QuestionTypeSingleSelect || t == QuestionTypeTrueFalse
}

// Difficulty grades a question for authoring purposes.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "E"
	DifficultyMedium Difficulty = "M"
	DifficultyHard   Difficulty = "H"
)

// Question is a catalog question including its answer key.
type Question struct {
	ID         uuid.UUID    `json:"id"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"question_type"`
	Marks      float64      `json:"marks"`
	Difficulty Difficulty   `json:"difficulty"`
	Options    []Option     `json:"options"`
}

// Option is a selectable choice. IsCorrect never leaves the server.
type Option struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"is_correct"`
}

// CorrectOptionIDs returns the answer key as a set.
func (q *Question) CorrectOptionIDs() map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{})
	for _, o := range q.Options {
		if o.IsCorrect {
			set[o.ID] = struct{}{}
		}
	}
	return set
}

// HasOption reports whether id is one of the question's options.
func (q *Question) HasOption(id uuid.UUID) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID       uuid.UUID          `json:"id"`
	Text     string             `json:"text"`
	Type     QuestionType       `json:"question_type"`
	Marks    float64            `json:"marks"`
	Position int                `json:"position"`
	Options  []OptionForStudent `json:"options"`
}

// OptionForStudent hides the correctness flag.
type OptionForStudent struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}
