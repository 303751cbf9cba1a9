package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stemsi/exstem-attempts/internal/model"
)

func TestScore_EmptyKeyMatchesEmptySelection(t *testing.T) {
	q := model.Question{ID: uuid.New(), Type: model.QuestionTypeMultiSelect, Marks: 2,
		Options: []model.Option{{ID: uuid.New()}, {ID: uuid.New()}}}
	exam := &model.Exam{NegativeMarking: 1, Questions: []model.ExamQuestion{{QuestionID: q.ID}}}

	out := (&Scorer{}).Score(exam, []model.Question{q}, []model.Answer{{QuestionID: q.ID, QuestionType: q.Type}})
	assert.Equal(t, 2.0, out.Objective)
	if assert.Len(t, out.Evaluated, 1) {
		assert.True(t, out.Evaluated[0].Evaluated)
	}
}

func TestScore_IgnoresFreeTextAndUnknownQuestions(t *testing.T) {
	free := model.Question{ID: uuid.New(), Type: model.QuestionTypeLongText, Marks: 5}
	exam := &model.Exam{NegativeMarking: 1}
	answers := []model.Answer{
		{QuestionID: free.ID, QuestionType: free.Type, AnswerText: "essay", MarksAwarded: 0},
		{QuestionID: uuid.New(), SelectedOptions: []uuid.UUID{uuid.New()}},
	}

	s := &Scorer{}
	out := s.Score(exam, []model.Question{free}, answers)
	assert.Zero(t, out.Objective)
	assert.Empty(t, out.Evaluated)
	assert.Zero(t, s.Runs(), "an evaluation alone is not a committed run")
}

func TestSubjectiveTotal(t *testing.T) {
	answers := []model.Answer{
		{QuestionType: model.QuestionTypeShortText, MarksAwarded: 2},
		{QuestionType: model.QuestionTypeCode, MarksAwarded: 1.5},
		{QuestionType: model.QuestionTypeSingleSelect, MarksAwarded: 4},
	}
	assert.Equal(t, 3.5, SubjectiveTotal(answers))
}

func TestNormalizeAnswer(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tf := &model.Question{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, Options: []model.Option{{ID: a}, {ID: b}}}

	sel, text, err := normalizeAnswer(tf, model.AnswerPayload{SelectedOptions: []uuid.UUID{a, a}})
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, sel)
	assert.Empty(t, text)

	_, _, err = normalizeAnswer(tf, model.AnswerPayload{SelectedOptions: []uuid.UUID{a, b}})
	assert.ErrorIs(t, err, ErrValidation)

	unknown := &model.Question{ID: uuid.New(), Type: "ESSAY"}
	_, _, err = normalizeAnswer(unknown, model.AnswerPayload{Text: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}
