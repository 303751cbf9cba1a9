package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

func TestGradeAnswer(t *testing.T) {
	h := newHarness(t)
	exam, qs := newExam().
		selectable(model.QuestionTypeSingleSelect, 1, 2, 0).
		freeText(model.QuestionTypeShortText, 5).
		freeText(model.QuestionTypeCode, 4).
		put(h)
	ctx := context.Background()
	p := startAndAnswer(t, h, exam, map[int]model.AnswerPayload{
		0: {SelectedOptions: optionIDs(qs[0], 0)},
		1: {Text: "Newton's second law"},
	}, qs)

	_, err := h.svc.GradeAnswer(ctx, p.AttemptID, qs[1].ID, 3)
	assert.ErrorIs(t, err, service.ErrInvalidState, "grading before submission")

	_, err = h.svc.Submit(ctx, p.AttemptID, student)
	require.NoError(t, err)

	res, err := h.svc.GradeAnswer(ctx, p.AttemptID, qs[1].ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.ObjectiveScore)
	assert.Equal(t, 3.0, res.SubjectiveScore)
	assert.Equal(t, 4.0, res.TotalScore)

	// Never answered: the answer record is created by grading.
	res, err = h.svc.GradeAnswer(ctx, p.AttemptID, qs[2].ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.SubjectiveScore)

	// Regrade overwrites.
	res, err = h.svc.GradeAnswer(ctx, p.AttemptID, qs[1].ID, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, res.SubjectiveScore)
	assert.Equal(t, 4.5, res.TotalScore)

	att, err := h.store.GetAttempt(ctx, p.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, att.ObjectiveScore)
	assert.Equal(t, att.ObjectiveScore+att.SubjectiveScore, att.TotalScore)
	assert.Equal(t, int64(1), h.svc.Scorer().Runs())

	answers, err := h.store.ListAnswers(ctx, p.AttemptID)
	require.NoError(t, err)
	assert.Len(t, answers, 3)
}

func TestGradeAnswer_Rejects(t *testing.T) {
	h := newHarness(t)
	exam, qs := newExam().
		selectable(model.QuestionTypeSingleSelect, 1, 2, 0).
		freeText(model.QuestionTypeLongText, 5).
		put(h)
	ctx := context.Background()
	p := startAndAnswer(t, h, exam, nil, qs)
	_, err := h.svc.Submit(ctx, p.AttemptID, student)
	require.NoError(t, err)

	_, err = h.svc.GradeAnswer(ctx, p.AttemptID, qs[0].ID, 1)
	assert.ErrorIs(t, err, service.ErrValidation, "objective question")

	_, err = h.svc.GradeAnswer(ctx, p.AttemptID, qs[1].ID, 5.5)
	assert.ErrorIs(t, err, service.ErrValidation, "above max marks")

	_, err = h.svc.GradeAnswer(ctx, p.AttemptID, qs[1].ID, -1)
	assert.ErrorIs(t, err, service.ErrValidation, "negative marks")
}

func TestGradeAnswer_AfterResubmitDoesNotRescore(t *testing.T) {
	h := newHarness(t)
	exam, qs := newExam().with(func(e *model.Exam) { e.NegativeMarking = 0.5 }).
		selectable(model.QuestionTypeSingleSelect, 1, 2, 0).
		freeText(model.QuestionTypeShortText, 2).
		put(h)
	ctx := context.Background()
	p := startAndAnswer(t, h, exam, map[int]model.AnswerPayload{
		0: {SelectedOptions: optionIDs(qs[0], 1)},
	}, qs)
	_, err := h.svc.Submit(ctx, p.AttemptID, student)
	require.NoError(t, err)
	_, err = h.svc.GradeAnswer(ctx, p.AttemptID, qs[1].ID, 2)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	res, err := h.svc.Submit(ctx, p.AttemptID, student)
	require.NoError(t, err)
	assert.Equal(t, 1.5, res.TotalScore)
}

func TestGradeAnswer_EnrolledAttemptIsInvalidState(t *testing.T) {
	h := newHarness(t)
	exam, qs := newExam().freeText(model.QuestionTypeLongText, 5).put(h)
	ctx := context.Background()

	_, err := h.svc.Enroll(ctx, exam.ID, []int{student})
	require.NoError(t, err)
	attempts, err := h.store.ListByExam(ctx, exam.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, model.AttemptNotStarted, attempts[0].State)

	_, err = h.svc.GradeAnswer(ctx, attempts[0].ID, qs[0].ID, 2)
	assert.ErrorIs(t, err, service.ErrInvalidState)
	assert.NotErrorIs(t, err, service.ErrNotFound)
}
