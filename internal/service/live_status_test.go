package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

func TestLiveStatusAndEnrollment(t *testing.T) {
	h := newHarness(t)
	exam, qs := newExam().selectable(model.QuestionTypeSingleSelect, 1, 2, 0).put(h)
	ctx := context.Background()

	created, err := h.svc.Enroll(ctx, exam.ID, []int{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, created)
	created, err = h.svc.Enroll(ctx, exam.ID, []int{4, 5})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Student 1 starts from an enrolled attempt and submits.
	p1, err := h.svc.Start(ctx, exam.ID, 1, model.StartMeta{})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, p1.State)
	assert.Len(t, p1.Questions, len(qs))
	_, err = h.svc.Submit(ctx, p1.AttemptID, 1)
	require.NoError(t, err)

	// Student 2 starts and stays in progress.
	_, err = h.svc.Start(ctx, exam.ID, 2, model.StartMeta{})
	require.NoError(t, err)

	// Student 9 was never enrolled but may still start.
	p9, err := h.svc.Start(ctx, exam.ID, 9, model.StartMeta{})
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.Submit(ctx, p9.AttemptID, 9)
	require.NoError(t, err)

	status, err := h.svc.GetLiveStatus(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, status.Total)
	assert.Equal(t, 3, status.NotStarted)
	assert.Equal(t, 1, status.InProgress)
	assert.Equal(t, 1, status.Submitted)
	assert.Equal(t, 1, status.AutoSubmitted)
	assert.Len(t, status.Attempts, 6)

	_, err = h.svc.GetLiveStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestReconcileExpired(t *testing.T) {
	h := newHarness(t)
	short, _ := newExam().with(func(e *model.Exam) { e.DurationMinutes = 10 }).
		selectable(model.QuestionTypeSingleSelect, 1, 2, 0).put(h)
	long, _ := newExam().with(func(e *model.Exam) { e.DurationMinutes = 120 }).
		selectable(model.QuestionTypeSingleSelect, 1, 2, 0).put(h)
	ctx := context.Background()

	a, err := h.svc.Start(ctx, short.ID, 1, model.StartMeta{})
	require.NoError(t, err)
	b, err := h.svc.Start(ctx, long.ID, 1, model.StartMeta{})
	require.NoError(t, err)

	h.clock.Advance(15 * time.Minute)
	n, err := h.svc.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	att, err := h.store.GetAttempt(ctx, a.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptAutoSubmitted, att.State)
	att, err = h.store.GetAttempt(ctx, b.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, att.State)

	n, err = h.svc.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListing(t *testing.T) {
	h := newHarness(t)
	open, _ := newExam().selectable(model.QuestionTypeSingleSelect, 1, 2, 0).put(h)
	newExam().with(func(e *model.Exam) { e.Status = model.ExamStatusDraft }).put(h)
	newExam().with(func(e *model.Exam) { e.EndAt = t0.Add(-time.Minute) }).put(h)
	ctx := context.Background()

	active, err := h.svc.ListActiveExams(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)

	p, err := h.svc.Start(ctx, open.ID, student, model.StartMeta{})
	require.NoError(t, err)
	mine, err := h.svc.ListStudentAttempts(ctx, student)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p.AttemptID, mine[0].AttemptID)

	none, err := h.svc.ListStudentAttempts(ctx, student+1)
	require.NoError(t, err)
	assert.Empty(t, none)
}
