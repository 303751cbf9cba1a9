package cache

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository/memory"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCatalog records how often the backing catalog is hit.
type countingCatalog struct {
	service.ExamCatalog
	exams, questions atomic.Int32
}

func (c *countingCatalog) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	c.exams.Add(1)
	return c.ExamCatalog.GetExam(ctx, id)
}

func (c *countingCatalog) ListQuestions(ctx context.Context, id uuid.UUID) ([]model.Question, error) {
	c.questions.Add(1)
	return c.ExamCatalog.ListQuestions(ctx, id)
}

func seeded(t *testing.T) (*countingCatalog, model.Exam) {
	t.Helper()
	q := model.Question{ID: uuid.New(), Text: "pick", Type: model.QuestionTypeSingleSelect, Marks: 1,
		Options: []model.Option{{ID: uuid.New(), Text: "a", IsCorrect: true}, {ID: uuid.New(), Text: "b"}}}
	exam := model.Exam{ID: uuid.New(), Title: "cached", Status: model.ExamStatusRunning, DurationMinutes: 10,
		StartAt: time.Now().Add(-time.Minute).UTC(), EndAt: time.Now().Add(time.Hour).UTC(),
		Questions: []model.ExamQuestion{{QuestionID: q.ID, Position: 1}}}
	mem := memory.NewCatalog()
	mem.Put(exam, []model.Question{q})
	return &countingCatalog{ExamCatalog: mem}, exam
}

func TestCatalogFallsBackWhenRedisDown(t *testing.T) {
	next, exam := seeded(t)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewCatalog(next, rdb, time.Minute, zerolog.New(io.Discard))
	ctx := context.Background()

	got, err := c.GetExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.Title, got.Title)

	qs, err := c.ListQuestions(ctx, exam.ID)
	require.NoError(t, err)
	assert.Len(t, qs, 1)

	_, err = c.GetExam(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestCatalogReadThrough(t *testing.T) {
	url := os.Getenv("EXSTEM_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EXSTEM_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	next, exam := seeded(t)
	c := NewCatalog(next, rdb, time.Minute, zerolog.New(io.Discard))
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Invalidate(ctx, exam.ID) })

	for i := 0; i < 3; i++ {
		got, err := c.GetExam(ctx, exam.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.QuestionIDs(), got.QuestionIDs())
		qs, err := c.ListQuestions(ctx, exam.ID)
		require.NoError(t, err)
		require.Len(t, qs, 1)
		assert.True(t, qs[0].Options[0].IsCorrect)
	}
	assert.Equal(t, int32(1), next.exams.Load())
	assert.Equal(t, int32(1), next.questions.Load())

	require.NoError(t, c.Invalidate(ctx, exam.ID))
	_, err = c.GetExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.exams.Load())

	require.NoError(t, c.Prewarm(ctx))
	_, err = c.ListQuestions(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.questions.Load())
}
