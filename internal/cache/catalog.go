// Package cache provides a Redis read-through layer in front of the exam catalog.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// Catalog serves exam definitions and answer keys from Redis, loading misses from next.
// Redis failures degrade to direct catalog reads.
type Catalog struct {
	next service.ExamCatalog
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCatalog wraps next with a Redis cache whose entries expire after ttl.
func NewCatalog(next service.ExamCatalog, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Catalog {
	return &Catalog{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "catalog_cache").Logger(),
	}
}

var _ service.ExamCatalog = (*Catalog)(nil)

func (c *Catalog) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	var exam model.Exam
	key := config.CacheKey.ExamDefinitionKey(examID.String())
	if c.lookup(ctx, key, &exam) {
		return &exam, nil
	}

	loaded, err := c.next.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, loaded)
	return loaded, nil
}

func (c *Catalog) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	var questions []model.Question
	key := config.CacheKey.ExamQuestionsKey(examID.String())
	if c.lookup(ctx, key, &questions) {
		return questions, nil
	}

	loaded, err := c.next.ListQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, loaded)
	return loaded, nil
}

// ListActiveExams is not cached: its result depends on the current time.
func (c *Catalog) ListActiveExams(ctx context.Context) ([]model.Exam, error) {
	return c.next.ListActiveExams(ctx)
}

// Warm loads an exam and its questions into Redis in a single pipeline.
func (c *Catalog) Warm(ctx context.Context, examID uuid.UUID) error {
	exam, err := c.next.GetExam(ctx, examID)
	if err != nil {
		return err
	}
	questions, err := c.next.ListQuestions(ctx, examID)
	if err != nil {
		return err
	}

	examJSON, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamDefinitionKey(examID.String()), examJSON, c.ttl)
	pipe.Set(ctx, config.CacheKey.ExamQuestionsKey(examID.String()), questionsJSON, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	c.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// Prewarm loads every active exam so the first wave of starts does not stampede the database.
func (c *Catalog) Prewarm(ctx context.Context) error {
	exams, err := c.next.ListActiveExams(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	warmed := 0
	for i := range exams {
		if err := c.Warm(ctx, exams[i].ID); err != nil {
			c.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	c.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// Invalidate drops the cached definition and questions of an exam.
func (c *Catalog) Invalidate(ctx context.Context, examID uuid.UUID) error {
	err := c.rdb.Del(ctx,
		config.CacheKey.ExamDefinitionKey(examID.String()),
		config.CacheKey.ExamQuestionsKey(examID.String()),
	).Err()
	if err != nil {
		return fmt.Errorf("invalidate exam cache: %w", err)
	}
	return nil
}

func (c *Catalog) lookup(ctx context.Context, key string, dst any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to catalog")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry ignored")
		return false
	}
	return true
}

func (c *Catalog) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
