package service_test

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository/memory"
	"github.com/stemsi/exstem-attempts/internal/service"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.AttemptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.AttemptEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(typ model.AttemptEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	svc     *service.AttemptService
	catalog *memory.Catalog
	store   *memory.Store
	clock   *fakeClock
	events  *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		catalog: memory.NewCatalog(),
		store:   memory.NewStore(),
		clock:   &fakeClock{now: t0},
		events:  &recordingPublisher{},
	}
	log := zerolog.New(io.Discard)
	order := service.NewOrderAssigner(rand.New(rand.NewPCG(7, 11)), service.PCGSource, log)
	h.svc = service.NewAttemptService(
		h.catalog,
		h.store,
		h.events,
		order,
		service.NewTimeKeeper(h.clock.Now),
		service.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
		log,
	)
	return h
}

// examBuilder assembles a catalog entry for a test.
type examBuilder struct {
	exam      model.Exam
	questions []model.Question
}

func newExam() *examBuilder {
	return &examBuilder{exam: model.Exam{
		ID:              uuid.New(),
		Title:           "Physics midterm",
		Status:          model.ExamStatusRunning,
		DurationMinutes: 60,
		StartAt:         t0.Add(-time.Hour),
		EndAt:           t0.Add(3 * time.Hour),
	}}
}

func (b *examBuilder) with(fn func(*model.Exam)) *examBuilder {
	fn(&b.exam)
	return b
}

// selectable adds a question whose options are labelled A, B, ... with the given ones correct.
func (b *examBuilder) selectable(typ model.QuestionType, marks float64, options int, correct ...int) *examBuilder {
	q := model.Question{ID: uuid.New(), Text: "pick", Type: typ, Marks: marks}
	for i := 0; i < options; i++ {
		opt := model.Option{ID: uuid.New(), Text: string(rune('A' + i))}
		for _, c := range correct {
			if c == i {
				opt.IsCorrect = true
			}
		}
		q.Options = append(q.Options, opt)
	}
	return b.add(q, nil)
}

func (b *examBuilder) freeText(typ model.QuestionType, marks float64) *examBuilder {
	return b.add(model.Question{ID: uuid.New(), Text: "explain", Type: typ, Marks: marks}, nil)
}

func (b *examBuilder) overrideLast(marks float64) *examBuilder {
	b.exam.Questions[len(b.exam.Questions)-1].MarksOverride = &marks
	return b
}

func (b *examBuilder) add(q model.Question, override *float64) *examBuilder {
	b.questions = append(b.questions, q)
	b.exam.Questions = append(b.exam.Questions, model.ExamQuestion{
		QuestionID:    q.ID,
		Position:      len(b.exam.Questions) + 1,
		MarksOverride: override,
	})
	return b
}

func (b *examBuilder) put(h *harness) (*model.Exam, []model.Question) {
	h.catalog.Put(b.exam, b.questions)
	return &b.exam, b.questions
}

func optionIDs(q model.Question, idx ...int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(idx))
	for _, i := range idx {
		out = append(out, q.Options[i].ID)
	}
	return out
}
