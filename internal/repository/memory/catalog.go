package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// Catalog is an in-process ExamCatalog.
type Catalog struct {
	mu        sync.RWMutex
	exams     map[uuid.UUID]model.Exam
	questions map[uuid.UUID][]model.Question
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		exams:     make(map[uuid.UUID]model.Exam),
		questions: make(map[uuid.UUID][]model.Question),
	}
}

var _ service.ExamCatalog = (*Catalog)(nil)

// Put stores an exam with its questions, replacing any previous definition.
// Bindings are kept in (position, question id) order, as the SQL catalogs return them.
func (c *Catalog) Put(exam model.Exam, questions []model.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exam.Questions = append([]model.ExamQuestion(nil), exam.Questions...)
	sort.SliceStable(exam.Questions, func(i, j int) bool {
		a, b := exam.Questions[i], exam.Questions[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.QuestionID.String() < b.QuestionID.String()
	})
	c.exams[exam.ID] = exam
	c.questions[exam.ID] = append([]model.Question(nil), questions...)
}

func (c *Catalog) GetExam(_ context.Context, examID uuid.UUID) (*model.Exam, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exam, ok := c.exams[examID]
	if !ok {
		return nil, service.ErrNotFound
	}
	exam.Questions = append([]model.ExamQuestion(nil), exam.Questions...)
	return &exam, nil
}

func (c *Catalog) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	qs, ok := c.questions[examID]
	if !ok {
		return nil, service.ErrNotFound
	}
	out := make([]model.Question, len(qs))
	for i, q := range qs {
		q.Options = append([]model.Option(nil), q.Options...)
		out[i] = q
	}

	rank := make(map[uuid.UUID]int, len(c.exams[examID].Questions))
	for i, eq := range c.exams[examID].Questions {
		rank[eq.QuestionID] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, ok := rank[out[i].ID]
		if !ok {
			ri = len(rank)
		}
		rj, ok := rank[out[j].ID]
		if !ok {
			rj = len(rank)
		}
		return ri < rj
	})
	return out, nil
}

func (c *Catalog) ListActiveExams(_ context.Context) ([]model.Exam, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Exam, 0, len(c.exams))
	for _, exam := range c.exams {
		if exam.Status.Startable() {
			out = append(out, exam)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// SaveExam is Put with the catalog-writer signature shared by the persistent stores.
func (c *Catalog) SaveExam(_ context.Context, exam model.Exam, questions []model.Question) error {
	c.Put(exam, questions)
	return nil
}
