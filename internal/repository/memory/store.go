// Package memory holds in-process implementations of the exam catalog and attempt store.
// They back DB_DRIVER=memory and the engine tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

type pairKey struct {
	examID    uuid.UUID
	studentID int
}

type answerKey struct {
	attemptID  uuid.UUID
	questionID uuid.UUID
}

// Store is a mutex-guarded AttemptStore.
//
// mu guards the maps. Each attempt also has an RWMutex: answer upserts hold it shared so
// different questions proceed in parallel, WithAttemptLock holds it exclusively.
type Store struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	byPair   map[pairKey]uuid.UUID
	answers  map[answerKey]*model.Answer
	locks    map[uuid.UUID]*sync.RWMutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		attempts: make(map[uuid.UUID]*model.Attempt),
		byPair:   make(map[pairKey]uuid.UUID),
		answers:  make(map[answerKey]*model.Answer),
		locks:    make(map[uuid.UUID]*sync.RWMutex),
	}
}

var _ service.AttemptStore = (*Store)(nil)

func (s *Store) CreateIfAbsent(_ context.Context, a *model.Attempt) (*model.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{a.ExamID, a.StudentID}
	if id, ok := s.byPair[key]; ok {
		return copyAttempt(s.attempts[id]), false, nil
	}
	stored := copyAttempt(a)
	s.attempts[a.ID] = stored
	s.byPair[key] = a.ID
	s.locks[a.ID] = &sync.RWMutex{}
	return copyAttempt(stored), true, nil
}

func (s *Store) GetAttempt(_ context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, service.ErrNotFound
	}
	return copyAttempt(a), nil
}

func (s *Store) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answersOf(attemptID), nil
}

func (s *Store) UpsertAnswer(_ context.Context, ans *model.Answer) error {
	lock, err := s.lockFor(ans.AttemptID)
	if err != nil {
		return err
	}
	lock.RLock()
	defer lock.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[ans.AttemptID].State != model.AttemptInProgress {
		return service.ErrStateConflict
	}
	s.answers[answerKey{ans.AttemptID, ans.QuestionID}] = copyAnswer(ans)
	return nil
}

func (s *Store) WithAttemptLock(ctx context.Context, attemptID uuid.UUID, fn func(tx service.AttemptTx) error) error {
	lock, err := s.lockFor(attemptID)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	tx := &memTx{
		store:   s,
		attempt: copyAttempt(s.attempts[attemptID]),
		staged:  make(map[uuid.UUID]*model.Answer),
	}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.dirty {
		s.attempts[attemptID] = copyAttempt(tx.attempt)
	}
	for qid, ans := range tx.staged {
		s.answers[answerKey{attemptID, qid}] = ans
	}
	return nil
}

func (s *Store) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return s.list(func(a *model.Attempt) bool { return a.ExamID == examID }, false), nil
}

func (s *Store) ListByStudent(_ context.Context, studentID int) ([]model.Attempt, error) {
	return s.list(func(a *model.Attempt) bool { return a.StudentID == studentID }, true), nil
}

func (s *Store) ListInProgress(_ context.Context) ([]model.Attempt, error) {
	return s.list(func(a *model.Attempt) bool { return a.State == model.AttemptInProgress }, false), nil
}

func (s *Store) list(keep func(*model.Attempt) bool, newestFirst bool) []model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Attempt, 0)
	for _, a := range s.attempts {
		if keep(a) {
			out = append(out, *copyAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) lockFor(attemptID uuid.UUID) (*sync.RWMutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[attemptID]
	if !ok {
		return nil, service.ErrNotFound
	}
	return lock, nil
}

// answersOf must be called with mu held.
func (s *Store) answersOf(attemptID uuid.UUID) []model.Answer {
	out := make([]model.Answer, 0)
	for k, ans := range s.answers {
		if k.attemptID == attemptID {
			out = append(out, *copyAnswer(ans))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out
}

type memTx struct {
	store   *Store
	attempt *model.Attempt
	staged  map[uuid.UUID]*model.Answer
	dirty   bool
}

func (t *memTx) Attempt() *model.Attempt {
	return copyAttempt(t.attempt)
}

func (t *memTx) Answers(_ context.Context) ([]model.Answer, error) {
	t.store.mu.Lock()
	committed := t.store.answersOf(t.attempt.ID)
	t.store.mu.Unlock()

	out := make([]model.Answer, 0, len(committed)+len(t.staged))
	for _, ans := range committed {
		if staged, ok := t.staged[ans.QuestionID]; ok {
			out = append(out, *copyAnswer(staged))
			continue
		}
		out = append(out, ans)
	}
	for qid, ans := range t.staged {
		found := false
		for _, c := range committed {
			if c.QuestionID == qid {
				found = true
				break
			}
		}
		if !found {
			out = append(out, *copyAnswer(ans))
		}
	}
	return out, nil
}

func (t *memTx) PutAnswer(_ context.Context, ans *model.Answer) error {
	c := copyAnswer(ans)
	c.AttemptID = t.attempt.ID
	t.staged[ans.QuestionID] = c
	return nil
}

func (t *memTx) SaveAttempt(_ context.Context, a *model.Attempt) error {
	t.attempt = copyAttempt(a)
	t.dirty = true
	return nil
}

func copyAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	return &c
}

func copyAnswer(a *model.Answer) *model.Answer {
	c := *a
	c.SelectedOptions = append([]uuid.UUID{}, a.SelectedOptions...)
	return &c
}
