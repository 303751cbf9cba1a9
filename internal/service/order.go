package service

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// RandSource is the random policy behind every shuffle. *rand.Rand satisfies it.
type RandSource interface {
	IntN(n int) int
}

// SeededSource builds a deterministic source from a seed.
type SeededSource func(seed uint64) RandSource

// PCGSource is the default SeededSource.
func PCGSource(seed uint64) RandSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// OrderAssigner computes question order at attempt creation and option order on read.
type OrderAssigner struct {
	mu      sync.Mutex
	rng     RandSource
	options SeededSource
	log     zerolog.Logger
}

// NewOrderAssigner creates an OrderAssigner. rng drives question shuffles; options derives
// the per-(attempt, question) option shuffle so it is stable across reads without storage.
func NewOrderAssigner(rng RandSource, options SeededSource, log zerolog.Logger) *OrderAssigner {
	if options == nil {
		options = PCGSource
	}
	return &OrderAssigner{rng: rng, options: options, log: log}
}

// Assign returns the question order for a new attempt.
func (o *OrderAssigner) Assign(exam *model.Exam) []uuid.UUID {
	ids := exam.QuestionIDs()
	if !exam.ShuffleQuestions {
		return ids
	}
	o.mu.Lock()
	shuffle(o.rng, len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	o.mu.Unlock()
	return ids
}

// Reconstruct walks the persisted order and returns student-facing questions. Questions
// removed from the catalog since the attempt was created are skipped.
func (o *OrderAssigner) Reconstruct(a *model.Attempt, exam *model.Exam, questions []model.Question) []model.QuestionForStudent {
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	out := make([]model.QuestionForStudent, 0, len(a.QuestionOrder))
	for pos, qid := range a.QuestionOrder {
		q, ok := byID[qid]
		if !ok {
			o.log.Warn().
				Str("attempt_id", a.ID.String()).
				Str("question_id", qid.String()).
				Msg("Question in attempt order is missing from catalog")
			continue
		}
		out = append(out, model.QuestionForStudent{
			ID:       q.ID,
			Text:     q.Text,
			Type:     q.Type,
			Marks:    exam.MarksFor(q),
			Position: pos + 1,
			Options:  o.optionsFor(a.ID, q, exam.ShuffleOptions),
		})
	}
	return out
}

func (o *OrderAssigner) optionsFor(attemptID uuid.UUID, q *model.Question, shuffled bool) []model.OptionForStudent {
	opts := make([]model.OptionForStudent, len(q.Options))
	for i, opt := range q.Options {
		opts[i] = model.OptionForStudent{ID: opt.ID, Text: opt.Text}
	}
	if shuffled && len(opts) > 1 {
		src := o.options(optionSeed(attemptID, q.ID))
		shuffle(src, len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	}
	return opts
}

// shuffle is Fisher-Yates over an injected source.
func shuffle(src RandSource, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, src.IntN(i+1))
	}
}

func optionSeed(attemptID, questionID uuid.UUID) uint64 {
	h := fnv.New64a()
	h.Write(attemptID[:])
	h.Write(questionID[:])
	return binary.BigEndian.Uint64(h.Sum(nil))
}
