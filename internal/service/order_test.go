package service

import (
	"io"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// zeroSource always picks index 0, which turns Fisher-Yates into a rotation.
type zeroSource struct{}

func (zeroSource) IntN(int) int { return 0 }

func examWith(n int, shuffleQ, shuffleO bool) (*model.Exam, []model.Question) {
	exam := &model.Exam{ID: uuid.New(), ShuffleQuestions: shuffleQ, ShuffleOptions: shuffleO}
	var qs []model.Question
	for i := 0; i < n; i++ {
		q := model.Question{ID: uuid.New(), Type: model.QuestionTypeSingleSelect, Marks: 1}
		for j := 0; j < 4; j++ {
			q.Options = append(q.Options, model.Option{ID: uuid.New()})
		}
		qs = append(qs, q)
		exam.Questions = append(exam.Questions, model.ExamQuestion{QuestionID: q.ID, Position: i + 1})
	}
	return exam, qs
}

func TestAssign_NoShuffleKeepsOrder(t *testing.T) {
	exam, _ := examWith(6, false, false)
	o := NewOrderAssigner(zeroSource{}, nil, zerolog.New(io.Discard))
	assert.Equal(t, exam.QuestionIDs(), o.Assign(exam))
}

func TestAssign_UsesInjectedSource(t *testing.T) {
	exam, _ := examWith(4, true, false)
	ids := exam.QuestionIDs()
	o := NewOrderAssigner(zeroSource{}, nil, zerolog.New(io.Discard))

	// With j always 0 the swaps are (3,0), (2,0), (1,0).
	assert.Equal(t, []uuid.UUID{ids[1], ids[2], ids[3], ids[0]}, o.Assign(exam))
}

func TestAssign_SeededSourceIsReproducible(t *testing.T) {
	exam, _ := examWith(10, true, false)
	a := NewOrderAssigner(rand.New(rand.NewPCG(1, 2)), nil, zerolog.New(io.Discard)).Assign(exam)
	b := NewOrderAssigner(rand.New(rand.NewPCG(1, 2)), nil, zerolog.New(io.Discard)).Assign(exam)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, exam.QuestionIDs(), a)
}

func TestAssign_RoughlyUniform(t *testing.T) {
	exam, _ := examWith(3, true, false)
	ids := exam.QuestionIDs()
	o := NewOrderAssigner(rand.New(rand.NewPCG(99, 100)), nil, zerolog.New(io.Discard))

	const rounds = 6000
	firsts := map[uuid.UUID]int{}
	for i := 0; i < rounds; i++ {
		firsts[o.Assign(exam)[0]]++
	}
	for _, id := range ids {
		assert.InDelta(t, rounds/3, firsts[id], rounds/10)
	}
}

func TestReconstruct_OptionOrderStablePerAttempt(t *testing.T) {
	exam, qs := examWith(5, false, true)
	o := NewOrderAssigner(zeroSource{}, PCGSource, zerolog.New(io.Discard))
	a := &model.Attempt{ID: uuid.New(), QuestionOrder: exam.QuestionIDs()}

	first := o.Reconstruct(a, exam, qs)
	second := o.Reconstruct(a, exam, qs)
	require.Len(t, first, 5)
	assert.Equal(t, first, second)

	for i, q := range first {
		assert.Equal(t, i+1, q.Position)
		assert.Len(t, q.Options, 4)
	}
}

func TestReconstruct_SkipsQuestionsMissingFromCatalog(t *testing.T) {
	exam, qs := examWith(3, false, false)
	o := NewOrderAssigner(zeroSource{}, nil, zerolog.New(io.Discard))
	a := &model.Attempt{ID: uuid.New(), QuestionOrder: exam.QuestionIDs()}

	out := o.Reconstruct(a, exam, qs[1:])
	require.Len(t, out, 2)
	assert.Equal(t, qs[1].ID, out[0].ID)
	assert.Equal(t, qs[2].ID, out[1].ID)
}
