package service

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// Scorer evaluates selectable answers at submission.
type Scorer struct {
	runs atomic.Int64
}

// ScoreOutcome is the result of one scoring run.
type ScoreOutcome struct {
	Objective float64
	// Evaluated holds the answers whose evaluation changed and must be written back.
	Evaluated []model.Answer
}

// Runs returns how many scoring results have been committed with a terminal transition.
// An evaluation rolled back by a failed commit and retried is counted once.
func (s *Scorer) Runs() int64 {
	return s.runs.Load()
}

func (s *Scorer) committed() {
	s.runs.Add(1)
}

// Score computes the objective score from the persisted answers. Marks come from the exam
// as it is now, with the per-question override taking precedence. The result is never floored.
func (s *Scorer) Score(exam *model.Exam, questions []model.Question, answers []model.Answer) ScoreOutcome {
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	var out ScoreOutcome
	for _, ans := range answers {
		q, ok := byID[ans.QuestionID]
		if !ok || q.Type.Kind() != model.KindSelectable {
			continue
		}

		correct := q.CorrectOptionIDs()
		selected := make(map[uuid.UUID]struct{}, len(ans.SelectedOptions))
		for _, id := range ans.SelectedOptions {
			selected[id] = struct{}{}
		}

		switch {
		case sameSet(selected, correct):
			ans.Evaluated = true
			ans.MarksAwarded = exam.MarksFor(q)
			out.Objective += ans.MarksAwarded
		case len(selected) == 0:
			// Unanswered: no marks, no penalty, left for the overlay to tell apart.
			ans.Evaluated = false
			ans.MarksAwarded = 0
		default:
			ans.Evaluated = true
			ans.MarksAwarded = 0
			if exam.NegativeMarking > 0 {
				out.Objective -= exam.NegativeMarking
			}
		}
		out.Evaluated = append(out.Evaluated, ans)
	}
	return out
}

func sameSet(a, b map[uuid.UUID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// SubjectiveTotal sums awarded marks over free-text answers.
func SubjectiveTotal(answers []model.Answer) float64 {
	var total float64
	for _, ans := range answers {
		if ans.QuestionType.Kind() == model.KindFreeText {
			total += ans.MarksAwarded
		}
	}
	return total
}
