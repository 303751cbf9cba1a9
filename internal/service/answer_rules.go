package service

import (
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// normalizeAnswer checks a payload against its question and returns the answer to store.
// Duplicate option ids collapse to one.
func normalizeAnswer(q *model.Question, p model.AnswerPayload) (selected []uuid.UUID, text string, err error) {
	switch q.Type.Kind() {
	case model.KindSelectable:
		if strings.TrimSpace(p.Text) != "" {
			return nil, "", validation("question %s takes selected options, not text", q.ID)
		}
		seen := make(map[uuid.UUID]struct{}, len(p.SelectedOptions))
		selected = make([]uuid.UUID, 0, len(p.SelectedOptions))
		for _, id := range p.SelectedOptions {
			if !q.HasOption(id) {
				return nil, "", validation("option %s does not belong to question %s", id, q.ID)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			selected = append(selected, id)
		}
		if q.Type.SingleChoice() && len(selected) > 1 {
			return nil, "", validation("question %s accepts a single option", q.ID)
		}
		return selected, "", nil
	case model.KindFreeText:
		if len(p.SelectedOptions) > 0 {
			return nil, "", validation("question %s takes text, not options", q.ID)
		}
		return []uuid.UUID{}, p.Text, nil
	default:
		return nil, "", validation("question %s has unsupported type %q", q.ID, q.Type)
	}
}
