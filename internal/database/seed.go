package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// ExamBundle is one exam definition in a catalog seed file.
type ExamBundle struct {
	Exam      model.Exam       `json:"exam"`
	Questions []model.Question `json:"questions"`
}

// CatalogWriter persists exam definitions. Implemented by every catalog backend.
type CatalogWriter interface {
	SaveExam(ctx context.Context, exam model.Exam, questions []model.Question) error
}

// LoadCatalogSeed reads a JSON array of ExamBundle from path and saves each bundle.
// Returns the number of exams written.
func LoadCatalogSeed(ctx context.Context, path string, w CatalogWriter, log zerolog.Logger) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var bundles []ExamBundle
	if err := json.Unmarshal(raw, &bundles); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	for i, b := range bundles {
		if err := checkBundle(b); err != nil {
			return i, fmt.Errorf("exam %d: %w", i, err)
		}
		if err := w.SaveExam(ctx, b.Exam, b.Questions); err != nil {
			return i, fmt.Errorf("save exam %s: %w", b.Exam.ID, err)
		}
		log.Info().
			Str("exam_id", b.Exam.ID.String()).
			Int("questions", len(b.Questions)).
			Msg("Seeded exam")
	}
	return len(bundles), nil
}

func checkBundle(b ExamBundle) error {
	if b.Exam.ID == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if !b.Exam.EndAt.After(b.Exam.StartAt) {
		return fmt.Errorf("end_at must be after start_at")
	}
	if b.Exam.DurationMinutes <= 0 {
		return fmt.Errorf("duration_minutes must be positive")
	}

	known := make(map[uuid.UUID]struct{}, len(b.Questions))
	for _, q := range b.Questions {
		if q.Type.Kind() == model.KindUnknown {
			return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
		}
		known[q.ID] = struct{}{}
	}
	for _, eq := range b.Exam.Questions {
		if _, ok := known[eq.QuestionID]; !ok {
			return fmt.Errorf("question %s bound but not defined", eq.QuestionID)
		}
	}
	return nil
}
