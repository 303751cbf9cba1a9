package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedJSON = `[
  {
    "exam": {
      "id": "0f6c3a52-1f4e-4c1e-9f41-8f1f3f6b0a01",
      "title": "Physics midterm",
      "status": "SCHEDULED",
      "duration_minutes": 45,
      "start_at": "2026-03-02T08:00:00Z",
      "end_at": "2026-03-02T12:00:00Z",
      "shuffle_questions": true,
      "negative_marking": 0.25,
      "questions": [
        {"question_id": "6a0a4c5e-2b7d-4d55-8d8c-1b0c3c1d0001", "position": 1},
        {"question_id": "6a0a4c5e-2b7d-4d55-8d8c-1b0c3c1d0002", "position": 2, "marks_override": 4}
      ]
    },
    "questions": [
      {
        "id": "6a0a4c5e-2b7d-4d55-8d8c-1b0c3c1d0001",
        "text": "Unit of force?",
        "question_type": "SINGLE_SELECT",
        "marks": 1,
        "options": [
          {"id": "9b1e0f00-0000-4000-8000-000000000001", "text": "Newton", "is_correct": true},
          {"id": "9b1e0f00-0000-4000-8000-000000000002", "text": "Joule"}
        ]
      },
      {
        "id": "6a0a4c5e-2b7d-4d55-8d8c-1b0c3c1d0002",
        "text": "Derive v = u + at",
        "question_type": "LONG_TEXT",
        "marks": 5
      }
    ]
  }
]`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCatalogSeed(t *testing.T) {
	catalog := memory.NewCatalog()
	ctx := context.Background()

	n, err := LoadCatalogSeed(ctx, writeSeed(t, seedJSON), catalog, zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	examID := uuid.MustParse("0f6c3a52-1f4e-4c1e-9f41-8f1f3f6b0a01")
	exam, err := catalog.GetExam(ctx, examID)
	require.NoError(t, err)
	assert.Equal(t, model.ExamStatusScheduled, exam.Status)
	assert.True(t, exam.ShuffleQuestions)

	questions, err := catalog.ListQuestions(ctx, examID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, 4.0, exam.MarksFor(&questions[1]))
	assert.Len(t, questions[0].CorrectOptionIDs(), 1)
}

func TestLoadCatalogSeedRejects(t *testing.T) {
	log := zerolog.New(io.Discard)
	cases := map[string]string{
		"malformed":        `{"exam":`,
		"unbound question": `[{"exam":{"id":"0f6c3a52-1f4e-4c1e-9f41-8f1f3f6b0a01","duration_minutes":5,"start_at":"2026-03-02T08:00:00Z","end_at":"2026-03-02T09:00:00Z","questions":[{"question_id":"6a0a4c5e-2b7d-4d55-8d8c-1b0c3c1d0009","position":1}]},"questions":[]}]`,
		"inverted window":  `[{"exam":{"id":"0f6c3a52-1f4e-4c1e-9f41-8f1f3f6b0a01","duration_minutes":5,"start_at":"2026-03-02T09:00:00Z","end_at":"2026-03-02T08:00:00Z"},"questions":[]}]`,
		"unknown type":     `[{"exam":{"id":"0f6c3a52-1f4e-4c1e-9f41-8f1f3f6b0a01","duration_minutes":5,"start_at":"2026-03-02T08:00:00Z","end_at":"2026-03-02T09:00:00Z"},"questions":[{"id":"6a0a4c5e-2b7d-4d55-8d8c-1b0c3c1d0001","question_type":"ESSAY"}]}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalogSeed(context.Background(), writeSeed(t, body), memory.NewCatalog(), log)
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalogSeed(context.Background(), filepath.Join(t.TempDir(), "missing.json"), memory.NewCatalog(), log)
	assert.Error(t, err)
}
