package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope carries every client message. Fields unused by an action are ignored.
type RequestEnvelope struct {
	Action          Action   `json:"action"`
	QID             string   `json:"q_id,omitempty"`
	SelectedOptions []string `json:"selected_options,omitempty"`
	AnswerText      string   `json:"answer_text,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event Event     `json:"event"`
	QID   uuid.UUID `json:"q_id"`
}

type SubmittedResponse struct {
	Event       Event              `json:"event"`
	FinalState  model.AttemptState `json:"final_state"`
	TotalScore  float64            `json:"total_score"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
