package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
	ws "github.com/stemsi/exstem-attempts/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams autosave and submit over a WebSocket for one attempt.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Each message is handled by the same engine operations as the REST endpoints.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.MustClaims(c)

	attemptID, ok := validator.ParamUUID(c, "attempt_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership and existence are checked before the upgrade so failures get a proper status.
	if _, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestEnvelope
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		// The request context ends with the upgrade handler, not per message.
		ctx := context.WithoutCancel(c.Request.Context())

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, attemptID, studentID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestEnvelope) {
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), "invalid q_id format")
		return
	}

	req := model.SaveAnswerRequest{SelectedOptions: msg.SelectedOptions, AnswerText: msg.AnswerText}
	if fields := validator.Struct(&req); fields != nil {
		ws.WriteFieldErrors(conn, string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
		return
	}
	answer, err := req.Payload()
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "invalid selected_options")
		return
	}

	if err := h.attemptService.SaveAnswer(ctx, attemptID, studentID, questionID, answer); err != nil {
		h.writeEngineError(conn, wsLog, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: questionID})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) {
	result, err := h.attemptService.Submit(ctx, attemptID, studentID)
	if err != nil {
		h.writeEngineError(conn, wsLog, err)
		return
	}

	wsLog.Info().
		Str("state", string(result.FinalState)).
		Float64("score", result.TotalScore).
		Msg("Attempt submitted over WebSocket")

	resp := ws.SubmittedResponse{
		Event:      ws.EventSubmitted,
		FinalState: result.FinalState,
		TotalScore: result.TotalScore,
	}
	if result.SubmittedAt != nil {
		resp.SubmittedAt = *result.SubmittedAt
	}
	ws.WriteTyped(conn, resp)
}

func (h *WSHandler) writeEngineError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	code := errorCode(err)
	if code == response.ErrInternal {
		wsLog.Error().Err(err).Msg("WebSocket action failed")
		ws.WriteError(conn, string(code), response.GetMessage(code))
		return
	}
	ws.WriteError(conn, string(code), err.Error())
}
