package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (exam listing, attempt lifecycle).
type StudentPortalHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(attemptService *service.AttemptService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/student/exams
// Returns exams that are open or about to open.
func (h *StudentPortalHandler) ListExams(c *gin.Context) {
	exams, err := h.attemptService.ListActiveExams(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if exams == nil {
		exams = []model.ExamSummary{}
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// ListAttempts godoc
// GET /api/v1/student/attempts
func (h *StudentPortalHandler) ListAttempts(c *gin.Context) {
	claims := middleware.MustClaims(c)

	attempts, err := h.attemptService.ListStudentAttempts(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Starts the student's attempt or resumes the existing one (idempotent).
func (h *StudentPortalHandler) StartAttempt(c *gin.Context) {
	claims := middleware.MustClaims(c)

	examID, ok := validator.ParamUUID(c, "exam_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	meta := model.StartMeta{ClientIP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	payload, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID, meta)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
// Covers page reloads: questions in the student's order, saved answers and remaining time.
func (h *StudentPortalHandler) GetAttempt(c *gin.Context) {
	claims := middleware.MustClaims(c)

	attemptID, ok := validator.ParamUUID(c, "attempt_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers/:question_id
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.MustClaims(c)

	attemptID, ok := validator.ParamUUID(c, "attempt_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	questionID, ok := validator.ParamUUID(c, "question_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	answer, err := req.Payload()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	if err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, claims.UserID, questionID, answer); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": questionID, "saved": true})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes and scores the attempt. Repeated calls return the original result.
func (h *StudentPortalHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.MustClaims(c)

	attemptID, ok := validator.ParamUUID(c, "attempt_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}
