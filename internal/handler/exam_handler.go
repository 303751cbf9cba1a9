package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

// CatalogCache is the cache control surface used by RefreshExamCache.
type CatalogCache interface {
	Invalidate(ctx context.Context, examID uuid.UUID) error
	Warm(ctx context.Context, examID uuid.UUID) error
}

// ExamHandler handles instructor endpoints: grading, enrollment and live status.
type ExamHandler struct {
	attemptService *service.AttemptService
	cache          CatalogCache
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler. cache may be nil when Redis is disabled.
func NewExamHandler(attemptService *service.AttemptService, cache CatalogCache, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		attemptService: attemptService,
		cache:          cache,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// GradeAnswer godoc
// PUT /api/v1/instructor/attempts/:attempt_id/answers/:question_id/grade
// Records marks for a free-text answer on a submitted attempt and recomputes its total.
func (h *ExamHandler) GradeAnswer(c *gin.Context) {
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

	var req model.GradeAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.GradeAnswer(c.Request.Context(), attemptID, questionID, *req.Marks)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// EnrollStudents godoc
// POST /api/v1/instructor/exams/:exam_id/enroll
// Registers NOT_STARTED attempts so the live view lists students before they begin.
func (h *ExamHandler) EnrollStudents(c *gin.Context) {
	examID, ok := validator.ParamUUID(c, "exam_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.EnrollRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	created, err := h.attemptService.Enroll(c.Request.Context(), examID, req.StudentIDs)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"enrolled":         created,
		"already_enrolled": len(req.StudentIDs) - created,
	})
}

// GetLiveStatus godoc
// GET /api/v1/instructor/exams/:exam_id/live
func (h *ExamHandler) GetLiveStatus(c *gin.Context) {
	examID, ok := validator.ParamUUID(c, "exam_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.attemptService.GetLiveStatus(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// RefreshExamCache godoc
// POST /api/v1/instructor/exams/:exam_id/refresh-cache
// Drops and reloads the cached definition after the exam was edited in the catalog.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	examID, ok := validator.ParamUUID(c, "exam_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if h.cache == nil {
		response.Success(c, http.StatusOK, gin.H{"cached": false})
		return
	}

	ctx := c.Request.Context()
	if err := h.cache.Invalidate(ctx, examID); err != nil {
		failFromError(c, h.log, err)
		return
	}
	if err := h.cache.Warm(ctx, examID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	h.log.Info().Str("exam_id", examID.String()).Msg("Exam cache refreshed")
	response.Success(c, http.StatusOK, gin.H{"cached": true})
}
