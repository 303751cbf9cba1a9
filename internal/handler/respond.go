package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// failFromError maps an engine error onto the API error envelope.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrInvalidState):
		response.FailWithDetail(c, http.StatusConflict, response.ErrInvalidState, err.Error())
	case errors.Is(err, service.ErrWindowClosed):
		response.FailWithDetail(c, http.StatusForbidden, response.ErrWindowClosed, err.Error())
	case errors.Is(err, service.ErrValidation):
		response.FailWithDetail(c, http.StatusUnprocessableEntity, response.ErrValidation, err.Error())
	case errors.Is(err, service.ErrTransient):
		log.Warn().Err(err).Str("path", c.FullPath()).Str("request_id", response.RequestID(c)).Msg("Store busy, asking client to retry")
		c.Header("Retry-After", "1")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUnavailable)
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Str("request_id", response.RequestID(c)).Msg("Unhandled error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// errorCode is the wire code for err, used where no HTTP status applies.
func errorCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return response.ErrNotFound
	case errors.Is(err, service.ErrForbidden):
		return response.ErrForbidden
	case errors.Is(err, service.ErrInvalidState):
		return response.ErrInvalidState
	case errors.Is(err, service.ErrWindowClosed):
		return response.ErrWindowClosed
	case errors.Is(err, service.ErrValidation):
		return response.ErrValidation
	case errors.Is(err, service.ErrTransient):
		return response.ErrUnavailable
	default:
		return response.ErrInternal
	}
}
