package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps a typed error onto an HTTP status. Kinds that reach
// the API synchronously are the caller's fault or a capacity signal; the
// rest surface as upstream failures.
func RespondAppError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch {
	case kind == apperr.KindCapacityExceeded:
		status = http.StatusTooManyRequests
	case apperr.Synchronous(kind):
		status = http.StatusBadRequest
	case kind == apperr.KindCohortNotFound:
		status = http.StatusNotFound
	case kind == apperr.KindCorruptData, kind == apperr.KindStorageError:
		status = http.StatusBadGateway
	case kind == apperr.KindComputationTimeout:
		status = http.StatusGatewayTimeout
	}
	RespondError(c, status, string(kind), err)
}
