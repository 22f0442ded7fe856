package httptransport

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/platform/errors"
)

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess writes a success envelope.
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError writes a failure envelope.
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondErr maps a typed error to its status and writes a failure envelope.
// An empty message falls back to the error text.
func RespondErr(c *gin.Context, err error, message string, data interface{}) {
	if err != nil {
		if message == "" {
			message = err.Error()
		}
		_ = c.Error(err)
	}
	RespondError(c, StatusFor(err), message, data)
}

// StatusFor maps error kinds to HTTP status codes.
func StatusFor(err error) int {
	if stderrors.Is(err, verdict.ErrNotFound) {
		return http.StatusNotFound
	}
	switch errors.KindOf(err) {
	case errors.KindDecode:
		return http.StatusUnprocessableEntity
	case errors.KindInput, errors.KindTransport:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
