// Package response writes galacticbuf HTTP responses and maps error
// kinds to status codes. Every body leaves the server as a v2 message.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ksred/galactic-exchange/internal/codec"
	"github.com/ksred/galactic-exchange/internal/types"
)

var kindStatus = map[types.Kind]int{
	types.KindInvalidInput:           http.StatusBadRequest,
	types.KindUnauthorized:           http.StatusUnauthorized,
	types.KindInsufficientCollateral: http.StatusPaymentRequired,
	types.KindForbidden:              http.StatusForbidden,
	types.KindNotFound:               http.StatusNotFound,
	types.KindConflict:               http.StatusConflict,
	types.KindSelfMatch:              http.StatusPreconditionFailed,
	types.KindTooEarly:               http.StatusTooEarly,
	types.KindTooLate:                http.StatusUnavailableForLegalReasons,
}

// StatusOf returns the HTTP status for a kinded error. Errors without a
// kind are internal.
func StatusOf(err error) int {
	if status, ok := kindStatus[types.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// OK writes a 200 with the encoded message.
func OK(c *gin.Context, m codec.Map) {
	Data(c, http.StatusOK, m)
}

// NoContent writes an empty 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Data writes the message with an explicit status.
func Data(c *gin.Context, status int, m codec.Map) {
	body, err := codec.Encode(m, codec.V2)
	if err != nil {
		c.Data(http.StatusInternalServerError, codec.ContentType, nil)
		return
	}
	c.Data(status, codec.ContentType, body)
}

// Error writes the error with its mapped status and an {error} body.
func Error(c *gin.Context, err error) {
	message := "internal error"
	status := StatusOf(err)
	if status != http.StatusInternalServerError {
		message = err.Error()
	}
	Data(c, status, codec.Map{"error": message})
}

// Unauthorized writes a 401 with an {error} body.
func Unauthorized(c *gin.Context, message string) {
	Data(c, http.StatusUnauthorized, codec.Map{"error": message})
}

// BadRequest writes a 400 with an {error} body.
func BadRequest(c *gin.Context, message string) {
	Data(c, http.StatusBadRequest, codec.Map{"error": message})
}
