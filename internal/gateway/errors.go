package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/pkg/api"
	"github.com/canonica-labs/dealquery/pkg/models"
)

// StatusFor maps an error category to its HTTP status.
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeAuth:
		return http.StatusUnauthorized
	case errors.CodeForbidden:
		return http.StatusForbidden
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeRateLimit:
		return http.StatusTooManyRequests
	case errors.CodeEngine:
		return http.StatusBadGateway
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse. Errors outside the taxonomy
// are logged and reported without detail.
func (g *Gateway) writeError(c *gin.Context, err error) {
	qe, ok := errors.As(err)
	if !ok {
		g.log.Error("unclassified error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "internal error",
			Code:  int(errors.CodeInternal),
		})
		return
	}

	if qe.Code == errors.CodeRateLimit {
		c.Header(api.HeaderRetryAfter, "1")
	}
	c.JSON(StatusFor(qe.Code), models.ErrorResponse{
		Error:      qe.Message,
		Key:        qe.Key,
		Reason:     qe.Reason,
		Suggestion: qe.Suggestion,
		Code:       int(qe.Code),
	})
}
