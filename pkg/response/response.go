package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
	CodeUpstream     = 502
)

// Stable reason codes for client-facing errors.
const (
	ReasonInvalidArgument     = "invalid_argument"
	ReasonUnauthorized        = "unauthorized"
	ReasonNotFound            = "not_found"
	ReasonConflict            = "conflict"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonInternal            = "internal"
)

// Payment provider webhook codes. The provider retries on anything but a 2xx
// answer with code 0, 10 or 13.
const (
	WebhookCodeOK             = 0
	WebhookCodeUnknownInvoice = 10
	WebhookCodeRejected       = 13
	WebhookCodeRetry          = 500
)

type Response struct {
	Code    int         `json:"code"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, status, code int, reason, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Reason:  reason,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, ReasonInvalidArgument, message)
}
