package handler

import (
	"errors"
	"net/http"

	"lipdub/internal/service"
	"lipdub/pkg/response"

	"github.com/gin-gonic/gin"
)

// abortWithError answers with the status and reason code of err's class.
// Unclassified errors are reported as internal without leaking details.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.CodeParamError, response.ReasonInvalidArgument, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, response.ReasonUnauthorized, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, response.ReasonNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Error(c, http.StatusConflict, response.CodeConflict, response.ReasonConflict, err.Error())
	case errors.Is(err, service.ErrExternal):
		response.Error(c, http.StatusBadGateway, response.CodeUpstream, response.ReasonUpstreamUnavailable, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeServerError, response.ReasonInternal, "internal error")
	}
}

// answerWebhook replies to a payment provider notification. A bad signature
// gets a 401 so it is never mistaken for success. Malformed payloads and
// unknown invoices are permanent and acknowledged; anything else asks for a
// retry.
func answerWebhook(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"code": response.WebhookCodeOK})
	case errors.Is(err, service.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": response.WebhookCodeRejected, "message": "invalid signature"})
	case errors.Is(err, service.ErrValidation):
		c.AbortWithStatusJSON(http.StatusOK, gin.H{"code": response.WebhookCodeRejected, "message": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusOK, gin.H{"code": response.WebhookCodeUnknownInvoice, "message": "unknown invoice"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": response.WebhookCodeRetry, "message": "temporary failure, retry later"})
	}
}
