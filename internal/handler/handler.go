package handler

import (
	"io"
	"net/http"

	"lipdub/internal/service"
	"lipdub/pkg/response"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// Handler exposes the order workflow over HTTP.
type Handler struct {
	uploads   *service.UploadService
	payments  *service.PaymentService
	languages *service.LanguageService
}

func NewHandler(uploads *service.UploadService, payments *service.PaymentService, languages *service.LanguageService) *Handler {
	return &Handler{uploads: uploads, payments: payments, languages: languages}
}

// ListLanguages
// GET /api/v1/languages
func (h *Handler) ListLanguages(c *gin.Context) {
	langs, err := h.languages.ListActive(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	response.Success(c, langs)
}

// RequestUploadSlot
// POST /api/v1/uploads/slot
func (h *Handler) RequestUploadSlot(c *gin.Context) {
	var req service.UploadSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid body: "+err.Error())
		return
	}

	slot, err := h.uploads.RequestUploadSlot(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	response.Success(c, slot)
}

// ConfirmUpload
// POST /api/v1/uploads/confirm
func (h *Handler) ConfirmUpload(c *gin.Context) {
	var req service.ConfirmUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid body: "+err.Error())
		return
	}

	video, err := h.uploads.ConfirmUpload(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	response.Success(c, video)
}

// CreateTransaction
// POST /api/v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req service.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid body: "+err.Error())
		return
	}

	t, err := h.payments.CreateTransaction(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	response.Success(c, gin.H{
		"uniquecode": t.UniqueCode,
		"amount":     t.Amount,
		"currency":   t.Currency,
	})
}

// InitiatePayment returns the widget charge descriptor.
// POST /api/v1/transactions/pay
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid body: "+err.Error())
		return
	}

	charge, err := h.payments.InitiatePayment(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	response.Success(c, charge)
}

// TransactionStatus is the client's polling fallback. It never writes.
// GET /api/v1/transactions/status?uniquecode=xxx
func (h *Handler) TransactionStatus(c *gin.Context) {
	status, err := h.payments.PollStatus(c.Request.Context(), c.Query("uniquecode"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	response.Success(c, status)
}

// PaymentWebhook receives provider notifications. The body is read raw so
// the signature is checked over the exact bytes sent.
// POST /api/v1/payments/webhook
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"code": response.WebhookCodeRejected, "message": "body too large"})
		return
	}

	signature := c.GetHeader("Content-HMAC")
	if signature == "" {
		signature = c.GetHeader("X-Content-HMAC")
	}

	answerWebhook(c, h.payments.HandleWebhook(c.Request.Context(), body, signature))
}
