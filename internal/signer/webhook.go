package signer

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// SignWebhook returns the base64 HMAC-SHA256 of rawBody under secret, the
// form the payment provider sends in its Content-HMAC header.
func SignWebhook(rawBody []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256([]byte(secret), rawBody))
}

// VerifyWebhook reports whether providedSignature authenticates the exact
// bytes of rawBody.
func VerifyWebhook(rawBody []byte, providedSignature, secret string) bool {
	return CheckWebhook(rawBody, providedSignature, secret) == nil
}

// CheckWebhook is VerifyWebhook with the reason for a rejection.
func CheckWebhook(rawBody []byte, providedSignature, secret string) error {
	providedSignature = strings.TrimSpace(providedSignature)
	if providedSignature == "" {
		return ErrMissingSignature
	}
	if secret == "" {
		return ErrInvalidSignature
	}

	provided, err := base64.StdEncoding.DecodeString(providedSignature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, hmacSHA256([]byte(secret), rawBody)) {
		return ErrInvalidSignature
	}
	return nil
}
