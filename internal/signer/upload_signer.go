package signer

import (
	"time"

	"lipdub/internal/config"
)

// UploadSigner binds PresignPut to the configured storage account and a
// clock.
type UploadSigner struct {
	creds    Credentials
	endpoint string
	now      func() time.Time
}

func NewUploadSigner(cfg config.StorageConfig, now func() time.Time) *UploadSigner {
	if now == nil {
		now = time.Now
	}
	return &UploadSigner{
		creds: Credentials{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
		},
		endpoint: cfg.Endpoint,
		now:      now,
	}
}

// SignUploadURL presigns a PUT of key into bucket.
func (s *UploadSigner) SignUploadURL(bucket, key, contentType string, ttl time.Duration) (string, error) {
	return PresignPut(s.creds, PresignRequest{
		Endpoint:    s.endpoint,
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		TTL:         ttl,
	}, s.now())
}
