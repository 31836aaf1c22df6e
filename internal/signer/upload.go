// Package signer holds the two cryptographic checks at the service boundary:
// presigned storage upload URLs (AWS Signature Version 4, query-string form)
// and payment webhook authentication.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm       = "AWS4-HMAC-SHA256"
	service         = "s3"
	terminator      = "aws4_request"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"

	// MaxTTL is the SigV4 ceiling for presigned URLs.
	MaxTTL = 7 * 24 * time.Hour
)

var ErrInvalidPresign = errors.New("invalid presign request")

// Credentials identify the storage account and its region.
type Credentials struct {
	AccessKey string
	SecretKey string
	Region    string
}

// PresignRequest describes one upload to be authorised.
type PresignRequest struct {
	Endpoint    string // scheme://host[:port], path-style bucket addressing
	Bucket      string
	Key         string
	ContentType string
	TTL         time.Duration
}

// PresignPut returns a URL that authorises a single PUT of Key with the given
// Content-Type until now+TTL. Identical inputs yield an identical URL.
func PresignPut(creds Credentials, req PresignRequest, now time.Time) (string, error) {
	if err := validate(creds, req); err != nil {
		return "", err
	}

	endpoint, err := url.Parse(req.Endpoint)
	if err != nil || endpoint.Host == "" || endpoint.Scheme == "" {
		return "", fmt.Errorf("%w: endpoint %q", ErrInvalidPresign, req.Endpoint)
	}

	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	scope := strings.Join([]string{now.Format(shortDateFormat), creds.Region, service, terminator}, "/")
	canonicalPath := "/" + uriEncode(req.Bucket, false) + "/" + uriEncode(strings.TrimPrefix(req.Key, "/"), false)

	query := map[string]string{
		"X-Amz-Algorithm":     algorithm,
		"X-Amz-Credential":    creds.AccessKey + "/" + scope,
		"X-Amz-Date":          amzDate,
		"X-Amz-Expires":       strconv.FormatInt(int64(req.TTL/time.Second), 10),
		"X-Amz-SignedHeaders": "content-type;host",
	}
	canonicalQuery := canonicalQueryString(query)

	canonicalHeaders := "content-type:" + strings.TrimSpace(req.ContentType) + "\n" +
		"host:" + strings.ToLower(endpoint.Host) + "\n"

	canonicalRequest := strings.Join([]string{
		"PUT",
		canonicalPath,
		canonicalQuery,
		canonicalHeaders,
		"content-type;host",
		unsignedPayload,
	}, "\n")

	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(signingKey(creds.SecretKey, now, creds.Region), []byte(stringToSign)))

	return endpoint.Scheme + "://" + endpoint.Host + canonicalPath + "?" + canonicalQuery + "&X-Amz-Signature=" + signature, nil
}

func validate(creds Credentials, req PresignRequest) error {
	switch {
	case creds.AccessKey == "" || creds.SecretKey == "":
		return fmt.Errorf("%w: missing credentials", ErrInvalidPresign)
	case creds.Region == "":
		return fmt.Errorf("%w: missing region", ErrInvalidPresign)
	case req.Bucket == "":
		return fmt.Errorf("%w: missing bucket", ErrInvalidPresign)
	case strings.Trim(req.Key, "/") == "":
		return fmt.Errorf("%w: missing key", ErrInvalidPresign)
	case strings.TrimSpace(req.ContentType) == "":
		return fmt.Errorf("%w: missing content type", ErrInvalidPresign)
	case req.TTL < time.Second || req.TTL > MaxTTL:
		return fmt.Errorf("%w: ttl %s out of range", ErrInvalidPresign, req.TTL)
	}
	return nil
}

func signingKey(secret string, now time.Time, region string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(now.Format(shortDateFormat)))
	k = hmacSHA256(k, []byte(region))
	k = hmacSHA256(k, []byte(service))
	return hmacSHA256(k, []byte(terminator))
}

func canonicalQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, uriEncode(k, true)+"="+uriEncode(params[k], true))
	}
	return strings.Join(parts, "&")
}

// uriEncode applies the SigV4 encoding: every byte except the unreserved set
// is percent-encoded with upper-case hex. Slashes survive in paths only.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
