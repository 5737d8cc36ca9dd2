package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SvixIDHeader        = "svix-id"
	SvixTimestampHeader = "svix-timestamp"
	SvixSignatureHeader = "svix-signature"

	svixSecretPrefix    = "whsec_"
	svixSignatureScheme = "v1"
)

type Verifier interface {
	Verify(ctx context.Context, req InboundRequest) error
}

// SvixVerifier checks the signature scheme Resend delivers webhooks with:
// base64 HMAC-SHA256 over "id.timestamp.body", keyed by the decoded
// whsec_ secret, plus a timestamp tolerance against replays.
type SvixVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewSvixVerifier(secret string, tolerance time.Duration) SvixVerifier {
	return SvixVerifier{Secret: strings.TrimSpace(secret), Tolerance: tolerance}
}

func (v SvixVerifier) Verify(_ context.Context, req InboundRequest) error {
	key, err := svixKey(v.Secret)
	if err != nil {
		return err
	}
	msgID := headerValue(req.Headers, SvixIDHeader)
	timestamp := headerValue(req.Headers, SvixTimestampHeader)
	signatures := headerValue(req.Headers, SvixSignatureHeader)
	if msgID == "" || timestamp == "" || signatures == "" {
		return fmt.Errorf("webhooks: svix signature headers are required")
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: invalid svix timestamp %q", timestamp)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	sentAt := time.Unix(seconds, 0)
	skew := v.now().Sub(sentAt)
	if skew > tolerance || skew < -tolerance {
		return fmt.Errorf("webhooks: signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(msgID + "." + timestamp + "."))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(signatures) {
		version, value, ok := strings.Cut(candidate, ",")
		if !ok || version != svixSignatureScheme {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return fmt.Errorf("webhooks: signature verification failed")
}

func (v SvixVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func svixKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("webhooks: signature secret is required")
	}
	if !strings.HasPrefix(secret, svixSecretPrefix) {
		return []byte(secret), nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, svixSecretPrefix))
	if err != nil {
		return nil, fmt.Errorf("webhooks: decode signing secret: %w", err)
	}
	return key, nil
}

// SignSvix produces a svix-signature header value. Used by tests and by
// tooling that replays stored payloads against a receiver.
func SignSvix(secret string, msgID string, sentAt time.Time, body []byte) (string, error) {
	key, err := svixKey(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(msgID + "." + strconv.FormatInt(sentAt.Unix(), 10) + "."))
	_, _ = mac.Write(body)
	return svixSignatureScheme + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// HeaderHMACVerifier checks a single-header HMAC-SHA256 over the raw body,
// for providers or relays that sign that way.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req InboundRequest) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("webhooks: decode signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
