package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by HMAC-authenticated oracle proxy requests.
const (
	HeaderKey       = "X-Drawsettle-Key"
	HeaderTimestamp = "X-Drawsettle-Timestamp"
	HeaderSignature = "X-Drawsettle-Signature"
)

// ErrStaleRequest and ErrBadHMAC are returned by HMACAuth.Verify.
var (
	ErrStaleRequest = errors.New("crypto: request timestamp outside allowed skew")
	ErrBadHMAC      = errors.New("crypto: hmac signature mismatch")
)

// HMACAuth holds the shared credentials between the engine and the oracle
// proxy. The signature is HMAC-SHA256(secret, timestamp+method+path+body),
// base64 encoded.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the auth headers for a request sent now.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt. Timestamps further than
// skew from now are rejected.
func (h *HMACAuth) Verify(method, path, body, ts, sig string, now time.Time, skew time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrStaleRequest, ts)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return ErrStaleRequest
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadHMAC
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
