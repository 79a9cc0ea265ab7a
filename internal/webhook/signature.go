package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how stale a signed timestamp may be before
// verification rejects it.
const SignatureTolerance = 5 * time.Minute

var (
	ErrSignatureFormat  = errors.New("webhook: malformed signature header")
	ErrSignatureExpired = errors.New("webhook: signature timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("webhook: signature mismatch")
)

// Sign produces the X-Webhook-Signature header value for payload:
// "t=<unix>,v1=<hex hmac-sha256 over '<unix>.<payload>'>". Binding the
// timestamp into the MAC blocks replay of captured deliveries.
func Sign(secret string, payload []byte, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, computeMAC(secret, payload, unix))
}

// Verify checks header against payload with the given tolerance around
// now. A tolerance of zero falls back to SignatureTolerance.
func Verify(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = SignatureTolerance
	}

	var unix int64
	var mac string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ErrSignatureFormat
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureFormat
			}
			unix = parsed
		case "v1":
			mac = v
		}
	}
	if unix == 0 || mac == "" {
		return ErrSignatureFormat
	}

	age := now.Sub(time.Unix(unix, 0))
	if age > tolerance || age < -tolerance {
		return ErrSignatureExpired
	}

	expected := computeMAC(secret, payload, unix)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(mac)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

func computeMAC(secret string, payload []byte, unix int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
