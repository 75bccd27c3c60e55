package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// signatureHeaders are checked in order; the first non-empty one is used.
var signatureHeaders = []string{
	"X-Webhook-Signature",
	"X-Hub-Signature-256",
	"X-Signature-256",
	"X-Signature",
}

// VerifySignature checks the HMAC-SHA256 of rawBody against the signature
// header. An empty secret disables verification. reason explains a failure.
func VerifySignature(rawBody []byte, secret string, header http.Header) (ok bool, reason string) {
	if secret == "" {
		return true, ""
	}

	var provided string
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(header.Get(name)); v != "" {
			provided = v
			break
		}
	}
	if provided == "" {
		return false, "missing signature header"
	}
	provided = strings.TrimPrefix(provided, "sha256=")

	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false, "invalid signature hex"
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return false, "signature mismatch"
	}
	return true, ""
}

// Sign returns the hex signature a gateway would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
