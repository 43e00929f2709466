package cloudevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature-256"

const signaturePrefix = "sha256="

// ErrBadSignature is returned by Decode when the body does not match its signature.
var ErrBadSignature = errors.New("cloudevent: signature mismatch")

// Sign returns the signature a receiver should expect for event under key.
func Sign(event *CloudEvent, key string) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return generateSignature(body, key), nil
}

// Verify reports whether signature is the HMAC-SHA256 of body under key.
func Verify(body []byte, signature, key string) bool {
	return hmac.Equal([]byte(signature), []byte(generateSignature(body, key)))
}

// Decode parses a structured-mode body. A non-empty key requires a valid signature.
func Decode(body []byte, signature, key string) (*CloudEvent, error) {
	if key != "" && !Verify(body, signature, key) {
		return nil, ErrBadSignature
	}
	var ev CloudEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.SpecVersion == "" || ev.Type == "" || ev.ID == "" {
		return nil, fmt.Errorf("decode event: missing specversion, type or id")
	}
	return &ev, nil
}

func generateSignature(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
