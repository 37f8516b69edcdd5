package webhook

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
)

const signaturePrefix = "sha256="

// VerifySignature verifies a GitHub webhook signature (HMAC SHA-256).
// Only the sha256 form is accepted; the legacy sha1 header is rejected.
func VerifySignature(payload []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return github.ValidateSignature(signature, payload, []byte(secret)) == nil
}

// ValidateSignatureHeader validates the X-Hub-Signature-256 header
func ValidateSignatureHeader(header string) error {
	if header == "" {
		return fmt.Errorf("missing X-Hub-Signature-256 header")
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("invalid signature format, expected 'sha256=<hash>'")
	}
	return nil
}
