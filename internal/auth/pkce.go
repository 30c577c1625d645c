// Package auth implements the lmi token orchestration core: PKCE challenge
// generation, the local login callback listener, per-environment token
// acquisition and refresh, the authenticated request executor, and the SSO
// session manager.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCECodes holds the verifier/challenge pair for one PKCE login attempt
// (RFC 7636). A pair is generated at login start, consumed by exactly one
// code exchange, and never persisted.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes draws a fresh high-entropy code verifier from the
// cryptographically secure random source and derives its S256 challenge.
// Random-source exhaustion is the only error condition and is not
// recoverable.
func GeneratePKCECodes() (*PKCECodes, error) {
	// 64 random bytes encode to an 86-character verifier, comfortably inside
	// the RFC 7636 43..128 range.
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("lmi auth: generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: S256Challenge(verifier),
	}, nil
}

// S256Challenge derives the code challenge for a verifier: SHA-256 then
// unpadded base64url, per RFC 7636 section 4.2.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState produces the anti-CSRF state parameter round-tripped through
// the browser redirect. It is independent of the PKCE pair.
func GenerateState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("lmi auth: generate state: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
