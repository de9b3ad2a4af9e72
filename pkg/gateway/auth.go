package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts is how many bad signatures a connection gets before it is
// dropped.
const maxAuthAttempts = 3

// AuthHandler manages challenge-response authentication. The client proves
// knowledge of the shared secret by returning HMAC-SHA256(secret, challenge).
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// GenerateChallenge generates a cryptographically random 32-byte challenge.
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// VerifySignature verifies an HMAC-SHA256 signature against a challenge.
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(challenge))
	expected := hex.EncodeToString(h.Sum(nil))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// AuthResult is the outcome of processing one auth response.
type AuthResult struct {
	Success bool
	Message string
	// Blocked is set when the connection has exhausted its attempts and
	// should be closed.
	Blocked bool
}

// HandleAuthResponse processes an authentication response from a client.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return AuthResult{
			Success: false,
			Message: "no challenge outstanding",
		}
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++

		if client.AuthAttempts >= maxAuthAttempts {
			return AuthResult{
				Success: false,
				Message: "too many failed attempts",
				Blocked: true,
			}
		}

		return AuthResult{
			Success: false,
			Message: "invalid signature",
		}
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = "" // single use

	return AuthResult{Success: true}
}
