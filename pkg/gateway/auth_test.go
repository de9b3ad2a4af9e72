package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computeHMAC(challenge, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

func TestAuthHandler_GenerateChallenge(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should generate 32-byte challenge as hex", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)
		assert.Len(t, challenge, 64) // 32 bytes = 64 hex characters
	})

	t.Run("should generate unique challenges", func(t *testing.T) {
		challenge1, err1 := auth.GenerateChallenge()
		challenge2, err2 := auth.GenerateChallenge()

		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, challenge1, challenge2)
	})
}

func TestAuthHandler_VerifySignature(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should verify valid signature", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.True(t, auth.VerifySignature(challenge, computeHMAC(challenge, "test-secret")))
	})

	t.Run("should reject invalid signature", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.False(t, auth.VerifySignature(challenge, "invalid-signature"))
	})

	t.Run("should reject signature with wrong secret", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.False(t, auth.VerifySignature(challenge, computeHMAC(challenge, "wrong-secret")))
	})
}

func TestAuthHandler_HandleAuthResponse(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should succeed with valid signature", func(t *testing.T) {
		client := &Client{
			ID:        "test-client",
			Challenge: "test-challenge",
		}

		result := auth.HandleAuthResponse(client, computeHMAC("test-challenge", "test-secret"))

		assert.True(t, result.Success)
		assert.True(t, client.Authenticated)
		assert.Equal(t, StateAuthenticated, client.State)
		assert.Equal(t, 0, client.AuthAttempts)
		assert.Empty(t, client.Challenge, "challenge is single use")
	})

	t.Run("should fail without a challenge", func(t *testing.T) {
		client := &Client{ID: "test-client"}

		result := auth.HandleAuthResponse(client, "anything")

		assert.False(t, result.Success)
		assert.False(t, client.Authenticated)
	})

	t.Run("should count failed attempts and block on the third", func(t *testing.T) {
		client := &Client{
			ID:        "test-client",
			Challenge: "test-challenge",
		}

		first := auth.HandleAuthResponse(client, "bad-signature")
		assert.False(t, first.Success)
		assert.False(t, first.Blocked)
		assert.Equal(t, 1, client.AuthAttempts)

		second := auth.HandleAuthResponse(client, "bad-signature")
		assert.False(t, second.Success)
		assert.False(t, second.Blocked)

		third := auth.HandleAuthResponse(client, "bad-signature")
		assert.False(t, third.Success)
		assert.True(t, third.Blocked)
	})

	t.Run("should still accept a valid signature after failed attempts", func(t *testing.T) {
		client := &Client{
			ID:        "test-client",
			Challenge: "test-challenge",
		}

		_ = auth.HandleAuthResponse(client, "bad-signature")
		result := auth.HandleAuthResponse(client, computeHMAC("test-challenge", "test-secret"))

		assert.True(t, result.Success)
		assert.True(t, client.Authenticated)
		assert.Equal(t, 0, client.AuthAttempts)
	})
}
