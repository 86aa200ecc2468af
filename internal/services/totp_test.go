package services

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestGenerateTwoFactorSecret(t *testing.T) {
	secret, url, err := generateTwoFactorSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, url, "otpauth://totp/")
	assert.Contains(t, url, "FlowCRM")

	other, _, err := generateTwoFactorSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestVerifyTOTPWithinSkew(t *testing.T) {
	secret, _, err := generateTwoFactorSecret("alice@example.com")
	require.NoError(t, err)

	// Mid-step reference time avoids ambiguity at step boundaries.
	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)

	assert.True(t, verifyTOTPAt(secret, codeAt(t, secret, now), now))
	assert.True(t, verifyTOTPAt(secret, codeAt(t, secret, now.Add(-30*time.Second)), now))
	assert.True(t, verifyTOTPAt(secret, codeAt(t, secret, now.Add(30*time.Second)), now))
}

func TestVerifyTOTPOutsideSkew(t *testing.T) {
	secret, _, err := generateTwoFactorSecret("alice@example.com")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)

	assert.False(t, verifyTOTPAt(secret, codeAt(t, secret, now.Add(-60*time.Second)), now))
	assert.False(t, verifyTOTPAt(secret, codeAt(t, secret, now.Add(60*time.Second)), now))
}

func TestVerifyTOTPRejectsGarbage(t *testing.T) {
	secret, _, err := generateTwoFactorSecret("alice@example.com")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)

	assert.False(t, verifyTOTPAt(secret, "000000", now))
	assert.False(t, verifyTOTPAt(secret, "not-a-code", now))
	assert.False(t, verifyTOTPAt(secret, "", now))
}
