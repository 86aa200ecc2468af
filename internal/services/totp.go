package services

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const twoFactorIssuer = "FlowCRM"

// generateTwoFactorSecret produces a fresh TOTP secret and the otpauth URL
// an authenticator app enrolls with.
func generateTwoFactorSecret(account string) (secret, otpauthURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      twoFactorIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// verifyTOTPAt checks a 6-digit code against the secret at the given time,
// tolerating the standard one-step clock skew in either direction. Codes from
// two or more steps away are rejected.
func verifyTOTPAt(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
