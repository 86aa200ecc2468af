package models

import "time"

// TokenPair is what a successful login or refresh hands back to the client.
// The refresh token travels only in the http-only cookie; handlers must not
// echo it in the body.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"-"`
	IssuedAt     time.Time `json:"issued_at"`
}
