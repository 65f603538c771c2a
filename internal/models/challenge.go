package models

import "time"

type Purpose string

const (
	PurposeLogin          Purpose = "login"
	PurposeAudioUpload    Purpose = "audio_upload"
	PurposeForgotPassword Purpose = "forgot_password"
	PurposeLanguageChange Purpose = "language_change"
)

// ChallengeCodeLength is the number of decimal digits in a one-time code.
const ChallengeCodeLength = 6

func ParsePurpose(s string) (Purpose, bool) {
	switch p := Purpose(s); p {
	case PurposeLogin, PurposeAudioUpload, PurposeForgotPassword, PurposeLanguageChange:
		return p, true
	}
	return "", false
}

// Challenge is the persisted half of a one-time code. The code itself is
// never stored, only its hash.
type Challenge struct {
	Identifier string    `json:"identifier"`
	Purpose    Purpose   `json:"purpose"`
	CodeHash   string    `json:"-"`
	Nonce      string    `json:"-"`
	Attempts   int       `json:"attempts"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Live reports whether the challenge can still be verified at now.
func (c *Challenge) Live(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}
