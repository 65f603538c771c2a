package models

import "time"

type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

func ParseIdentifierType(s string) (IdentifierType, bool) {
	switch t := IdentifierType(s); t {
	case IdentifierEmail, IdentifierPhone:
		return t, true
	}
	return "", false
}

// Account is the slice of the profile this layer touches: lookup by email
// or phone and the password hash.
type Account struct {
	AccountBucket int       `db:"account_bucket"`
	Email         string    `db:"email"`
	Phone         string    `db:"phone"`
	PasswordHash  string    `db:"password_hash"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type PasswordResetRequest struct {
	Identifier  string         `json:"identifier" db:"identifier"`
	Type        IdentifierType `json:"type" db:"identifier_type"`
	CivilDay    string         `json:"civilDay" db:"civil_day"`
	RequestedAt time.Time      `json:"requestedAt" db:"requested_at"`
}
