package models

import (
	"time"

	"github.com/gocql/gocql"
)

// MaxLoginHistory caps how many records listLogins returns.
const MaxLoginHistory = 20

type LoginRecord struct {
	AccountID        string     `json:"email" db:"account_id"`
	RecordID         gocql.UUID `json:"id" db:"record_id"`
	Browser          string     `json:"browser" db:"browser"`
	OS               string     `json:"os" db:"os"`
	DeviceType       string     `json:"deviceType" db:"device_type"`
	SourceAddress    string     `json:"ip" db:"-"`
	ScreenResolution string     `json:"screenResolution" db:"screen_resolution"`
	Locale           string     `json:"language" db:"locale"`
	ObservedAt       time.Time  `json:"timestamp" db:"observed_at"`

	// Encrypted source address as stored.
	SourceAddressCT  string `json:"-" db:"source_address_ct"`
	SourceAddressDEK string `json:"-" db:"source_address_dek"`
	SourceKeyID      string `json:"-" db:"source_key_id"`
}
