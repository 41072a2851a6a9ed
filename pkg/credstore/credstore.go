package credstore

import "time"

// StoredCredentials are the long-lived artifacts worth keeping between
// processes: the device token (skips re-verifying MFA on later logins) and
// the refresh token. Passwords are never stored.
type StoredCredentials struct {
	DeviceToken  string    `json:"device_token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Store persists auth artifacts per user identifier. Implementations must
// make Save atomic: a crash mid-write leaves the previous record readable.
type Store interface {
	// Load returns the saved record for id, or (nil, nil) when none exists.
	Load(id string) (*StoredCredentials, error)

	// Save overwrites the record for id atomically.
	Save(id string, creds *StoredCredentials) error

	// Clear removes the record for id. Removing a missing record is not an
	// error.
	Clear(id string) error
}
