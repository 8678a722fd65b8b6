package entity

import "time"

// ForceTwoFactorKey gates forced 2FA enrollment; value "true" enables it.
const ForceTwoFactorKey = "force_two_factor"

// Setting is a global key/value toggle stored as text.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewSetting creates a Setting stamped with at.
func NewSetting(key, value string, at time.Time) *Setting {
	return &Setting{Key: key, Value: value, UpdatedAt: at}
}
