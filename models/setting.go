package models

import "time"

// Setting represents one persisted key/value configuration entry.
// Keys are dotted paths, e.g. "chat.provider" or "providers.openai.api_key".
type Setting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Setting model
func (Setting) TableName() string {
	return "settings"
}
