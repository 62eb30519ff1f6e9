package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringArray handles JSONB string arrays
type StringArray []string

// Scan implements the Scanner interface for StringArray
func (a *StringArray) Scan(src interface{}) error {
	var source []byte
	switch v := src.(type) {
	case nil:
		*a = []string{}
		return nil
	case []byte:
		source = v
	case string:
		source = []byte(v)
	default:
		return errors.New("type assertion .([]byte) failed")
	}
	if err := json.Unmarshal(source, a); err != nil {
		return err
	}
	if *a == nil {
		*a = []string{}
	}
	return nil
}

// Value implements the Valuer interface for StringArray
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Strings returns the array as a non-nil slice.
func (a StringArray) Strings() []string {
	if a == nil {
		return []string{}
	}
	return []string(a)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
