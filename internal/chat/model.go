package chat

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("record belongs to another user")
	ErrBadValue  = errors.New("value must be valid JSON")
)

// maxValueBytes caps a single record value.
const maxValueBytes = 64 << 10

// PushResponse is returned when a client asks for a fresh key.
type PushResponse struct {
	Key string `json:"key"`
}

// owner is the subset of a record the server looks at. Everything else in a
// value is opaque.
type owner struct {
	UserID *string `json:"userId"`
}

// recordOwner returns the userId a value claims, if any.
func recordOwner(value json.RawMessage) (string, bool) {
	var o owner
	if err := json.Unmarshal(value, &o); err != nil || o.UserID == nil {
		return "", false
	}
	return *o.UserID, true
}
