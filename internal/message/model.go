package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Node is the single conversation collection in the record store.
const Node = "message"

// Blob path layout shared by client and server.
const (
	ImagesPrefix     = "images/"
	AvatarPrefix     = "avatar/"
	BackgroundPath   = "background_chat/background"
	BackgroundCached = "backgroundLayout.jpg"
)

// Message is one record of the conversation. Optional fields are pointers
// so that an absent field survives a round trip as absent.
type Message struct {
	Name        *string `json:"name"`
	Text        *string `json:"message"`
	ID          *string `json:"messageId"`
	PhotoURL    *string `json:"photoUrl"`
	UserID      *string `json:"userId"`
	TimeMessage *string `json:"timeMessage"`
	AvatarURL   *string `json:"avatarUrl"`
}

// Child is one keyed node of a snapshot. Value is kept raw so each child can
// be decoded on its own.
type Child struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Snapshot is a full, ordered read of the conversation node.
type Snapshot struct {
	Children []Child `json:"children"`
}

// Frame is what the change feed sends over the socket.
type Frame struct {
	Type     string  `json:"type"`
	Children []Child `json:"children,omitempty"`
}

const FrameSnapshot = "snapshot"

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Deref returns *p or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Equal compares every field by value, treating nil and non-nil as different.
func (m Message) Equal(o Message) bool {
	return eq(m.Name, o.Name) &&
		eq(m.Text, o.Text) &&
		eq(m.ID, o.ID) &&
		eq(m.PhotoURL, o.PhotoURL) &&
		eq(m.UserID, o.UserID) &&
		eq(m.TimeMessage, o.TimeMessage) &&
		eq(m.AvatarURL, o.AvatarURL)
}

func eq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// HasImage reports whether the message renders as an image row.
func (m Message) HasImage() bool { return m.PhotoURL != nil }

// Decode parses one child value. JSON null is reported as ok=false with no
// error: the node exists but holds nothing.
func Decode(raw json.RawMessage) (Message, bool, error) {
	var p *Message
	if err := json.Unmarshal(raw, &p); err != nil {
		return Message{}, false, err
	}
	if p == nil {
		return Message{}, false, nil
	}
	return *p, true, nil
}

// FormatTime renders t as H:mm, hour unpadded.
func FormatTime(t time.Time) string {
	return fmt.Sprintf("%d:%02d", t.Hour(), t.Minute())
}

// ImagePath is the blob path of a message image uploaded at t.
func ImagePath(t time.Time) string {
	return fmt.Sprintf("%simage_%d.jpg", ImagesPrefix, t.UnixMilli())
}

// AvatarPath is the blob path of a user's avatar.
func AvatarPath(userID string) string {
	return AvatarPrefix + userID + ".jpg"
}
