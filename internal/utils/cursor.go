package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is an opaque keyset position for lists ordered by (At DESC, ID DESC).
// ID may be empty when the timestamp alone is unique enough.
type Cursor struct {
	At time.Time `json:"t"`
	ID string    `json:"i,omitempty"`
}

func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, ErrInvalidCursor
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.At.IsZero() {
		return Cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// FirstPage sorts after every real row in a DESC keyset scan.
func FirstPage() Cursor {
	return Cursor{
		At: time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
		ID: "ffffffff-ffff-ffff-ffff-ffffffffffff",
	}
}
