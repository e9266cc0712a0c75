// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxSessionNameLen = 128

var (
	ErrSessionNameEmpty   = errors.New("session name empty")
	ErrSessionNameTooLong = errors.New("session name too long")
)

// SessionName identifies one shared document, e.g. "room1-chat".
// The calling application derives it from a room id plus a purpose
// suffix; the relay only requires it to be non-empty and bounded.
type SessionName string

// Purpose is the well-known document kind suffix of a session name.
type Purpose string

const (
	PurposeChat       Purpose = "chat"
	PurposeWhiteboard Purpose = "whiteboard"
	PurposeCode       Purpose = "code"
)

// ParseSessionName validates a raw name from the connection target.
// Unknown suffixes are accepted: the relay must not couple to the
// product's current set of document kinds.
func ParseSessionName(raw string) (SessionName, error) {
	raw = strings.TrimSpace(strings.Trim(raw, "/"))
	if raw == "" {
		return "", ErrSessionNameEmpty
	}
	if len(raw) > MaxSessionNameLen {
		return "", ErrSessionNameTooLong
	}
	return SessionName(raw), nil
}

// Split returns the room id and purpose halves of the name. Names
// without a suffix are treated as a bare room id.
func (n SessionName) Split() (room string, purpose Purpose) {
	s := string(n)
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return s, ""
	}
	return s[:i], Purpose(s[i+1:])
}
