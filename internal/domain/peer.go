package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type PeerID string

// Peer represents one connected participant. DisplayName and Color
// are client-supplied presentation hints for awareness only; the
// relay never validates them against any identity.
type Peer struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color,omitempty"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(displayName, color string) (*Peer, error) {
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if displayName == "" {
		displayName = "guest"
	}
	return &Peer{ID: PeerID(uuid.NewString()), DisplayName: displayName, Color: color}, nil
}
