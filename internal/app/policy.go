package app

import "github.com/colabhq/syncrelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickPeer
	DropFrame
)

// Policy decides what happens to a peer whose outbound queue is full.
type Policy interface {
	OnBackPressure(sess core.SessionService, peer core.PeerSession) BackpressureAction
}

// KickSlowPolicy drops the slow connection rather than letting one
// reader stall a whole session; the client reconnects and resyncs
// through the handshake.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackPressure(sess core.SessionService, peer core.PeerSession) BackpressureAction {
	return KickPeer
}
