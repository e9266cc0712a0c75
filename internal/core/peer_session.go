package core

import "github.com/colabhq/syncrelay/internal/domain"

// peerSession implements PeerSession by pairing meta + transport.
type peerSession struct {
	meta *domain.Peer
	conn PeerConn
}

func NewPeerSession(meta *domain.Peer, conn PeerConn) PeerSession {
	return &peerSession{meta: meta, conn: conn}
}

func (p *peerSession) Meta() *domain.Peer { return p.meta }
func (p *peerSession) Conn() PeerConn     { return p.conn }
