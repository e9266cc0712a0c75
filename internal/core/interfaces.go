package core

import "github.com/colabhq/syncrelay/internal/domain"

// Frame is a raw binary payload as read from or written to a socket.
type Frame []byte

// ConnID identifies one attached socket for its lifetime.
type ConnID string

// PeerConn abstracts the outbound half of a transport connection.
// Owned by the adapter; the adapter must Close() it.
type PeerConn interface {
	TrySend(Frame) error
	Close()
}

// PeerSession binds domain.Peer meta and its transport endpoint.
// This is what a session stores and fans out to.
type PeerSession interface {
	Meta() *domain.Peer
	Conn() PeerConn
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SentTo  int
	Dropped []PeerSession
}

// PeerDTO is a read-only view for APIs (no transport fields).
type PeerDTO struct {
	ID          domain.PeerID `json:"id"`
	DisplayName string        `json:"display_name"`
}

// SessionService is the core-facing API of one shared-document
// session. It owns the document, the membership set and the awareness
// map; every mutation is serialized internally, which makes
// merge+broadcast a per-session critical section. It never touches
// transport resources beyond TrySend.
type SessionService interface {
	Name() domain.SessionName
	MemberCount() int
	MembersSnapshot() []PeerDTO

	Attach(id ConnID, ps PeerSession)
	Detach(id ConnID) (remaining int)
	Peer(id ConnID) (PeerSession, bool)

	// VersionVector and Diff expose the document's sync handshake.
	// MergeAndBroadcast applies an update and fans the original frame
	// out to every member except from, atomically with the merge.
	VersionVector() []byte
	Diff(vector []byte) ([]byte, error)
	MergeAndBroadcast(from ConnID, update []byte, frame Frame) (PublishResult, error)

	SetAwareness(from ConnID, state []byte, frame Frame) PublishResult
	ClearAwareness(from ConnID, frame Frame) PublishResult
	Awareness() map[ConnID][]byte

	Broadcast(from ConnID, frame Frame) PublishResult
}

type SessionInfo struct {
	Name        domain.SessionName `json:"name"`
	MemberCount int                `json:"client_count"`
}

// SessionFactory creates and evicts sessions by name. Join resolves
// the session and attaches the connection in one step; a separate
// lookup-then-attach would let an eviction slip in between.
type SessionFactory interface {
	Join(name domain.SessionName, id ConnID, ps PeerSession) SessionService
	Detach(name domain.SessionName, id ConnID)
	List() []SessionInfo
	Shutdown()
}
