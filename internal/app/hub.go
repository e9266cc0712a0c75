package app

import (
	"github.com/rs/zerolog/log"

	"github.com/colabhq/syncrelay/internal/core"
	"github.com/colabhq/syncrelay/internal/domain"
	"github.com/colabhq/syncrelay/internal/metrics"
	"github.com/colabhq/syncrelay/internal/protocol"
)

// Hub wires the registry and the backpressure policy into the
// connection path. It owns no transport state; adapters call into it
// with decoded-enough frames and it answers with frames to send back
// to the origin, while fanout to siblings happens inside the session.
type Hub struct {
	Sessions core.SessionFactory
	Policy   Policy
}

// Join attaches the peer to its session and returns the frames that
// open the sync handshake: the server's version vector (step1) plus
// the awareness state of every peer already present.
func (h *Hub) Join(name domain.SessionName, id core.ConnID, ps core.PeerSession) (core.SessionService, []core.Frame) {
	sess := h.Sessions.Join(name, id, ps)

	frames := []core.Frame{protocol.EncodeSync(protocol.SyncStep1, sess.VersionVector())}
	for peerID, state := range sess.Awareness() {
		frames = append(frames, protocol.EncodeAwareness(protocol.AwarenessUpdate, string(peerID), state))
	}
	return sess, frames
}

// HandleFrame processes one inbound frame from an active connection
// and returns any direct replies for the origin. A non-nil error is a
// protocol violation: the caller must close that connection, and only
// that connection; shared state is untouched by a failed merge.
func (h *Hub) HandleFrame(sess core.SessionService, id core.ConnID, data core.Frame) ([]core.Frame, error) {
	m, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	metrics.FramesRelayed.Inc()
	metrics.BytesRelayed.Add(float64(len(data)))

	switch m.Type {
	case protocol.MessageSync:
		return h.handleSync(sess, id, m, data)
	case protocol.MessageAwareness:
		h.handleAwareness(sess, id, m)
		return nil, nil
	}
	return nil, protocol.ErrUnknownMessageType
}

func (h *Hub) handleSync(sess core.SessionService, id core.ConnID, m protocol.Message, data core.Frame) ([]core.Frame, error) {
	switch m.Sync {
	case protocol.SyncStep1:
		diff, err := sess.Diff(m.Payload)
		if err != nil {
			return nil, err
		}
		// Empty step2 still closes the handshake for the client.
		return []core.Frame{protocol.EncodeSync(protocol.SyncStep2, diff)}, nil

	case protocol.SyncStep2, protocol.SyncUpdate:
		res, err := sess.MergeAndBroadcast(id, m.Payload, data)
		if err != nil {
			return nil, err
		}
		h.applyPolicy(sess, res)
		return nil, nil
	}
	return nil, protocol.ErrUnknownSyncType
}

func (h *Hub) handleAwareness(sess core.SessionService, id core.ConnID, m protocol.Message) {
	// The connection id is authoritative; whatever peer id the client
	// wrote is discarded before rebroadcast.
	var res core.PublishResult
	if m.Flag == protocol.AwarenessLeave {
		res = sess.ClearAwareness(id, protocol.EncodeAwareness(protocol.AwarenessLeave, string(id), nil))
	} else {
		res = sess.SetAwareness(id, m.Payload, protocol.EncodeAwareness(protocol.AwarenessUpdate, string(id), m.Payload))
	}
	h.applyPolicy(sess, res)
}

// Leave runs the CLOSED-state cleanup: broadcast the awareness
// removal to remaining members, then detach (which may evict the
// session).
func (h *Hub) Leave(name domain.SessionName, sess core.SessionService, id core.ConnID) {
	res := sess.ClearAwareness(id, protocol.EncodeAwareness(protocol.AwarenessLeave, string(id), nil))
	h.applyPolicy(sess, res)
	h.Sessions.Detach(name, id)
}

func (h *Hub) applyPolicy(sess core.SessionService, res core.PublishResult) {
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(sess, slow) {
		case KickPeer:
			metrics.PeersDropped.Inc()
			log.Warn().Str("module", "app.hub").Str("session", string(sess.Name())).Str("peer", string(slow.Meta().ID)).Msg("kicking slow peer")
			slow.Conn().Close()
		case MarkSlow, DropFrame, NoAction:
		}
	}
}
