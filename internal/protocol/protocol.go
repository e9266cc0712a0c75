// Package protocol defines the binary frame format spoken over a
// relay WebSocket. Every frame is an envelope of uvarint-tagged
// fields; payload bytes inside the envelope are opaque to this
// package.
//
// Sync frames carry the document handshake and incremental updates:
// step1 announces the sender's version vector, step2 answers with the
// operations the receiver was missing, update carries new operations
// to merge and rebroadcast.
package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnknownSyncType    = errors.New("unknown sync type")
)

type MessageType uint64

const (
	MessageSync      MessageType = 0
	MessageAwareness MessageType = 1
)

type SyncType uint64

const (
	SyncStep1  SyncType = 0
	SyncStep2  SyncType = 1
	SyncUpdate SyncType = 2
)

type AwarenessFlag uint64

const (
	AwarenessUpdate AwarenessFlag = 0
	AwarenessLeave  AwarenessFlag = 1
)

// Message is a decoded frame. Sync is meaningful only for
// MessageSync frames; Flag and PeerID only for MessageAwareness.
//
// On inbound awareness frames the PeerID is advisory: the relay
// always substitutes the authoritative connection id before storing
// or rebroadcasting, so a client cannot impersonate a sibling.
type Message struct {
	Type    MessageType
	Sync    SyncType
	Flag    AwarenessFlag
	PeerID  string
	Payload []byte
}

func EncodeSync(st SyncType, payload []byte) []byte {
	b := binary.AppendUvarint(nil, uint64(MessageSync))
	b = binary.AppendUvarint(b, uint64(st))
	b = binary.AppendUvarint(b, uint64(len(payload)))
	return append(b, payload...)
}

func EncodeAwareness(flag AwarenessFlag, peerID string, state []byte) []byte {
	b := binary.AppendUvarint(nil, uint64(MessageAwareness))
	b = binary.AppendUvarint(b, uint64(flag))
	b = binary.AppendUvarint(b, uint64(len(peerID)))
	b = append(b, peerID...)
	b = binary.AppendUvarint(b, uint64(len(state)))
	return append(b, state...)
}

func Decode(frame []byte) (Message, error) {
	var m Message
	mt, rest, ok := readUvarint(frame)
	if !ok {
		return m, ErrMalformedFrame
	}
	switch MessageType(mt) {
	case MessageSync:
		m.Type = MessageSync
		st, rest, ok := readUvarint(rest)
		if !ok {
			return m, ErrMalformedFrame
		}
		if SyncType(st) > SyncUpdate {
			return m, ErrUnknownSyncType
		}
		m.Sync = SyncType(st)
		m.Payload, rest, ok = readBytes(rest)
		if !ok || len(rest) != 0 {
			return m, ErrMalformedFrame
		}
		return m, nil
	case MessageAwareness:
		m.Type = MessageAwareness
		flag, rest, ok := readUvarint(rest)
		if !ok {
			return m, ErrMalformedFrame
		}
		if AwarenessFlag(flag) > AwarenessLeave {
			return m, ErrMalformedFrame
		}
		m.Flag = AwarenessFlag(flag)
		var id []byte
		id, rest, ok = readBytes(rest)
		if !ok {
			return m, ErrMalformedFrame
		}
		m.PeerID = string(id)
		m.Payload, rest, ok = readBytes(rest)
		if !ok || len(rest) != 0 {
			return m, ErrMalformedFrame
		}
		return m, nil
	default:
		return m, ErrUnknownMessageType
	}
}

func readUvarint(b []byte) (uint64, []byte, bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, b, false
	}
	return v, b[n:], true
}

func readBytes(b []byte) ([]byte, []byte, bool) {
	n, rest, ok := readUvarint(b)
	if !ok || uint64(len(rest)) < n {
		return nil, b, false
	}
	return append([]byte(nil), rest[:n]...), rest[n:], true
}
