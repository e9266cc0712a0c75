package doc

import (
	"encoding/binary"
	"sort"
)

// Updates and version vectors share a uvarint-based layout:
//
//	update:  count, then per op: len(actor) actor seq len(payload) payload
//	vector:  count, then per actor: len(actor) actor seq

func EncodeUpdate(ops []Op) []byte {
	b := binary.AppendUvarint(nil, uint64(len(ops)))
	for _, op := range ops {
		b = appendString(b, op.Actor)
		b = binary.AppendUvarint(b, op.Seq)
		b = binary.AppendUvarint(b, uint64(len(op.Payload)))
		b = append(b, op.Payload...)
	}
	return b
}

func DecodeUpdate(b []byte) ([]Op, error) {
	// An empty payload is a valid empty update; step2 replies use it
	// to close the handshake when nothing is missing.
	if len(b) == 0 {
		return nil, nil
	}
	count, b, ok := readUvarint(b)
	if !ok {
		return nil, ErrMalformedUpdate
	}
	// Every op occupies at least three bytes (actor length, seq,
	// payload length), so a larger count cannot describe this buffer.
	// Checking before the preallocation keeps a hostile count from
	// requesting an absurd slice.
	if count > uint64(len(b))/3 {
		return nil, ErrMalformedUpdate
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		var op Op
		op.Actor, b, ok = readString(b)
		if !ok {
			return nil, ErrMalformedUpdate
		}
		op.Seq, b, ok = readUvarint(b)
		if !ok {
			return nil, ErrMalformedUpdate
		}
		var n uint64
		n, b, ok = readUvarint(b)
		if !ok || uint64(len(b)) < n {
			return nil, ErrMalformedUpdate
		}
		op.Payload = append([]byte(nil), b[:n]...)
		b = b[n:]
		ops = append(ops, op)
	}
	if len(b) != 0 {
		return nil, ErrMalformedUpdate
	}
	return ops, nil
}

func EncodeVector(contig map[string]uint64) []byte {
	actors := make([]string, 0, len(contig))
	for a := range contig {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	b := binary.AppendUvarint(nil, uint64(len(actors)))
	for _, a := range actors {
		b = appendString(b, a)
		b = binary.AppendUvarint(b, contig[a])
	}
	return b
}

func DecodeVector(b []byte) (map[string]uint64, error) {
	vec := make(map[string]uint64)
	if len(b) == 0 {
		return vec, nil
	}
	count, b, ok := readUvarint(b)
	if !ok {
		return nil, ErrMalformedVector
	}
	for i := uint64(0); i < count; i++ {
		var actor string
		actor, b, ok = readString(b)
		if !ok {
			return nil, ErrMalformedVector
		}
		var seq uint64
		seq, b, ok = readUvarint(b)
		if !ok {
			return nil, ErrMalformedVector
		}
		vec[actor] = seq
	}
	if len(b) != 0 {
		return nil, ErrMalformedVector
	}
	return vec, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func readUvarint(b []byte) (uint64, []byte, bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, b, false
	}
	return v, b[n:], true
}

func readString(b []byte) (string, []byte, bool) {
	n, rest, ok := readUvarint(b)
	if !ok || uint64(len(rest)) < n {
		return "", b, false
	}
	return string(rest[:n]), rest[n:], true
}
