// Package doc implements the mergeable document state a relay session
// holds. State is a grow-only set of operations keyed by (actor, seq);
// merging is a keyed union, so it is commutative and idempotent no
// matter how updates are interleaved. Payload bytes are opaque: chat
// messages, whiteboard strokes, code edits and permission flags all
// look the same from here.
//
// A Doc is not safe for concurrent use. The owning session serializes
// all access.
package doc

import (
	"errors"
	"sort"
)

var (
	ErrMalformedUpdate = errors.New("malformed update")
	ErrMalformedVector = errors.New("malformed version vector")
	ErrZeroSeq         = errors.New("operation with zero sequence number")
)

// Op is one unit of change. Seq numbers are per-actor, starting at 1
// and contiguous for a well-behaved author.
type Op struct {
	Actor   string
	Seq     uint64
	Payload []byte
}

type Doc struct {
	ops map[string]map[uint64][]byte
	// contig[actor] = n means ops 1..n are all present for actor.
	contig map[string]uint64
}

func New() *Doc {
	return &Doc{
		ops:    make(map[string]map[uint64][]byte),
		contig: make(map[string]uint64),
	}
}

// FromSnapshot rebuilds a document from Snapshot output. A snapshot
// is just a full update, so the two formats are interchangeable.
func FromSnapshot(b []byte) (*Doc, error) {
	d := New()
	if len(b) == 0 {
		return d, nil
	}
	if _, err := d.ApplyUpdate(b); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Doc) Len() int {
	n := 0
	for _, seqs := range d.ops {
		n += len(seqs)
	}
	return n
}

func (d *Doc) IsEmpty() bool { return len(d.ops) == 0 }

// ApplyUpdate merges an encoded update into the document and reports
// how many operations were new. Re-applying the same update is a
// no-op.
func (d *Doc) ApplyUpdate(b []byte) (applied int, err error) {
	ops, err := DecodeUpdate(b)
	if err != nil {
		return 0, err
	}
	for _, op := range ops {
		if op.Seq == 0 {
			return applied, ErrZeroSeq
		}
		seqs, ok := d.ops[op.Actor]
		if !ok {
			seqs = make(map[uint64][]byte)
			d.ops[op.Actor] = seqs
		}
		if _, dup := seqs[op.Seq]; dup {
			continue
		}
		seqs[op.Seq] = op.Payload
		applied++
		for {
			next := d.contig[op.Actor] + 1
			if _, ok := seqs[next]; !ok {
				break
			}
			d.contig[op.Actor] = next
		}
	}
	return applied, nil
}

// Append records a locally authored operation and returns it as an
// encoded single-op update, ready to send to peers.
func (d *Doc) Append(actor string, payload []byte) []byte {
	seqs, ok := d.ops[actor]
	if !ok {
		seqs = make(map[uint64][]byte)
		d.ops[actor] = seqs
	}
	var max uint64
	for s := range seqs {
		if s > max {
			max = s
		}
	}
	op := Op{Actor: actor, Seq: max + 1, Payload: payload}
	seqs[op.Seq] = payload
	for {
		next := d.contig[actor] + 1
		if _, ok := seqs[next]; !ok {
			break
		}
		d.contig[actor] = next
	}
	return EncodeUpdate([]Op{op})
}

// Snapshot serializes the full document. Output is deterministic
// (sorted by actor, then seq), so equal documents produce equal bytes.
func (d *Doc) Snapshot() []byte {
	return EncodeUpdate(d.sortedOps(nil))
}

// VersionVector summarizes contiguous per-actor coverage.
func (d *Doc) VersionVector() []byte {
	return EncodeVector(d.contig)
}

// Diff returns an update carrying every operation the remote, as
// described by its version vector, is provably missing. Operations
// the remote may already hold above its contiguous watermark are
// resent; apply is idempotent, so that is harmless.
func (d *Doc) Diff(vector []byte) ([]byte, error) {
	remote, err := DecodeVector(vector)
	if err != nil {
		return nil, err
	}
	ops := d.sortedOps(remote)
	if len(ops) == 0 {
		return nil, nil
	}
	return EncodeUpdate(ops), nil
}

// sortedOps returns ops above the given per-actor watermarks in
// deterministic order. A nil watermark map selects everything.
func (d *Doc) sortedOps(after map[string]uint64) []Op {
	actors := make([]string, 0, len(d.ops))
	for a := range d.ops {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	var out []Op
	for _, a := range actors {
		floor := after[a]
		seqs := make([]uint64, 0, len(d.ops[a]))
		for s := range d.ops[a] {
			if s > floor {
				seqs = append(seqs, s)
			}
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		for _, s := range seqs {
			out = append(out, Op{Actor: a, Seq: s, Payload: d.ops[a][s]})
		}
	}
	return out
}
