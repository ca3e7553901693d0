// Package wrbuilder constructs verbs.WorkRequest values for each of the
// five work request kinds the original design distinguishes (Send,
// RdmaRead, RdmaWrite, WriteWithImm, Recv), and owns the wr_id side table
// that replaces the original's raw-pointer-as-wr_id trick.
//
// The original Rust implementation packed a pointer to a completion flag
// directly into wr_id for WRITE_WITH_IMM, and used an arbitrary constant
// for RECV. A Go rewrite cannot stash a live pointer in a uint64 and trust
// it to survive a GC cycle, so IDs here are monotonically increasing
// integers handed out by a Table, which callers use to look up whatever
// state the completion needs to drive (a channel to close, a slot index to
// release) instead of the completion queue handing state back directly.
package wrbuilder

import (
	"sync"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// Table hands out wr_ids and lets the completion daemon recover whatever
// value was registered against one when its completion arrives. It is safe
// for concurrent use.
type Table[T any] struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]T
}

// NewTable creates an empty wr_id table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries: make(map[uint64]T),
	}
}

// Register allocates a new wr_id bound to value and returns it.
func (t *Table[T]) Register(value T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := t.next
	t.entries[id] = value
	return id
}

// Take removes and returns the value registered for id. ok is false if no
// such id was registered (or it was already taken), which the completion
// daemon treats as a protocol error.
func (t *Table[T]) Take(id uint64) (value T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok = t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return value, ok
}

// Send builds a two-sided SEND work request. Kept for completeness of the
// typed WR surface; the connection engine's data path never issues it
// (only WriteWithImm and Recv are used end to end).
func Send(id uint64, sges []verbs.ScatterGatherElement) verbs.WorkRequest {
	return verbs.WorkRequest{ID: id, Opcode: verbs.OpSend, SGEs: sges}
}

// RdmaRead builds a one-sided RDMA READ work request.
func RdmaRead(id uint64, sges []verbs.ScatterGatherElement, remoteAddr uint64, remoteKey uint32) verbs.WorkRequest {
	return verbs.WorkRequest{
		ID:         id,
		Opcode:     verbs.OpRdmaRead,
		SGEs:       sges,
		RemoteAddr: remoteAddr,
		RemoteKey:  remoteKey,
	}
}

// RdmaWrite builds a one-sided RDMA WRITE work request (no immediate data,
// no receiver-side completion).
func RdmaWrite(id uint64, sges []verbs.ScatterGatherElement, remoteAddr uint64, remoteKey uint32) verbs.WorkRequest {
	return verbs.WorkRequest{
		ID:         id,
		Opcode:     verbs.OpRdmaWrite,
		SGEs:       sges,
		RemoteAddr: remoteAddr,
		RemoteKey:  remoteKey,
	}
}

// WriteWithImm builds the one WR kind the data path actually issues: an
// RDMA WRITE carrying immediate data the peer's completion queue surfaces,
// used here to carry the release credit owed to the peer (0 for none).
func WriteWithImm(id uint64, sges []verbs.ScatterGatherElement, remoteAddr uint64, remoteKey uint32, imm uint32) verbs.WorkRequest {
	return verbs.WorkRequest{
		ID:         id,
		Opcode:     verbs.OpWriteWithImm,
		SGEs:       sges,
		RemoteAddr: remoteAddr,
		RemoteKey:  remoteKey,
		ImmData:    imm,
	}
}

// Recv builds a RECV work request. Each inbound WRITE_WITH_IMM consumes one
// posted RECV, but its completion is recognized by opcode rather than by
// this wr_id, so callers typically pass 0; the table above is for send-side
// bookkeeping only.
func Recv(id uint64, sges []verbs.ScatterGatherElement) verbs.WorkRequest {
	return verbs.WorkRequest{ID: id, Opcode: verbs.OpRecv, SGEs: sges}
}
