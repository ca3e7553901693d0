// Package recvbuf implements the recv buffer and release-credit tracker: a
// registered buffer the peer writes into with RDMA WRITE_WITH_IMMEDIATE,
// plus a release-side ledger that turns the application's Conn.Release
// calls into a queue of pending credit values. There is no dedicated
// credit message on the wire: the oldest pending value (or 0, if none is
// pending) is popped and piggybacked onto the immediate-data field of the
// next outgoing data write, matching the wire protocol's single-frame-kind
// design.
package recvbuf

import (
	"context"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-rdmaconn/internal/ring"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// Tracker owns the local recv buffer's registration and delivers messages
// in the order their WRITE_WITH_IMM completions arrive.
type Tracker struct {
	mr       verbs.MemoryRegion
	buf      []byte
	writeSeq *ring.Ring // mirrors the peer's remotebuf.Allocator cursor

	notifyThreshold uint32

	mu            sync.Mutex
	pendingFree   uint32
	pendingCredit []uint32
}

// New registers buf with provider. notifyThreshold is the accumulated
// freed-byte count (MinLengthToNotifyRelease by default) at or above which a
// Release call enqueues a pending credit value for Conn.Send to pick up.
func New(provider verbs.Provider, buf []byte, notifyThreshold uint32) (*Tracker, error) {
	mr, err := provider.RegMR(buf)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		mr:              mr,
		buf:             buf,
		writeSeq:        ring.New(0, uint64(len(buf))),
		notifyThreshold: notifyThreshold,
	}, nil
}

// MR returns the registration for this tracker's buffer, advertised to the
// peer during the handshake as a RemoteMR.
func (t *Tracker) MR() verbs.MemoryRegion { return t.mr }

// Deliver is called by the completion daemon when a WRITE_WITH_IMM
// completion reports size bytes landed. It returns the slice of the recv
// buffer holding the message; the offset is derived from the same
// deterministic ring-allocation algorithm the peer's remotebuf.Allocator
// used to choose where to write, so both sides stay in lockstep without
// the offset itself crossing the wire.
func (t *Tracker) Deliver(size uint32) ([]byte, error) {
	off, err := t.writeSeq.Alloc(context.Background(), uint64(size))
	if err != nil {
		return nil, fmt.Errorf("recvbuf: deliver: %w", err)
	}
	return t.buf[off : off+uint64(size)], nil
}

// Release accounts for n freed bytes, corresponding exactly to one or more
// messages previously returned by Deliver, in the order they were
// delivered. Once enough bytes have accumulated, a credit value is pushed
// onto the pending-credit queue for the next Conn.Send to carry out. n
// must exactly match the size of one or more of the oldest delivered but
// not yet released messages; a mismatch indicates a caller releasing a partial
// message, which the protocol does not support.
func (t *Tracker) Release(n uint32) error {
	remaining := n
	for remaining > 0 {
		freed, err := t.releaseOne(remaining)
		if err != nil {
			return err
		}
		remaining -= freed
	}
	return nil
}

func (t *Tracker) releaseOne(maxBytes uint32) (uint32, error) {
	size := t.writeSeq.ReleaseSize()
	if uint64(maxBytes) < size {
		return 0, fmt.Errorf("recvbuf: release of %d bytes does not align to a delivered message of %d bytes", maxBytes, size)
	}
	t.writeSeq.Release()

	t.mu.Lock()
	t.pendingFree += uint32(size)
	if t.pendingFree >= t.notifyThreshold {
		t.pendingCredit = append(t.pendingCredit, t.pendingFree)
		t.pendingFree = 0
	}
	t.mu.Unlock()

	return uint32(size), nil
}

// PopCredit returns the oldest pending release-credit value, or 0 if none
// is pending. Conn.Send calls this once per outgoing message to decide the
// immediate-data value of the write it is about to post.
func (t *Tracker) PopCredit() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pendingCredit) == 0 {
		return 0
	}
	n := t.pendingCredit[0]
	t.pendingCredit = t.pendingCredit[1:]
	return n
}

// Flush forces any accumulated-but-unqueued release credit into the
// pending queue immediately, bypassing the batching threshold. Conn calls
// this on Close; Close posts no further write, so a value flushed there
// stays queued and does not reach the peer.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pendingFree == 0 {
		return
	}
	t.pendingCredit = append(t.pendingCredit, t.pendingFree)
	t.pendingFree = 0
}
