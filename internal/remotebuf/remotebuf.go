// Package remotebuf implements the remote-buffer allocator: the sender's
// mirror of the peer's recv-buffer ring, advanced by the peer's own alloc
// cursor as messages arrive and only given back space once a release
// credit notification confirms the peer has freed it. This is the same
// ring-allocator model as internal/sendpool, but the cursor here is driven
// by the wire, not by local completions.
package remotebuf

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-rdmaconn/internal/ring"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// Allocator tracks how much of a peer's registered recv buffer this side
// believes is free to target with RDMA WRITE_WITH_IMMEDIATE.
type Allocator struct {
	remote verbs.RemoteMR
	r      *ring.Ring
}

// New builds an allocator over the peer's advertised RemoteMR, exchanged
// during the handshake.
func New(remote verbs.RemoteMR) *Allocator {
	return &Allocator{
		remote: remote,
		r:      ring.New(0, uint64(remote.Length)),
	}
}

// Reserve blocks until size bytes of the peer's recv buffer are believed
// free, then returns the absolute remote offset to write into.
func (a *Allocator) Reserve(ctx context.Context, size uint64) (uint64, error) {
	return a.r.Alloc(ctx, size)
}

// Credit is called when a release notification for n bytes arrives from
// the peer. A single notification may cover several prior messages (the
// recv-buffer tracker batches small releases), so Credit releases however
// many of the oldest outstanding reservations sum to exactly n. Release
// notifications must arrive in the same order messages were sent, which
// holds because both the send queue and the peer's recv-buffer tracker
// process messages FIFO.
func (a *Allocator) Credit(n uint32) error {
	remaining := n
	for remaining > 0 {
		size := a.r.ReleaseSize()
		if uint64(remaining) < size {
			return fmt.Errorf("remotebuf: credit of %d bytes does not align to a reserved span of %d bytes", remaining, size)
		}
		a.r.Release()
		remaining -= uint32(size)
	}
	return nil
}

// RemoteAddr returns the absolute virtual address a reserved offset
// corresponds to on the peer, for building a work request's RemoteAddr
// field.
func (a *Allocator) RemoteAddr(offset uint64) uint64 {
	return a.remote.Addr + offset
}

// RKey returns the peer's remote key for this buffer.
func (a *Allocator) RKey() uint32 { return a.remote.RKey }

// Close unblocks any goroutine blocked in Reserve.
func (a *Allocator) Close() { a.r.Close() }
