// Package sendpool implements the local send pool: a registered byte
// buffer carved up by a ring allocator into per-message slots. A caller
// reserves a slot before copying payload bytes into it and posting a
// WRITE_WITH_IMM; the slot is returned to the pool once the completion
// daemon observes the matching send completion.
package sendpool

import (
	"context"

	"github.com/ehrlich-b/go-rdmaconn/internal/ring"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// Slot is a reserved span of the local send buffer.
type Slot struct {
	Offset uint64
	Bytes  []byte
}

// Pool owns the local send buffer's registration and its ring allocator.
type Pool struct {
	mr  verbs.MemoryRegion
	buf []byte
	r   *ring.Ring
}

// New registers buf (sized per constants.DefaultSendBufferSize by default)
// with provider and wraps it in a ring allocator.
func New(provider verbs.Provider, buf []byte) (*Pool, error) {
	mr, err := provider.RegMR(buf)
	if err != nil {
		return nil, err
	}
	return &Pool{
		mr:  mr,
		buf: buf,
		r:   ring.New(0, uint64(len(buf))),
	}, nil
}

// MR returns the registration for this pool's buffer.
func (p *Pool) MR() verbs.MemoryRegion { return p.mr }

// Alloc reserves size bytes, blocking until a previous slot is Released if
// the pool is full.
func (p *Pool) Alloc(ctx context.Context, size uint64) (Slot, error) {
	off, err := p.r.Alloc(ctx, size)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Offset: off, Bytes: p.buf[off : off+size]}, nil
}

// Release returns the oldest outstanding slot to the pool. Must be called
// in the order slots were allocated, matching the order send completions
// arrive on an RC queue pair.
func (p *Pool) Release() {
	p.r.Release()
}

// Close unblocks any goroutine blocked in Alloc; used during Conn
// shutdown.
func (p *Pool) Close() {
	p.r.Close()
}

// LKey is the local key of a slot's backing registration, needed to build
// the SGE for the WR that writes it out.
func (p *Pool) LKey() uint32 { return p.mr.LKey }

// Outstanding returns the number of bytes currently allocated but not yet
// released, for occupancy metrics.
func (p *Pool) Outstanding() uint64 { return p.r.Outstanding() }
