// Package rdmaconn provides a message-oriented connection over an RDMA
// reliable-connected queue pair. A Conn exposes Send/Recv/Release on top
// of one-sided RDMA WRITE_WITH_IMMEDIATE: every send copies into a local
// ring-allocated slot, reserves a matching span of the peer's recv buffer,
// and posts a single write that carries both the payload and (piggybacked
// in its immediate-data field) any release credit this side owes the
// peer. There is no other frame kind on the wire.
package rdmaconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-rdmaconn/internal/config"
	"github.com/ehrlich-b/go-rdmaconn/internal/constants"
	"github.com/ehrlich-b/go-rdmaconn/internal/daemon"
	"github.com/ehrlich-b/go-rdmaconn/internal/handshake"
	"github.com/ehrlich-b/go-rdmaconn/internal/logging"
	"github.com/ehrlich-b/go-rdmaconn/internal/recvbuf"
	"github.com/ehrlich-b/go-rdmaconn/internal/remotebuf"
	"github.com/ehrlich-b/go-rdmaconn/internal/sendpool"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
	"github.com/ehrlich-b/go-rdmaconn/internal/wrbuilder"
)

// recvResult is one entry in Conn's recv queue: either a delivered message
// or the terminal error the daemon exited with.
type recvResult struct {
	data []byte
	err  error
}

// Conn is a message-oriented connection over a single RDMA RC queue pair.
// All exported methods are safe for concurrent use.
type Conn struct {
	cfg      config.Config
	provider verbs.Provider
	qp       verbs.QP
	sendCQ   verbs.CQ
	recvCQ   verbs.CQ

	sendPool    *sendpool.Pool
	remoteAlloc *remotebuf.Allocator
	recvTracker *recvbuf.Tracker
	sendTable   *wrbuilder.Table[struct{}]

	sendMu     sync.Mutex // serializes the admit+reserve+post critical section
	sendingSem chan struct{}

	recvCh chan recvResult

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Options configures how a Dial or Listener.Accept builds its Conn.
type Options struct {
	// Config overrides the library defaults. An all-zero Config uses
	// config.Default(); otherwise a zero RQECount, MaxCQE, SendBuffer or
	// RecvBuffer takes its default and the other fields are used as given
	// (a ReleaseNotifyThreshold of 0 queues a credit on every release).
	Config config.Config

	// Logger receives structured diagnostics; nil uses logging.Default().
	Logger *logging.Logger

	// Observer receives metrics callbacks; nil installs a MetricsObserver
	// wrapping Conn.Metrics().
	Observer Observer
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	out := *o
	def := config.Default()
	if out.Config == (config.Config{}) {
		out.Config = def
	}
	c := &out.Config
	if c.RQECount == 0 {
		c.RQECount = def.RQECount
	}
	if c.MaxCQE == 0 {
		c.MaxCQE = def.MaxCQE
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.RecvBuffer == 0 {
		c.RecvBuffer = def.RecvBuffer
	}
	if out.Logger == nil {
		out.Logger = logging.Default()
	}
	return &out
}

// newConn wires a handshake-completed QP into a running Conn: it builds
// the send pool, remote-buffer allocator, recv tracker, and completion
// daemon, then starts the daemon under an errgroup so a fatal completion
// tears the whole connection down together.
func newConn(ctx context.Context, provider verbs.Provider, qp verbs.QP, sendCQ, recvCQ verbs.CQ, recvTracker *recvbuf.Tracker, hs handshake.Result, opts *Options) (*Conn, error) {
	opts = opts.withDefaults()

	sendBuf := make([]byte, int64(opts.Config.SendBuffer))
	sendPool, err := sendpool.New(provider, sendBuf)
	if err != nil {
		return nil, WrapError("Dial", err)
	}

	remoteAlloc := remotebuf.New(hs.PeerRecvMR)

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	groupCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(groupCtx)

	c := &Conn{
		cfg:         opts.Config,
		provider:    provider,
		qp:          qp,
		sendCQ:      sendCQ,
		recvCQ:      recvCQ,
		sendPool:    sendPool,
		remoteAlloc: remoteAlloc,
		recvTracker: recvTracker,
		sendTable:   wrbuilder.NewTable[struct{}](),
		sendingSem:  make(chan struct{}, opts.Config.RQECount),
		recvCh:      make(chan recvResult, opts.Config.RQECount),
		metrics:     metrics,
		observer:    observer,
		logger:      opts.Logger,
		group:       group,
		groupCtx:    groupCtx,
		cancel:      cancel,
	}

	d := daemon.New(qp, sendCQ, recvCQ, c.sendTable, daemon.Handlers{
		OnSendComplete: c.onSendComplete,
		OnMessage:      c.onMessage,
	})

	group.Go(func() error {
		err := d.Run(groupCtx)
		c.failRecv(NewError("daemon", ErrCodeConnectionClosed, "completion daemon exited"))
		return err
	})

	c.logger.Info("connection established", "peer_qpn", hs.PeerEndpoint.QPN, "peer_lid", hs.PeerEndpoint.LID)
	return c, nil
}

func (c *Conn) onSendComplete() {
	c.sendPool.Release()
	<-c.sendingSem
	c.observer.ObserveSendPoolDepth(uint32(c.sendPool.Outstanding()))
}

func (c *Conn) onMessage(byteLen, imm uint32) error {
	if imm != 0 {
		if err := c.remoteAlloc.Credit(imm); err != nil {
			return err
		}
		c.observer.ObserveCredit(uint64(imm))
	}
	data, err := c.recvTracker.Deliver(byteLen)
	if err != nil {
		return err
	}
	select {
	case c.recvCh <- recvResult{data: data}:
	default:
		return fmt.Errorf("conn: recv queue overflow; peer exceeded admission limit")
	}
	return nil
}

func (c *Conn) failRecv(err error) {
	select {
	case c.recvCh <- recvResult{err: err}:
	default:
	}
}

// Send copies slices into the local send pool (in order, concatenated),
// reserves matching space on the peer's recv buffer, and posts a single
// RDMA WRITE_WITH_IMMEDIATE. Send returns once the write is posted; it
// does not wait for the completion. Errors surface later through Recv if
// the connection terminates.
func (c *Conn) Send(ctx context.Context, slices ...[]byte) error {
	var total uint64
	for _, s := range slices {
		total += uint64(len(s))
	}
	if total == 0 {
		return NewError("Send", ErrCodeInvalidArgument, "send requires at least one non-empty byte slice")
	}
	if total > uint64(c.cfg.SendBuffer) {
		return NewError("Send", ErrCodeInvalidArgument, "message exceeds send buffer size")
	}

	slot, err := c.sendPool.Alloc(ctx, total)
	if err != nil {
		return WrapError("Send", err)
	}
	off := 0
	for _, s := range slices {
		off += copy(slot.Bytes[off:], s)
	}

	select {
	case c.sendingSem <- struct{}{}:
	case <-ctx.Done():
		return WrapError("Send", ctx.Err())
	case <-c.groupCtx.Done():
		return NewError("Send", ErrCodeConnectionClosed, "connection closed")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	remoteOff, err := c.remoteAlloc.Reserve(ctx, total)
	if err != nil {
		<-c.sendingSem
		return WrapError("Send", err)
	}
	credit := c.recvTracker.PopCredit()

	id := c.sendTable.Register(struct{}{})
	wr := wrbuilder.WriteWithImm(
		id,
		[]verbs.ScatterGatherElement{{Addr: uintptr(slot.Offset), Length: uint32(total), LKey: c.sendPool.LKey()}},
		c.remoteAlloc.RemoteAddr(remoteOff),
		c.remoteAlloc.RKey(),
		credit,
	)

	start := time.Now()
	if err := c.qp.PostSend(wr); err != nil {
		<-c.sendingSem
		return WrapError("Send", err)
	}
	c.observer.ObserveSend(total, uint64(time.Since(start).Nanoseconds()), true)
	return nil
}

// Recv blocks until the peer's next message arrives, returning a slice
// into the recv buffer. The caller must call Release with the slice's
// length once done reading it, and before consuming bytes from a later
// message.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case r := <-c.recvCh:
		if r.err != nil {
			c.observer.ObserveRecv(0, false)
			return nil, r.err
		}
		c.observer.ObserveRecv(uint64(len(r.data)), true)
		return r.data, nil
	case <-ctx.Done():
		return nil, WrapError("Recv", ctx.Err())
	}
}

// Release returns n bytes of a previously delivered message to the recv
// buffer, eventually piggybacking a release-credit notification onto a
// future outgoing Send.
func (c *Conn) Release(n int) error {
	if err := c.recvTracker.Release(uint32(n)); err != nil {
		return WrapError("Release", err)
	}
	return nil
}

// Metrics returns the connection's built-in metrics collector.
func (c *Conn) Metrics() *Metrics { return c.metrics }

// Close tears down the connection: it moves any accumulated release credit
// into the pending queue (no write carries it after Close), cancels the
// completion daemon, deregisters memory, and destroys the queue pair and
// completion queues.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.recvTracker.Flush()
		c.cancel()
		c.sendPool.Close()
		c.remoteAlloc.Close()
		_ = c.group.Wait()
		c.metrics.Stop()

		if err := c.qp.Destroy(); err != nil {
			c.closeErr = WrapError("Close", err)
		}
		if err := c.sendCQ.Destroy(); err != nil && c.closeErr == nil {
			c.closeErr = WrapError("Close", err)
		}
		if err := c.recvCQ.Destroy(); err != nil && c.closeErr == nil {
			c.closeErr = WrapError("Close", err)
		}
		if err := c.provider.DeregMR(c.sendPool.MR()); err != nil && c.closeErr == nil {
			c.closeErr = WrapError("Close", err)
		}
		if err := c.provider.DeregMR(c.recvTracker.MR()); err != nil && c.closeErr == nil {
			c.closeErr = WrapError("Close", err)
		}
	})
	return c.closeErr
}
