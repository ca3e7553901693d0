package rdmaconn

import (
	"context"
	"net"

	"github.com/ehrlich-b/go-rdmaconn/internal/handshake"
	"github.com/ehrlich-b/go-rdmaconn/internal/recvbuf"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// Dial actively establishes a connection: it opens an auxiliary TCP
// stream to addr, creates a queue pair and completion queues against
// provider, and drives the handshake to RTS. provider abstracts the verbs
// surface (device, PD, QP/CQ creation, memory registration); binding it to
// real ibverbs hardware is outside this module's scope, so callers
// typically pass a *verbs.Sim in a single process, or a future
// hardware-backed Provider built elsewhere.
func Dial(ctx context.Context, addr string, provider verbs.Provider, opts *Options) (*Conn, error) {
	opts = opts.withDefaults()

	aux, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, NewError("Dial", ErrCodeHandshakeFailed, err.Error())
	}

	conn, err := establish(ctx, aux, provider, opts)
	if err != nil {
		aux.Close()
		return nil, err
	}
	return conn, nil
}

// establish runs the handshake over aux and builds a Conn from the result.
// Both Dial and Listener.Accept share it: the handshake itself is
// symmetric, so there is nothing active- or passive-specific left once the
// stream is open.
func establish(ctx context.Context, aux handshake.Stream, provider verbs.Provider, opts *Options) (*Conn, error) {
	qp, sendCQ, recvCQ, recvTracker, err := buildQP(provider, opts)
	if err != nil {
		return nil, err
	}
	return handshakeAndWire(ctx, aux, provider, qp, sendCQ, recvCQ, recvTracker, opts)
}

// handshakeAndWire runs the RTR/RTS handshake over an already-built queue
// pair and wires the result into a Conn. Split out from establish so a
// caller that built (and, for the sim provider, paired) its own QP pair
// ahead of time can skip straight to the handshake.
func handshakeAndWire(ctx context.Context, aux handshake.Stream, provider verbs.Provider, qp verbs.QP, sendCQ, recvCQ verbs.CQ, recvTracker *recvbuf.Tracker, opts *Options) (*Conn, error) {
	hs, err := handshake.Do(ctx, aux, qp, recvTracker.MR(), uint32(opts.Config.RecvBuffer), opts.Config.RQECount)
	if err != nil {
		qp.Destroy()
		sendCQ.Destroy()
		recvCQ.Destroy()
		provider.DeregMR(recvTracker.MR())
		return nil, WrapError("Dial", err)
	}

	return newConn(ctx, provider, qp, sendCQ, recvCQ, recvTracker, hs, opts)
}

// buildQP creates a fresh RESET-state queue pair with its completion
// queues and a registered recv buffer, shared setup between Dial and
// Listener.Accept.
func buildQP(provider verbs.Provider, opts *Options) (verbs.QP, verbs.CQ, verbs.CQ, *recvbuf.Tracker, error) {
	sendCQ, err := provider.CreateCQ(opts.Config.MaxCQE)
	if err != nil {
		return nil, nil, nil, nil, WrapError("Dial", err)
	}
	recvCQ, err := provider.CreateCQ(opts.Config.MaxCQE)
	if err != nil {
		sendCQ.Destroy()
		return nil, nil, nil, nil, WrapError("Dial", err)
	}
	qp, err := provider.CreateQP(sendCQ, recvCQ, opts.Config.RQECount, opts.Config.RQECount)
	if err != nil {
		sendCQ.Destroy()
		recvCQ.Destroy()
		return nil, nil, nil, nil, WrapError("Dial", err)
	}

	recvBuf := make([]byte, int64(opts.Config.RecvBuffer))
	recvTracker, err := recvbuf.New(provider, recvBuf, uint32(opts.Config.ReleaseNotifyThreshold))
	if err != nil {
		qp.Destroy()
		sendCQ.Destroy()
		recvCQ.Destroy()
		return nil, nil, nil, nil, WrapError("Dial", err)
	}

	return qp, sendCQ, recvCQ, recvTracker, nil
}
