package rdmaconn

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// Listener accepts incoming connections on an auxiliary TCP address,
// running the same handshake as Dial from the passive side.
type Listener struct {
	aux      net.Listener
	provider verbs.Provider
	opts     *Options
}

// Listen opens aux on addr and returns a Listener that builds a fresh
// queue pair and runs the RTR/RTS handshake for each accepted stream.
// provider is shared across every accepted Conn, mirroring how a single
// device/PD ordinarily backs many queue pairs.
func Listen(addr string, provider verbs.Provider, opts *Options) (*Listener, error) {
	lc := net.ListenConfig{Control: setReuseAddr}
	aux, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, NewError("Listen", ErrCodeHandshakeFailed, err.Error())
	}
	return &Listener{aux: aux, provider: provider, opts: opts.withDefaults()}, nil
}

// setReuseAddr sets SO_REUSEADDR on the listening socket before bind, so a
// restarted aux listener doesn't have to wait out TIME_WAIT on the previous
// process's socket. Matches how the teacher's internal/ctrl issues raw
// socket options through golang.org/x/sys/unix rather than a higher-level
// wrapper.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Addr returns the listener's bound auxiliary address.
func (l *Listener) Addr() net.Addr { return l.aux.Addr() }

// Accept blocks for the next incoming stream, completes the handshake over
// it, and returns a ready Conn. Callers typically loop on Accept from a
// single goroutine, handing each returned Conn off to its own worker.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	aux, err := l.aux.Accept()
	if err != nil {
		return nil, NewError("Accept", ErrCodeHandshakeFailed, err.Error())
	}

	conn, err := establish(ctx, aux, l.provider, l.opts)
	if err != nil {
		aux.Close()
		return nil, err
	}
	return conn, nil
}

// Close stops accepting new connections. Conns already returned by Accept
// are unaffected.
func (l *Listener) Close() error {
	return l.aux.Close()
}
