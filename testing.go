package rdmaconn

import (
	"context"
	"fmt"
	"net"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// NewSimPair builds two already-connected Conns wired together through
// verbs.Sim instead of real hardware, handshaking over an in-process
// net.Pipe rather than a TCP listener. It exists for tests and examples
// that need a working connection without a second process to dial.
//
// Each side gets its own Sim provider, matching how two distinct hosts
// would each own a separate device; clientOpts/serverOpts may both be nil
// to take the library defaults.
func NewSimPair(ctx context.Context, clientOpts, serverOpts *Options) (client, server *Conn, err error) {
	clientOpts = clientOpts.withDefaults()
	serverOpts = serverOpts.withDefaults()

	clientProvider := verbs.NewSim(1)
	serverProvider := verbs.NewSim(2)

	cQP, cSendCQ, cRecvCQ, cRecvTracker, err := buildQP(clientProvider, clientOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("rdmaconn: sim pair: build client QP: %w", err)
	}
	sQP, sSendCQ, sRecvCQ, sRecvTracker, err := buildQP(serverProvider, serverOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("rdmaconn: sim pair: build server QP: %w", err)
	}

	// Pair before either side leaves RESET: the real handshake moves a QP
	// to INIT as its very first step, and Sim routes writes by following
	// this link rather than by any address a real NIC would resolve.
	if err := verbs.Pair(cQP, sQP); err != nil {
		return nil, nil, fmt.Errorf("rdmaconn: sim pair: %w", err)
	}

	clientAux, serverAux := net.Pipe()

	type result struct {
		conn *Conn
		err  error
	}
	clientCh := make(chan result, 1)
	go func() {
		c, err := handshakeAndWire(ctx, clientAux, clientProvider, cQP, cSendCQ, cRecvCQ, cRecvTracker, clientOpts)
		clientCh <- result{c, err}
	}()

	server, err = handshakeAndWire(ctx, serverAux, serverProvider, sQP, sSendCQ, sRecvCQ, sRecvTracker, serverOpts)
	clientResult := <-clientCh
	if err != nil {
		if clientResult.conn != nil {
			clientResult.conn.Close()
		}
		return nil, nil, fmt.Errorf("rdmaconn: sim pair: server handshake: %w", err)
	}
	if clientResult.err != nil {
		server.Close()
		return nil, nil, fmt.Errorf("rdmaconn: sim pair: client handshake: %w", clientResult.err)
	}
	return clientResult.conn, server, nil
}
