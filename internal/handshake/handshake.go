package handshake

import (
	"context"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
	"github.com/ehrlich-b/go-rdmaconn/internal/wrbuilder"
)

// Stream is the auxiliary reliable byte stream the handshake runs over,
// ordinarily a TCP connection. Only Read/Write are required.
type Stream interface {
	io.Reader
	io.Writer
}

// Result carries everything Conn needs once the handshake completes: the
// peer's endpoint (for diagnostics) and the peer's recv-buffer descriptor
// (to seed the remote-buffer allocator).
type Result struct {
	PeerEndpoint verbs.Endpoint
	PeerRecvMR   verbs.RemoteMR
}

// Do drives a queue pair through INIT -> RTR -> RTS and exchanges each
// side's recv-buffer descriptor, in the fixed order: both sides first
// exchange Endpoints and bring the QP up, then each side pre-posts rqeCount
// immediate-only RECV work requests against its recv buffer before
// exchanging RemoteMR descriptors for it. The caller is responsible for
// creating the QP (in RESET) and registering its recv buffer before calling
// Do.
func Do(ctx context.Context, aux Stream, qp verbs.QP, localRecvMR verbs.MemoryRegion, recvBufLen uint32, rqeCount int) (Result, error) {
	if err := qp.Modify(ctx, verbs.QPStateInit, nil); err != nil {
		return Result{}, fmt.Errorf("handshake: move to INIT: %w", err)
	}

	// Each record is written while the peer's is read, so two sides that
	// both send first cannot block each other on an unbuffered net.Pipe.
	localEP := qp.Attr()
	writeErr := make(chan error, 1)
	go func() { writeErr <- writeFull(aux, MarshalEndpoint(localEP)) }()
	peerEPBuf := make([]byte, EndpointWireSize)
	if _, err := io.ReadFull(aux, peerEPBuf); err != nil {
		return Result{}, fmt.Errorf("handshake: read endpoint: %w", err)
	}
	if err := <-writeErr; err != nil {
		return Result{}, fmt.Errorf("handshake: write endpoint: %w", err)
	}
	peerEP, err := UnmarshalEndpoint(peerEPBuf)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: decode endpoint: %w", err)
	}

	if err := qp.Modify(ctx, verbs.QPStateRTR, &peerEP); err != nil {
		return Result{}, fmt.Errorf("handshake: move to RTR: %w", err)
	}
	if err := qp.Modify(ctx, verbs.QPStateRTS, nil); err != nil {
		return Result{}, fmt.Errorf("handshake: move to RTS: %w", err)
	}

	for i := 0; i < rqeCount; i++ {
		if err := qp.PostRecv(wrbuilder.Recv(0, nil)); err != nil {
			return Result{}, fmt.Errorf("handshake: pre-post recv %d/%d: %w", i+1, rqeCount, err)
		}
	}

	localMR := verbs.RemoteMR{
		Addr:   uint64(localRecvMR.Addr),
		Length: recvBufLen,
		RKey:   localRecvMR.RKey,
	}
	go func() { writeErr <- writeFull(aux, MarshalRemoteMR(localMR)) }()
	peerMRBuf := make([]byte, RemoteMRWireSize)
	if _, err := io.ReadFull(aux, peerMRBuf); err != nil {
		return Result{}, fmt.Errorf("handshake: read recv MR: %w", err)
	}
	if err := <-writeErr; err != nil {
		return Result{}, fmt.Errorf("handshake: write recv MR: %w", err)
	}
	peerMR, err := UnmarshalRemoteMR(peerMRBuf)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: decode recv MR: %w", err)
	}

	return Result{PeerEndpoint: peerEP, PeerRecvMR: peerMR}, nil
}
