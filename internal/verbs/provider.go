package verbs

import "context"

// QP is a single reliable-connected queue pair. All methods except state
// transitions are safe to call from multiple goroutines; callers serialize
// state transitions themselves (the handshake owns them exclusively).
type QP interface {
	// Attr returns the local Endpoint needed to let a peer address this QP.
	Attr() Endpoint

	// Modify drives the queue pair to the next state. target must be the
	// state immediately following the current one (INIT -> RTR -> RTS);
	// remote is required for RTR and nil for the INIT and RTS transitions.
	Modify(ctx context.Context, target QPState, remote *Endpoint) error

	State() QPState

	// PostSend enqueues a send-queue work request. It does not block; the
	// corresponding completion arrives later via the CQ.
	PostSend(wr WorkRequest) error

	// PostRecv enqueues a recv-queue work request.
	PostRecv(wr WorkRequest) error

	Destroy() error
}

// CQ is a completion queue. Poll never blocks; callers implement their own
// backoff between empty polls.
type CQ interface {
	// Poll drains up to max completions into out, returning the number
	// written. A provider may return fewer than max even when more are
	// available; callers poll again to drain.
	Poll(out []Completion) (int, error)
	Destroy() error
}

// Provider is the abstract verbs surface the connection engine consumes.
// Binding it to real hardware (ibverbs/rdma-cm) is out of this module's
// scope; Sim in sim.go is the only implementation shipped here.
type Provider interface {
	// DeviceAttr returns the local port's LID/GID, the minimum the
	// handshake needs to build an Endpoint.
	DeviceAttr() (DeviceAttr, error)

	CreateCQ(depth int) (CQ, error)

	CreateQP(sendCQ, recvCQ CQ, sendDepth, recvDepth int) (QP, error)

	// RegMR registers buf for local and remote access, returning the keys
	// a peer needs to target it directly.
	RegMR(buf []byte) (MemoryRegion, error)

	DeregMR(mr MemoryRegion) error

	Close() error
}
