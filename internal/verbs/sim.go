package verbs

import (
	"context"
	"fmt"
	"sync"
)

// Sim is an in-process Provider that loopbacks RDMA WRITE_WITH_IMMEDIATE
// between two QPs, each wired to the other's registered memory. It plays
// the role the teacher's stub io_uring ring and mock backend play: the one
// fake standing in for hardware this module cannot bind to, exercised
// directly by tests and by the connection engine's example binary.
//
// SGE.Addr is interpreted as an offset into the buffer registered under
// SGE.LKey (rather than an absolute virtual address, which only a real
// ibverbs binding could dereference); RemoteAddr is likewise an offset into
// the buffer registered under RemoteKey.
type Sim struct {
	mu       sync.Mutex
	attr     DeviceAttr
	nextQPN  uint32
	nextRKey uint32
	mrs      map[uint32][]byte
}

// NewSim creates a simulated provider. lid is purely diagnostic; routing
// between two simulated QPs happens explicitly via Pair.
func NewSim(lid uint16) *Sim {
	return &Sim{
		attr: DeviceAttr{LID: lid, GIDIndex: 1},
		mrs:  make(map[uint32][]byte),
	}
}

func (s *Sim) DeviceAttr() (DeviceAttr, error) {
	return s.attr, nil
}

func (s *Sim) CreateCQ(depth int) (CQ, error) {
	return &simCQ{depth: depth}, nil
}

func (s *Sim) CreateQP(sendCQ, recvCQ CQ, sendDepth, recvDepth int) (QP, error) {
	scq, ok := sendCQ.(*simCQ)
	if !ok {
		return nil, fmt.Errorf("verbs: sim provider requires sim CQs")
	}
	rcq, ok := recvCQ.(*simCQ)
	if !ok {
		return nil, fmt.Errorf("verbs: sim provider requires sim CQs")
	}

	s.mu.Lock()
	s.nextQPN++
	qpn := s.nextQPN
	s.mu.Unlock()

	return &simQP{
		provider: s,
		qpn:      qpn,
		sendCQ:   scq,
		recvCQ:   rcq,
		state:    QPStateReset,
	}, nil
}

func (s *Sim) RegMR(buf []byte) (MemoryRegion, error) {
	s.mu.Lock()
	s.nextRKey++
	rkey := s.nextRKey
	s.mrs[rkey] = buf
	s.mu.Unlock()
	return MemoryRegion{
		Buf:  buf,
		LKey: rkey,
		RKey: rkey,
	}, nil
}

func (s *Sim) DeregMR(mr MemoryRegion) error {
	s.mu.Lock()
	delete(s.mrs, mr.RKey)
	s.mu.Unlock()
	return nil
}

func (s *Sim) Close() error { return nil }

func (s *Sim) bufFor(key uint32) ([]byte, error) {
	s.mu.Lock()
	buf, ok := s.mrs[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("verbs: no memory region registered for key %d", key)
	}
	return buf, nil
}

// Pair wires two QPs together so that writes posted on one land in the
// other's memory and complete on the other's recv CQ. It does not check
// either QP's state; callers pair right after CreateQP, while both QPs are
// still in RESET and before the handshake moves them to INIT.
func Pair(a, b QP) error {
	aq, ok := a.(*simQP)
	if !ok {
		return fmt.Errorf("verbs: Pair requires sim QPs")
	}
	bq, ok := b.(*simQP)
	if !ok {
		return fmt.Errorf("verbs: Pair requires sim QPs")
	}
	aq.mu.Lock()
	aq.peer = bq
	aq.mu.Unlock()
	bq.mu.Lock()
	bq.peer = aq
	bq.mu.Unlock()
	return nil
}

type simQP struct {
	provider *Sim
	qpn      uint32
	sendCQ   *simCQ
	recvCQ   *simCQ

	mu         sync.Mutex
	state      QPState
	peer       *simQP
	postedRQEs int // RECV work requests posted but not yet consumed by an inbound WRITE_WITH_IMM
}

func (q *simQP) Attr() Endpoint {
	return Endpoint{QPN: q.qpn, LID: q.provider.attr.LID}
}

func (q *simQP) Modify(ctx context.Context, target QPState, remote *Endpoint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch target {
	case QPStateInit:
		if q.state != QPStateReset {
			return fmt.Errorf("verbs: cannot move to INIT from %s", q.state)
		}
	case QPStateRTR:
		if q.state != QPStateInit {
			return fmt.Errorf("verbs: cannot move to RTR from %s", q.state)
		}
		if remote == nil {
			return fmt.Errorf("verbs: RTR transition requires a remote endpoint")
		}
	case QPStateRTS:
		if q.state != QPStateRTR {
			return fmt.Errorf("verbs: cannot move to RTS from %s", q.state)
		}
	default:
		return fmt.Errorf("verbs: unsupported target state %s", target)
	}
	q.state = target
	return nil
}

func (q *simQP) State() QPState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *simQP) PostSend(wr WorkRequest) error {
	q.mu.Lock()
	state := q.state
	peer := q.peer
	q.mu.Unlock()
	if state != QPStateRTS {
		return fmt.Errorf("verbs: PostSend requires RTS, have %s", state)
	}
	if peer == nil {
		return fmt.Errorf("verbs: QP is not paired with a remote")
	}

	switch wr.Opcode {
	case OpWriteWithImm, OpRdmaWrite:
		n, err := q.writeToPeer(peer, wr)
		if err != nil {
			return err
		}
		if wr.Opcode == OpWriteWithImm {
			peer.mu.Lock()
			if peer.postedRQEs == 0 {
				peer.mu.Unlock()
				return fmt.Errorf("verbs: peer has no posted RQE to consume (RNR)")
			}
			peer.postedRQEs--
			peer.mu.Unlock()

			peer.recvCQ.push(Completion{
				Opcode:  OpRecv,
				Status:  StatusSuccess,
				ByteLen: n,
				ImmData: wr.ImmData,
				HasImm:  true,
			})
		}
	default:
		return fmt.Errorf("verbs: sim provider does not implement opcode %s on the data path", wr.Opcode)
	}

	// The local send completes once the write has landed, releasing the
	// caller's send slot.
	q.sendCQ.push(Completion{
		WRID:   wr.ID,
		Opcode: wr.Opcode,
		Status: StatusSuccess,
	})
	return nil
}

func (q *simQP) writeToPeer(peer *simQP, wr WorkRequest) (uint32, error) {
	dst, err := peer.provider.bufFor(wr.RemoteKey)
	if err != nil {
		return 0, err
	}
	off := wr.RemoteAddr
	var total uint32
	for _, sge := range wr.SGEs {
		src, err := q.provider.bufFor(sge.LKey)
		if err != nil {
			return 0, err
		}
		start := uint64(sge.Addr)
		end := start + uint64(sge.Length)
		if end > uint64(len(src)) {
			return 0, fmt.Errorf("verbs: local SGE out of bounds")
		}
		if off+uint64(sge.Length) > uint64(len(dst)) {
			return 0, fmt.Errorf("verbs: remote write out of bounds")
		}
		n := copy(dst[off:off+uint64(sge.Length)], src[start:end])
		off += uint64(n)
		total += uint32(n)
	}
	return total, nil
}

func (q *simQP) PostRecv(wr WorkRequest) error {
	// A WRITE_WITH_IMMEDIATE on the wire does consume an RQE, same as a
	// two-sided SEND/RECV would; it just carries its own payload instead of
	// landing in the posted WR's SGE. Track posted-but-unconsumed RQEs so a
	// peer's PostSend can enforce pre-posting/replenishment the way real
	// hardware's RNR NAK would.
	q.mu.Lock()
	q.postedRQEs++
	q.mu.Unlock()
	return nil
}

func (q *simQP) Destroy() error { return nil }
