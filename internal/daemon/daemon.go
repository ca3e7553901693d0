// Package daemon implements the completion-polling daemon: the single
// per-connection task that drains both completion queues, releases send
// slots once their WRITEs land, and dispatches inbound WRITE_WITH_IMM
// completions to the recv path. Unlike a protocol with a dedicated
// credit-only message, this design piggybacks release credit on the
// immediate-data field of whatever data write happens to go out next —
// so a single inbound completion always carries both a payload length and
// an (often zero) credit value, the same way the teacher's completion
// dispatcher reads one opcode-tagged union off a shared queue rather than
// routing kinds through separate channels.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-rdmaconn/internal/constants"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
	"github.com/ehrlich-b/go-rdmaconn/internal/wrbuilder"
)

// Handlers are the callbacks the daemon dispatches completions to. Conn
// supplies these, wiring them to its sendpool/recvbuf/remotebuf
// subsystems.
type Handlers struct {
	// OnSendComplete is invoked once for each completed outbound write,
	// releasing the oldest outstanding send-pool slot.
	OnSendComplete func()

	// OnMessage is invoked when a WRITE_WITH_IMM lands, with the number of
	// payload bytes written and the immediate-data value, which is the
	// release credit the peer is returning (0 means none).
	OnMessage func(byteLen uint32, imm uint32) error
}

// Daemon polls a QP's send and recv completion queues and dispatches to
// Handlers until its context is canceled or a completion reports an error.
type Daemon struct {
	qp        verbs.QP
	sendCQ    verbs.CQ
	recvCQ    verbs.CQ
	sendTable *wrbuilder.Table[struct{}]
	handlers  Handlers

	sendBatch []verbs.Completion
	recvBatch []verbs.Completion
}

// New builds a daemon over the given queue pair and completion queues.
// sendTable must be the same table the connection engine registers each
// posted send's wr_id into before calling PostSend. qp is used to replenish
// the receive queue: each WRITE_WITH_IMM completion consumes one
// previously-posted RQE, so the daemon posts a fresh one for each such
// completion before handing it to OnMessage.
func New(qp verbs.QP, sendCQ, recvCQ verbs.CQ, sendTable *wrbuilder.Table[struct{}], h Handlers) *Daemon {
	return &Daemon{
		qp:        qp,
		sendCQ:    sendCQ,
		recvCQ:    recvCQ,
		sendTable: sendTable,
		handlers:  h,
		sendBatch: make([]verbs.Completion, constants.PollBatchSize),
		recvBatch: make([]verbs.Completion, constants.PollBatchSize),
	}
}

// Run drains completions until ctx is canceled or it encounters a
// completion with a non-success status, in which case it returns a
// descriptive error and the caller tears the connection down. It is meant
// to run as the sole body of one goroutine per connection (e.g. under an
// errgroup.Group), matching the teacher's one-thread-per-queue model.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		nSend, err := d.sendCQ.Poll(d.sendBatch)
		if err != nil {
			return fmt.Errorf("daemon: poll send CQ: %w", err)
		}
		for i := 0; i < nSend; i++ {
			if err := d.dispatchSend(d.sendBatch[i]); err != nil {
				return err
			}
		}

		nRecv, err := d.recvCQ.Poll(d.recvBatch)
		if err != nil {
			return fmt.Errorf("daemon: poll recv CQ: %w", err)
		}
		for i := 0; i < nRecv; i++ {
			if err := d.dispatchRecv(d.recvBatch[i]); err != nil {
				return err
			}
		}

		if nSend == 0 && nRecv == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(constants.EmptyPollBackoff):
			}
		}
	}
}

func (d *Daemon) dispatchSend(comp verbs.Completion) error {
	if comp.Status != verbs.StatusSuccess {
		return fmt.Errorf("daemon: send completion wr_id=%d reported non-success status", comp.WRID)
	}
	if _, ok := d.sendTable.Take(comp.WRID); !ok {
		return fmt.Errorf("daemon: send completion wr_id=%d has no registered entry", comp.WRID)
	}
	if d.handlers.OnSendComplete != nil {
		d.handlers.OnSendComplete()
	}
	return nil
}

func (d *Daemon) dispatchRecv(comp verbs.Completion) error {
	if comp.Status != verbs.StatusSuccess {
		return fmt.Errorf("daemon: recv completion reported non-success status")
	}
	if !comp.HasImm {
		return fmt.Errorf("daemon: recv completion missing immediate data; only WRITE_WITH_IMM is expected on the data path")
	}
	if d.qp != nil {
		if err := d.qp.PostRecv(wrbuilder.Recv(0, nil)); err != nil {
			return fmt.Errorf("daemon: replenish RQE: %w", err)
		}
	}
	if d.handlers.OnMessage != nil {
		return d.handlers.OnMessage(comp.ByteLen, comp.ImmData)
	}
	return nil
}
