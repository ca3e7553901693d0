// Package constants holds the configuration defaults and protocol constants
// named throughout the connection engine's component design. Values here are
// the library defaults; callers may override them through internal/config.
package constants

import "time"

// Queue and completion depth defaults.
const (
	// DefaultRQECount is the default depth of the recv queue, and equals
	// MaxSending (the ceiling on outstanding unacknowledged sends).
	DefaultRQECount = 1023
	MaxSending      = DefaultRQECount

	// MaxCQE is the maximum completion queue entry count.
	MaxCQE = 32767

	// DefaultGIDIndex selects which GID table entry the handshake queries
	// when building an Endpoint.
	DefaultGIDIndex = 1
)

// Buffer size defaults, in bytes.
const (
	DefaultSendBufferSize = 16 << 20 // 16MiB
	DefaultRecvBufferSize = 16 << 20 // 16MiB

	// MinLengthToNotifyRelease is the release-credit threshold below which
	// the recv-buffer tracker batches release notifications instead of
	// sending one per message.
	MinLengthToNotifyRelease = 8 << 10 // 8KiB
)

// Completion-daemon polling constants.
//
// The daemon drains the completion queue in bounded batches rather than one
// entry at a time, and backs off with a fixed sleep when a poll returns
// nothing, trading a small amount of latency for not spinning a core at
// 100% CPU while a connection is idle.
const (
	// PollBatchSize is the maximum number of completions drained per poll.
	PollBatchSize = 100

	// EmptyPollBackoff is how long the completion daemon sleeps after a
	// poll that returned zero completions.
	EmptyPollBackoff = 10 * time.Millisecond

	// AllocRetryBackoffMin/Max are retry-backoff bounds for allocation.
	// No code reads them: internal/ring blocks Alloc on a condition
	// variable that Release signals, with no timed retry.
	AllocRetryBackoffMin = 5 * time.Millisecond
	AllocRetryBackoffMax = 10 * time.Millisecond
)

// QP attribute values for the INIT -> RTR -> RTS transitions. The
// verbs.Provider interface takes no QP attributes, so nothing passes these
// to a provider; verbs.Sim checks only the order of the transitions.
const (
	PathMTU         = 1024 // IBV_MTU_1024 equivalent
	MaxDestRdAtomic = 1
	MinRnrTimer     = 18
	HopLimit        = 255
	Timeout         = 14
	RetryCnt        = 6
	RnrRetry        = 6
	MaxRdAtomic     = 1
)
