package rdmaconn

import "github.com/ehrlich-b/go-rdmaconn/internal/constants"

// Re-export constants for public API.
const (
	DefaultRQECount          = constants.DefaultRQECount
	MaxSending               = constants.MaxSending
	MaxCQE                   = constants.MaxCQE
	DefaultGIDIndex          = constants.DefaultGIDIndex
	DefaultSendBufferSize    = constants.DefaultSendBufferSize
	DefaultRecvBufferSize    = constants.DefaultRecvBufferSize
	MinLengthToNotifyRelease = constants.MinLengthToNotifyRelease
	PollBatchSize            = constants.PollBatchSize
)
