// Package config loads the tunable knobs a Conn is built with from a YAML
// file, matching the configuration constants named throughout the
// component design. Buffer sizes are typed as datasize.ByteSize so a
// config file can write "16MiB" rather than a raw byte count.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-rdmaconn/internal/constants"
)

// Config holds the tunables a Conn is built with beyond the wire protocol
// itself. Conn reads RQECount, MaxCQE, SendBuffer, RecvBuffer and
// ReleaseNotifyThreshold; GIDIndex, PollBatchSize and EmptyPollBackoff are
// loaded and defaulted but not read by Conn, whose completion daemon uses
// the internal/constants values.
type Config struct {
	RQECount    int                `yaml:"rqe_count"`
	MaxCQE      int                `yaml:"max_cqe"`
	GIDIndex    int                `yaml:"gid_index"`
	SendBuffer  datasize.ByteSize  `yaml:"send_buffer_size"`
	RecvBuffer  datasize.ByteSize  `yaml:"recv_buffer_size"`
	ReleaseNotifyThreshold datasize.ByteSize `yaml:"release_notify_threshold"`
	PollBatchSize int              `yaml:"poll_batch_size"`
	EmptyPollBackoff time.Duration `yaml:"empty_poll_backoff"`
}

// Default returns the library's built-in defaults, matching the
// configuration constants named in internal/constants.
func Default() Config {
	return Config{
		RQECount:               constants.DefaultRQECount,
		MaxCQE:                 constants.MaxCQE,
		GIDIndex:                constants.DefaultGIDIndex,
		SendBuffer:              datasize.ByteSize(constants.DefaultSendBufferSize),
		RecvBuffer:              datasize.ByteSize(constants.DefaultRecvBufferSize),
		ReleaseNotifyThreshold:  datasize.ByteSize(constants.MinLengthToNotifyRelease),
		PollBatchSize:           constants.PollBatchSize,
		EmptyPollBackoff:        constants.EmptyPollBackoff,
	}
}

// Load reads a YAML config file at path, starting from Default() and
// overriding whatever fields the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable connection.
func (c Config) Validate() error {
	if c.RQECount <= 0 {
		return fmt.Errorf("config: rqe_count must be positive, got %d", c.RQECount)
	}
	if c.SendBuffer == 0 {
		return fmt.Errorf("config: send_buffer_size must be positive")
	}
	if c.RecvBuffer == 0 {
		return fmt.Errorf("config: recv_buffer_size must be positive")
	}
	if c.ReleaseNotifyThreshold > c.RecvBuffer {
		return fmt.Errorf("config: release_notify_threshold cannot exceed recv_buffer_size")
	}
	return nil
}
