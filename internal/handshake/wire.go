// Package handshake drives the auxiliary out-of-band exchange that brings
// a queue pair up: each side serializes its Endpoint, exchanges it over a
// reliable byte stream (default TCP), drives the QP through INIT -> RTR ->
// RTS, then exchanges each side's initial RemoteMR descriptor the same
// way.
package handshake

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// EndpointWireSize is the encoded size of an Endpoint record: a 16-byte
// GID, a little-endian u32 QPN, a little-endian u16 LID, and 4 reserved
// bytes kept zero, reserved for a future port/version field.
const EndpointWireSize = 16 + 4 + 2 + 4

// RemoteMRWireSize is the encoded size of a RemoteMR descriptor: a
// little-endian u64 address, u32 length, u32 rkey.
const RemoteMRWireSize = 8 + 4 + 4

// MarshalEndpoint encodes ep as gid[16] || qpn_le_u32 || lid_le_u16 ||
// reserved[4].
func MarshalEndpoint(ep verbs.Endpoint) []byte {
	buf := make([]byte, EndpointWireSize)
	copy(buf[0:16], ep.GID[:])
	binary.LittleEndian.PutUint32(buf[16:20], ep.QPN)
	binary.LittleEndian.PutUint16(buf[20:22], ep.LID)
	return buf
}

// UnmarshalEndpoint decodes a record produced by MarshalEndpoint.
func UnmarshalEndpoint(buf []byte) (verbs.Endpoint, error) {
	if len(buf) != EndpointWireSize {
		return verbs.Endpoint{}, fmt.Errorf("handshake: endpoint record must be %d bytes, got %d", EndpointWireSize, len(buf))
	}
	var ep verbs.Endpoint
	copy(ep.GID[:], buf[0:16])
	ep.QPN = binary.LittleEndian.Uint32(buf[16:20])
	ep.LID = binary.LittleEndian.Uint16(buf[20:22])
	return ep, nil
}

// MarshalRemoteMR encodes mr as addr_le_u64 || length_le_u32 || rkey_le_u32.
func MarshalRemoteMR(mr verbs.RemoteMR) []byte {
	buf := make([]byte, RemoteMRWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], mr.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], mr.Length)
	binary.LittleEndian.PutUint32(buf[12:16], mr.RKey)
	return buf
}

// UnmarshalRemoteMR decodes a record produced by MarshalRemoteMR.
func UnmarshalRemoteMR(buf []byte) (verbs.RemoteMR, error) {
	if len(buf) != RemoteMRWireSize {
		return verbs.RemoteMR{}, fmt.Errorf("handshake: remote MR record must be %d bytes, got %d", RemoteMRWireSize, len(buf))
	}
	return verbs.RemoteMR{
		Addr:   binary.LittleEndian.Uint64(buf[0:8]),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
		RKey:   binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// writeFull writes buf in full, translating a short write into an error
// rather than silently truncating, matching io.Writer's contract.
func writeFull(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
