// ABOUTME: Binary block message encoding and parsing
// ABOUTME: Frames one encoded capture block with its sequence and timestamp
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// BlockMessageType is the binary message type ID for captured blocks
	BlockMessageType = 4

	// BlockHeaderSize is 1 byte type + 4 byte sequence + 8 byte timestamp
	BlockHeaderSize = 1 + 4 + 8
)

// BlockMessage is one binary message carrying a captured block
type BlockMessage struct {
	Sequence  uint32 // transfer engine sequence number
	Timestamp int64  // server clock, microseconds
	Payload   []byte // encoded audio
}

// AppendBlock appends the wire form of a block message to dst
func AppendBlock(dst []byte, seq uint32, timestamp int64, payload []byte) []byte {
	dst = append(dst, BlockMessageType)
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	return append(dst, payload...)
}

// ParseBlock parses a binary block message. The payload aliases data.
func ParseBlock(data []byte) (BlockMessage, error) {
	if len(data) < BlockHeaderSize {
		return BlockMessage{}, fmt.Errorf("block message too short: %d bytes", len(data))
	}
	if data[0] != BlockMessageType {
		return BlockMessage{}, fmt.Errorf("unknown binary message type: %d", data[0])
	}

	return BlockMessage{
		Sequence:  binary.BigEndian.Uint32(data[1:5]),
		Timestamp: int64(binary.BigEndian.Uint64(data[5:BlockHeaderSize])),
		Payload:   data[BlockHeaderSize:],
	}, nil
}
