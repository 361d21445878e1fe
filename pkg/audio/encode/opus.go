// ABOUTME: Opus audio encoder
// ABOUTME: Accumulates captured blocks into 20ms frames and encodes them
package encode

import (
	"fmt"

	"github.com/ausculsound/micstream/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxPacketSize is the largest Opus packet
const maxPacketSize = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel in one frame

	pending []int16
	packet  []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("unsupported Opus sample rate: %d", format.SampleRate)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	// Opus frame size depends on sample rate
	frameSize := format.SampleRate / 50 // 20ms frame

	return &OpusEncoder{
		encoder:    encoder,
		sampleRate: format.SampleRate,
		channels:   format.Channels,
		frameSize:  frameSize,
		pending:    make([]int16, 0, frameSize*format.Channels*2),
		packet:     make([]byte, maxPacketSize),
	}, nil
}

// FrameSize returns the number of samples per channel in one Opus frame
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Encode buffers samples and returns one packet per completed frame
func (e *OpusEncoder) Encode(samples []int16) ([][]byte, error) {
	e.pending = append(e.pending, samples...)

	frameLen := e.frameSize * e.channels
	var packets [][]byte
	for len(e.pending) >= frameLen {
		n, err := e.encoder.Encode(e.pending[:frameLen], e.packet)
		if err != nil {
			return packets, fmt.Errorf("opus encode error: %w", err)
		}
		packets = append(packets, append([]byte(nil), e.packet[:n]...))

		rest := copy(e.pending, e.pending[frameLen:])
		e.pending = e.pending[:rest]
	}

	return packets, nil
}

// Pending returns how many samples are waiting for a full frame
func (e *OpusEncoder) Pending() int {
	return len(e.pending)
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	e.pending = e.pending[:0]
	return nil
}
