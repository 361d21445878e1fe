// ABOUTME: Unit tests for Opus encoder
// ABOUTME: Tests frame accumulation across captured blocks
package encode

import (
	"math"
	"strings"
	"testing"

	"github.com/ausculsound/micstream/pkg/audio"
)

func TestNewOpus(t *testing.T) {
	tests := []struct {
		name        string
		format      audio.Format
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid Opus 16kHz mono",
			format:  audio.Format{Codec: audio.CodecOpus, SampleRate: 16000, Channels: 1, BitDepth: 16},
			wantErr: false,
		},
		{
			name:    "valid Opus 48kHz mono",
			format:  audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 1, BitDepth: 16},
			wantErr: false,
		},
		{
			name:        "unsupported rate",
			format:      audio.Format{Codec: audio.CodecOpus, SampleRate: 44100, Channels: 1, BitDepth: 16},
			wantErr:     true,
			errContains: "unsupported Opus sample rate",
		},
		{
			name:        "invalid codec",
			format:      audio.Format{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16},
			wantErr:     true,
			errContains: "invalid codec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewOpus(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewOpus() expected error, got nil")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewOpus() error = %v, want error containing %v", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpus() unexpected error = %v", err)
			}
			encoder.Close()
		})
	}
}

func TestOpusEncoder_Accumulates(t *testing.T) {
	enc, err := NewOpus(audio.Format{Codec: audio.CodecOpus, SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatalf("NewOpus() failed: %v", err)
	}
	defer enc.Close()

	opusEnc := enc.(*OpusEncoder)
	if opusEnc.FrameSize() != 320 {
		t.Fatalf("expected 320-sample frames at 16kHz, got %d", opusEnc.FrameSize())
	}

	// 256-sample blocks: the first completes no frame, the second completes one
	block := make([]int16, 256)
	for i := range block {
		block[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	packets, err := enc.Encode(block)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(packets) != 0 {
		t.Errorf("expected no packets after 256 samples, got %d", len(packets))
	}
	if opusEnc.Pending() != 256 {
		t.Errorf("expected 256 pending samples, got %d", opusEnc.Pending())
	}

	packets, err = enc.Encode(block)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet after 512 samples, got %d", len(packets))
	}
	if opusEnc.Pending() != 192 {
		t.Errorf("expected 192 pending samples, got %d", opusEnc.Pending())
	}
	if len(packets[0]) == 0 || len(packets[0]) > maxPacketSize {
		t.Errorf("packet size %d out of range", len(packets[0]))
	}

	// a large block yields several packets at once
	packets, err = enc.Encode(make([]int16, 3*320))
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(packets) != 3 {
		t.Errorf("expected 3 packets, got %d", len(packets))
	}
	if opusEnc.Pending() != 192 {
		t.Errorf("expected 192 pending samples, got %d", opusEnc.Pending())
	}
}
