// ABOUTME: Capture session configuration
// ABOUTME: Sample rate, block size, pins and validation
package capture

import (
	"fmt"

	"github.com/ausculsound/micstream/pkg/audio"
)

const (
	DefaultSampleRate = 16000
	DefaultBufferSize = 256
	DefaultChannels   = 1

	// Sample width in bytes as moved by the transfer engine
	SampleBytes = 2
)

// Config describes one capture session. It is copied by New and never
// changes while the session runs.
type Config struct {
	Channels   int
	SampleRate uint32 // Hz
	BufferSize int    // samples per ping-pong buffer

	ResolutionBits int // 0 selects audio.DefaultResolutionBits

	MicInputPin  Pin
	MicEnablePin Pin
	DebugPin     Pin // toggled on every completion, NoPin to disable
}

// DefaultConfig returns the 16 kHz mono configuration of the microphone board
func DefaultConfig() Config {
	return Config{
		Channels:       DefaultChannels,
		SampleRate:     DefaultSampleRate,
		BufferSize:     DefaultBufferSize,
		ResolutionBits: audio.DefaultResolutionBits,
		MicInputPin:    NoPin,
		MicEnablePin:   NoPin,
		DebugPin:       NoPin,
	}
}

func (c *Config) applyDefaults() {
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.ResolutionBits == 0 {
		c.ResolutionBits = audio.DefaultResolutionBits
	}
}

// Validate reports configuration the controller cannot run with.
// A zero sample rate is accepted; TimerPeriod clamps it.
func (c Config) Validate() error {
	if c.Channels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono capture)", c.Channels)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if _, err := audio.NewResolution(c.ResolutionBits); err != nil {
		return err
	}
	return nil
}

// BufferBytes returns the size of one buffer in bytes
func (c Config) BufferBytes() int {
	return c.BufferSize * SampleBytes
}

// Format returns the PCM format produced from this configuration
func (c Config) Format(codec string) audio.Format {
	return audio.Format{
		Codec:      codec,
		SampleRate: int(c.SampleRate),
		Channels:   c.Channels,
		BitDepth:   audio.PCM16,
		BlockSize:  c.BufferSize,
	}
}
