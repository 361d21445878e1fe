// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats and converted PCM blocks
package audio

const (
	// Codec names used on the wire
	CodecPCM  = "pcm"
	CodecOpus = "opus"

	// PCM16 is the bit depth of converted samples
	PCM16 = 16
)

// Format describes a captured audio stream
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	BlockSize  int // samples per captured block
}

// Block is one captured buffer after conversion to PCM
type Block struct {
	Sequence  uint32  // transfer engine sequence number
	Timestamp int64   // capture clock (microseconds)
	Samples   []int16 // signed 16-bit PCM
}

// BlockDurationMicros returns how long one block of the format lasts
func (f Format) BlockDurationMicros() int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return int64(f.BlockSize) * 1_000_000 / int64(f.SampleRate)
}

// Peak returns the largest absolute sample value in samples
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
