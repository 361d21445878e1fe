// ABOUTME: Raw ADC sample to PCM16 conversion
// ABOUTME: Centers, scales and saturates unsigned ADC codes of any bit depth <= 16
package audio

import (
	"fmt"
	"math"
)

// DefaultResolutionBits is the ADC resolution of the microphone front end
const DefaultResolutionBits = 12

// DefaultResolution is the 12-bit converter used by ConvertAdcSampleToPcm
var DefaultResolution = MustResolution(DefaultResolutionBits)

// Resolution holds the midpoint, shift and mask for one ADC bit depth.
// All three are derived from the bit count in NewResolution.
type Resolution struct {
	bits     uint8
	midpoint int32
	shift    uint8
	mask     uint16
}

// NewResolution builds a converter for bits in [1, 16]
func NewResolution(bits int) (Resolution, error) {
	if bits < 1 || bits > PCM16 {
		return Resolution{}, fmt.Errorf("unsupported ADC resolution: %d bits (supported: 1-16)", bits)
	}

	return Resolution{
		bits:     uint8(bits),
		midpoint: int32(1) << (bits - 1),
		shift:    uint8(PCM16 - bits),
		mask:     uint16((uint32(1) << bits) - 1),
	}, nil
}

// MustResolution is NewResolution for constant bit depths
func MustResolution(bits int) Resolution {
	r, err := NewResolution(bits)
	if err != nil {
		panic(err)
	}
	return r
}

// Bits returns the ADC bit depth
func (r Resolution) Bits() int { return int(r.bits) }

// Midpoint returns the raw code that maps to zero
func (r Resolution) Midpoint() uint16 { return uint16(r.midpoint) }

// Mask returns the largest valid raw code
func (r Resolution) Mask() uint16 { return r.mask }

// Shift returns the left shift applied after centering
func (r Resolution) Shift() int { return int(r.shift) }

// ToPcm converts one raw sample. Codes above the mask are over-range and
// are pinned to full scale, so they saturate instead of wrapping to zero.
func (r Resolution) ToPcm(sample uint16) int16 {
	masked := sample & r.mask
	if sample > r.mask {
		masked = r.mask
	}
	centered := int32(masked) - r.midpoint
	scaled := centered * (int32(1) << r.shift)

	if scaled > math.MaxInt16 {
		scaled = math.MaxInt16
	} else if scaled < math.MinInt16 {
		scaled = math.MinInt16
	}

	return int16(scaled)
}

// ConvertBlock converts src into dst and returns the number of samples written
func (r Resolution) ConvertBlock(dst []int16, src []uint16) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = r.ToPcm(src[i])
	}
	return n
}

// ConvertAdcSampleToPcm converts a 12-bit ADC sample to signed 16-bit PCM
func ConvertAdcSampleToPcm(sample uint16) int16 {
	return DefaultResolution.ToPcm(sample)
}
