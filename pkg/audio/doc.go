// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Block and the ADC to PCM16 converter
// Package audio provides the sample types shared by the capture pipeline.
//
// This package defines:
//   - Format: codec, sample rate, channel count, bit depth and block size
//   - Block: one converted capture buffer with its sequence number
//   - Resolution: raw ADC code to signed 16-bit PCM conversion
//
// Raw samples are normalized to the ADC resolution (over-range codes pin to
// full scale), centered on the midpoint and shifted up to fill 16 bits.
// Results are saturated, never rejected.
//
// Example:
//
//	pcm := audio.ConvertAdcSampleToPcm(2048) // 0 for a 12-bit ADC
//
//	res, _ := audio.NewResolution(10)
//	n := res.ConvertBlock(dst, raw)
package audio
