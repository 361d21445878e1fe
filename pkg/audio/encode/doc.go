// ABOUTME: Audio encoder package for framing captured PCM for the wire
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides encoders that turn captured PCM16 blocks into
// wire payloads.
//
// Supports: PCM (16-bit little-endian), Opus
//
// An encoder may buffer input: Opus only emits a packet per complete
// 20ms frame, so one Encode call returns zero or more payloads.
//
// Example:
//
//	encoder, err := encode.New(format)
//	payloads, err := encoder.Encode(block.Samples)
package encode
