// ABOUTME: Audio decoder package for received microphone streams
// ABOUTME: Provides Decoder interface and implementations for PCM, Opus
// Package decode turns received wire payloads back into PCM16 samples.
//
// Supports: PCM (16-bit little-endian), Opus
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(payload)
package decode
