// ABOUTME: micstream wire protocol package
// ABOUTME: Defines JSON control messages and the binary block framing
// Package protocol implements the micstream wire protocol.
//
// Control messages are JSON text frames of the form
// {"type": "...", "payload": {...}}. Captured audio travels in binary
// frames: [type:1][sequence:4 BE][timestamp µs:8 BE][payload].
//
// Example:
//
//	frame := protocol.AppendBlock(nil, seq, nowMicros, pcm)
//	block, err := protocol.ParseBlock(frame)
package protocol
