// ABOUTME: Audio output package for monitoring a microphone stream
// ABOUTME: Provides Output interface and an Oto implementation
// Package output plays received PCM16 blocks on the host's speakers.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(16000, 1)
//	err = out.Write(samples)
package output
