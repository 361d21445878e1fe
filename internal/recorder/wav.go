// ABOUTME: WAV recorder for captured microphone blocks
// ABOUTME: Streams PCM16 to disk and patches the RIFF sizes on Close
package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ausculsound/micstream/pkg/audio"
)

const (
	headerSize  = 44
	pcmBitDepth = 16

	// longest run of lost blocks replaced with silence
	maxGapFill = 256
)

// Recorder writes published blocks to a mono 16-bit WAV file. Blocks lost
// upstream are replaced with silence so the recording keeps real time.
type Recorder struct {
	path       string
	sampleRate int

	mu        sync.Mutex
	file      *os.File
	dataBytes int64
	nextSeq   uint32
	started   bool
	gaps      uint64
	pad       []byte
}

// Create opens path for writing and reserves the WAV header
func Create(path string, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wav output: %w", err)
	}

	header, err := wavHeader(0, sampleRate, 1, pcmBitDepth)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("build wav header: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}

	return &Recorder{path: path, sampleRate: sampleRate, file: f}, nil
}

// Path returns the output file path
func (r *Recorder) Path() string { return r.path }

// WriteBlock appends block to the recording
func (r *Recorder) WriteBlock(block audio.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return fmt.Errorf("recorder closed")
	}

	if r.started && block.Sequence != r.nextSeq {
		missing := block.Sequence - r.nextSeq
		// a sequence that moved backwards is a new stream, not a gap
		if missing < 1<<31 {
			r.gaps += uint64(missing)
			fill := min(int(missing), maxGapFill)
			if err := r.writeSilence(fill * len(block.Samples)); err != nil {
				return err
			}
		}
	}
	r.started = true
	r.nextSeq = block.Sequence + 1

	return r.write(appendPCM(nil, block.Samples))
}

// Gaps returns how many blocks were missing from the sequence
func (r *Recorder) Gaps() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gaps
}

// Close finalizes the header and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil

	header, err := wavHeader(int(r.dataBytes), r.sampleRate, 1, pcmBitDepth)
	if err != nil {
		f.Close()
		return fmt.Errorf("build wav header: %w", err)
	}
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav header: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav output: %w", err)
	}
	return nil
}

func (r *Recorder) write(data []byte) error {
	n, err := r.file.Write(data)
	r.dataBytes += int64(n)
	if err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	return nil
}

func (r *Recorder) writeSilence(samples int) error {
	need := samples * 2
	if len(r.pad) < need {
		r.pad = make([]byte, need)
	}
	return r.write(r.pad[:need])
}

func appendPCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, headerSize))
	buf.WriteString("RIFF")
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	buf.WriteString("WAVEfmt ")
	fmtChunk := []interface{}{
		uint32(16),
		uint16(1), // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	}
	for _, v := range fmtChunk {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteString("data")
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
