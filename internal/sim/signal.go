// ABOUTME: Analog signal sources for the simulated microphone
// ABOUTME: Sine test tone plus looping MP3 and FLAC file inputs
package sim

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Signal is the analog input seen by the simulated ADC, as mono PCM16 levels
type Signal interface {
	// Read fills samples and returns how many were written
	Read(samples []int16) (int, error)

	// SampleRate returns the native rate of the signal
	SampleRate() int

	// Name describes the signal for logs and the status screen
	Name() string

	Close() error
}

// OpenSignal returns a signal for path. An empty path selects a 440Hz tone.
// File signals must already be at sampleRate; nothing is resampled.
func OpenSignal(path string, sampleRate int) (Signal, error) {
	if path == "" {
		return NewTone(sampleRate, 440.0, 0.5), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("signal file not found: %s", path)
	}

	var (
		sig Signal
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		sig, err = NewMP3Signal(path)
	case ".flac":
		sig, err = NewFLACSignal(path)
	default:
		return nil, fmt.Errorf("unsupported signal format: %s (supported: .mp3, .flac)", ext)
	}
	if err != nil {
		return nil, err
	}

	if sig.SampleRate() != sampleRate {
		sig.Close()
		return nil, fmt.Errorf("signal %s is %dHz, capture runs at %dHz", sig.Name(), sig.SampleRate(), sampleRate)
	}

	return sig, nil
}

// Tone generates a sine wave
type Tone struct {
	sampleIndex uint64
	sampleMu    sync.Mutex
	frequency   float64
	amplitude   float64 // 0..1 of full scale
	sampleRate  int
}

// NewTone creates a sine generator at frequency Hz
func NewTone(sampleRate int, frequency, amplitude float64) *Tone {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Tone{
		frequency:  frequency,
		amplitude:  amplitude,
		sampleRate: sampleRate,
	}
}

func (s *Tone) Read(samples []int16) (int, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	for i := range samples {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		v := math.Sin(2 * math.Pi * s.frequency * t)
		samples[i] = int16(v * math.MaxInt16 * s.amplitude)
	}
	s.sampleIndex += uint64(len(samples))

	return len(samples), nil
}

func (s *Tone) SampleRate() int { return s.sampleRate }
func (s *Tone) Name() string    { return fmt.Sprintf("Tone %.0fHz", s.frequency) }
func (s *Tone) Close() error    { return nil }

// MP3Signal loops an MP3 file. The left channel is the microphone input.
type MP3Signal struct {
	file       *os.File
	decoder    *mp3.Decoder
	sampleRate int
	name       string
	buf        []byte
}

// NewMP3Signal opens an MP3 file as a signal
func NewMP3Signal(filePath string) (*MP3Signal, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	log.Printf("Loaded MP3 signal: %s (sample rate: %d Hz)", name, decoder.SampleRate())

	return &MP3Signal{
		file:       f,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
		name:       name,
	}, nil
}

func (s *MP3Signal) Read(samples []int16) (int, error) {
	// decoder output is interleaved stereo int16
	need := len(samples) * 4
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.decoder, buf)
	frames := n / 4
	for i := 0; i < frames; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*4:]))
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
			return frames, fmt.Errorf("failed to seek to start: %w", seekErr)
		}
		decoder, decErr := mp3.NewDecoder(s.file)
		if decErr != nil {
			return frames, fmt.Errorf("failed to create new decoder: %w", decErr)
		}
		s.decoder = decoder
		return frames, nil
	}
	if err != nil {
		return frames, err
	}

	return frames, nil
}

func (s *MP3Signal) SampleRate() int { return s.sampleRate }
func (s *MP3Signal) Name() string    { return s.name }
func (s *MP3Signal) Close() error    { return s.file.Close() }

// FLACSignal loops a FLAC file. Channel 0 is the microphone input.
type FLACSignal struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	bitDepth   int
	name       string
	pending    []int32
}

// NewFLACSignal opens a FLAC file as a signal
func NewFLACSignal(filePath string) (*FLACSignal, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	info := stream.Info
	log.Printf("Loaded FLAC signal: %s (sample rate: %d Hz, bit depth: %d)",
		name, info.SampleRate, info.BitsPerSample)

	return &FLACSignal{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		bitDepth:   int(info.BitsPerSample),
		name:       name,
	}, nil
}

func (s *FLACSignal) Read(samples []int16) (int, error) {
	n := 0
	for n < len(samples) {
		if len(s.pending) == 0 {
			frame, err := s.stream.ParseNext()
			if err == io.EOF {
				if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
					return n, fmt.Errorf("failed to seek to start: %w", seekErr)
				}
				stream, decErr := flac.New(s.file)
				if decErr != nil {
					return n, fmt.Errorf("failed to create new stream: %w", decErr)
				}
				s.stream = stream
				continue
			}
			if err != nil {
				return n, err
			}
			s.pending = frame.Subframes[0].Samples
			continue
		}

		copied := min(len(s.pending), len(samples)-n)
		for i := 0; i < copied; i++ {
			samples[n+i] = scaleTo16(s.pending[i], s.bitDepth)
		}
		s.pending = s.pending[copied:]
		n += copied
	}

	return n, nil
}

func (s *FLACSignal) SampleRate() int { return s.sampleRate }
func (s *FLACSignal) Name() string    { return s.name }
func (s *FLACSignal) Close() error    { return s.file.Close() }

func scaleTo16(sample int32, bitDepth int) int16 {
	shift := bitDepth - 16
	if shift > 0 {
		return int16(sample >> shift)
	}
	return int16(sample << -shift)
}
