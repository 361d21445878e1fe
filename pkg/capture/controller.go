// ABOUTME: Capture controller driving the ADC and ping-pong transfer engine
// ABOUTME: Owns the buffers, the session state machine and the completion handler
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ausculsound/micstream/pkg/audio"
)

var (
	// ErrChannelUnavailable is returned by Start when no transfer channel can be allocated
	ErrChannelUnavailable = errors.New("transfer channel unavailable")

	// ErrInvalidState is returned for lifecycle calls not allowed in the current state
	ErrInvalidState = errors.New("invalid capture state")

	// ErrInvalidBuffer is returned by Read for selectors other than 0 and 1
	ErrInvalidBuffer = errors.New("buffer selector must be 0 or 1")

	// ErrReadTooLarge is returned by Read when length exceeds one buffer
	ErrReadTooLarge = errors.New("read length exceeds buffer size")
)

// State is the capture session state
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BlockFunc receives each completed buffer. It runs in the transfer engine's
// completion context: it must return quickly and must not retain block past
// the next completion of the same buffer.
type BlockFunc func(block []uint16)

// Stats is a snapshot of controller counters
type Stats struct {
	State          State
	Blocks         uint64
	LastSequence   uint32
	CompletedIndex int
}

// Controller runs one capture session at a time
type Controller struct {
	cfg        Config
	resolution audio.Resolution
	hw         Hardware
	buffers    *DoubleBuffer

	// Lifecycle calls serialize on mu. The completion path never takes it.
	mu      sync.Mutex
	channel Channel

	state     atomic.Int32
	onReceive atomic.Pointer[BlockFunc]
	completed atomic.Uint32
	lastSeq   atomic.Uint32
	blocks    atomic.Uint64
	debugHigh atomic.Bool

	// Debug enables lifecycle logging
	Debug bool
}

// New validates cfg and allocates both buffers. The controller starts Configured.
func New(cfg Config, hw Hardware) (*Controller, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	if hw.Peripheral == nil || hw.Engine == nil || hw.Pins == nil {
		return nil, fmt.Errorf("peripheral, transfer engine and pins are required")
	}

	c := &Controller{
		cfg:        cfg,
		resolution: audio.MustResolution(cfg.ResolutionBits),
		hw:         hw,
		buffers:    NewDoubleBuffer(cfg.BufferSize),
	}
	c.state.Store(int32(StateConfigured))

	return c, nil
}

// Config returns the session configuration
func (c *Controller) Config() Config { return c.cfg }

// Resolution returns the converter matching the configured ADC bit depth
func (c *Controller) Resolution() audio.Resolution { return c.resolution }

// Buffers exposes the ping-pong store
func (c *Controller) Buffers() *DoubleBuffer { return c.buffers }

// State returns the current session state
func (c *Controller) State() State { return State(c.state.Load()) }

// OnReceive registers fn for every completed block, replacing any previous
// registration. A nil fn clears it.
func (c *Controller) OnReceive(fn BlockFunc) {
	if fn == nil {
		c.onReceive.Store(nil)
		return
	}
	c.onReceive.Store(&fn)
}

// Start powers the microphone, configures the ADC and arms the ping-pong
// transfer. If no transfer channel is available it returns an error wrapping
// ErrChannelUnavailable and the controller stays in its previous state.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != StateConfigured && st != StateStopped {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, st)
	}

	c.powerUp()

	if err := c.hw.Engine.Init(); err != nil {
		c.powerDown()
		return fmt.Errorf("init transfer engine: %w", err)
	}

	ch, err := c.hw.Engine.AllocateChannel()
	if err != nil {
		c.powerDown()
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	cycles := TimerPeriod(c.hw.Peripheral.ClockHz(), c.cfg.SampleRate)
	if c.Debug {
		log.Printf("[DEBUG] ADC clock %dHz, sample rate %dHz, timer period %d cycles",
			c.hw.Peripheral.ClockHz(), c.cfg.SampleRate, cycles)
	}

	err = c.hw.Peripheral.Configure(PeripheralConfig{
		TimerCycles:    cycles,
		ResolutionBits: c.cfg.ResolutionBits,
		Alignment:      AlignRight,
		FIFOWakeup:     true,
	})
	if err != nil {
		c.hw.Engine.FreeChannel(ch)
		c.powerDown()
		return fmt.Errorf("configure peripheral: %w", err)
	}

	c.completed.Store(0)
	c.debugHigh.Store(false)

	err = c.hw.Engine.ArmPingPong(ch, c.buffers.Buffer(0), c.buffers.Buffer(1),
		c.hw.Peripheral.DataRegister(), SampleBytes, c.OnTransferComplete)
	if err != nil {
		c.hw.Engine.FreeChannel(ch)
		c.hw.Peripheral.Reset()
		c.powerDown()
		return fmt.Errorf("arm ping-pong transfer: %w", err)
	}

	c.channel = ch
	c.state.Store(int32(StateRunning))
	c.hw.Engine.StartTrigger()

	log.Printf("Capture started: %dHz, %d-sample buffers, %d-bit ADC",
		c.cfg.SampleRate, c.cfg.BufferSize, c.cfg.ResolutionBits)

	return nil
}

// OnTransferComplete is the transfer engine's completion entry point. It hands
// the completed buffer to the registered BlockFunc, then publishes its index.
// It never blocks or allocates and always asks the engine to continue.
func (c *Controller) OnTransferComplete(sequence uint32) bool {
	block := c.buffers.CompletedBufferFromSequence(sequence)
	if fn := c.onReceive.Load(); fn != nil {
		(*fn)(block)
	}

	c.completed.Store(uint32(BufferIndexFromSequence(sequence)))
	c.lastSeq.Store(sequence)
	c.blocks.Add(1)

	if c.cfg.DebugPin != NoPin {
		level := !c.debugHigh.Load()
		c.debugHigh.Store(level)
		c.hw.Pins.Write(c.cfg.DebugPin, level)
	}

	return true
}

// CompletedIndex returns the buffer that most recently completed
func (c *Controller) CompletedIndex() int {
	return int(c.completed.Load())
}

// Read copies length bytes of buffer selector into dst, little-endian, and
// returns the number of bytes copied. It does not synchronize with the
// transfer engine: the caller must finish before that buffer completes again.
func (c *Controller) Read(dst []byte, selector int, length int) (int, error) {
	if c.buffers == nil {
		return 0, ErrInvalidState
	}
	buf := c.buffers.Buffer(selector)
	if buf == nil {
		return 0, ErrInvalidBuffer
	}
	if length < 0 || length > c.cfg.BufferBytes() {
		return 0, fmt.Errorf("%w: %d > %d", ErrReadTooLarge, length, c.cfg.BufferBytes())
	}
	if len(dst) < length {
		return 0, io.ErrShortBuffer
	}

	i := 0
	for ; i+SampleBytes <= length; i += SampleBytes {
		binary.LittleEndian.PutUint16(dst[i:], buf[i/SampleBytes])
	}
	if i < length {
		// odd length: low byte of the next sample
		dst[i] = byte(buf[i/SampleBytes])
	}

	return length, nil
}

// ReadSamples copies buffer selector into dst and returns the samples copied
func (c *Controller) ReadSamples(dst []uint16, selector int) (int, error) {
	if c.buffers == nil {
		return 0, ErrInvalidState
	}
	buf := c.buffers.Buffer(selector)
	if buf == nil {
		return 0, ErrInvalidBuffer
	}
	return copy(dst, buf), nil
}

// Pause suspends the transfer engine. Buffers, configuration and the engine's
// sequence numbering are kept.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != StateRunning {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidState, st)
	}

	c.hw.Engine.PauseTransfer(c.channel)
	c.state.Store(int32(StatePaused))
	log.Printf("Capture paused")
	return nil
}

// Resume continues a paused transfer where the engine left off
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, st)
	}

	c.hw.Engine.ResumeTransfer(c.channel)
	c.state.Store(int32(StateRunning))
	log.Printf("Capture resumed")
	return nil
}

// Stop halts the trigger, releases the transfer channel, resets the ADC and
// powers the microphone down. Only valid from Running or Paused.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != StateRunning && st != StatePaused {
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidState, st)
	}

	c.hw.Engine.StopTransfer(c.channel)
	c.hw.Engine.StopTrigger()
	c.hw.Engine.FreeChannel(c.channel)
	c.hw.Peripheral.Reset()
	c.powerDown()

	c.state.Store(int32(StateStopped))
	log.Printf("Capture stopped after %d blocks", c.blocks.Load())
	return nil
}

// Stats returns a snapshot of the session counters
func (c *Controller) Stats() Stats {
	return Stats{
		State:          c.State(),
		Blocks:         c.blocks.Load(),
		LastSequence:   c.lastSeq.Load(),
		CompletedIndex: c.CompletedIndex(),
	}
}

func (c *Controller) powerUp() {
	pins := c.hw.Pins
	if c.cfg.MicInputPin != NoPin {
		pins.SetMode(c.cfg.MicInputPin, PinInput)
	}
	if c.cfg.MicEnablePin != NoPin {
		pins.SetMode(c.cfg.MicEnablePin, PinOutput)
		pins.Write(c.cfg.MicEnablePin, true)
	}
	if c.cfg.DebugPin != NoPin {
		pins.SetMode(c.cfg.DebugPin, PinOutput)
		pins.Write(c.cfg.DebugPin, false)
	}
}

func (c *Controller) powerDown() {
	if c.cfg.MicEnablePin != NoPin {
		c.hw.Pins.Write(c.cfg.MicEnablePin, false)
	}
	if c.cfg.DebugPin != NoPin {
		c.hw.Pins.Write(c.cfg.DebugPin, false)
	}
}
