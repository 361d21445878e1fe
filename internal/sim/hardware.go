// ABOUTME: Simulated ADC peripheral, ping-pong transfer engine and GPIO bank
// ABOUTME: Lets the capture controller run on a host with real timing
package sim

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ausculsound/micstream/pkg/audio"
	"github.com/ausculsound/micstream/pkg/capture"
)

const (
	// DefaultClockHz matches the board's prescaled ADC clock
	DefaultClockHz = 10_000_000

	scanFIFORegister capture.Register = 0x5900_0044
)

// ErrNoChannel is returned when every transfer channel is allocated
var ErrNoChannel = errors.New("all transfer channels in use")

// ADC quantizes a Signal into raw codes at the configured resolution
type ADC struct {
	clockHz uint32
	signal  Signal

	mu         sync.Mutex
	cfg        capture.PeripheralConfig
	resolution audio.Resolution
	configured bool
	resets     int
	scratch    []int16
}

// NewADC creates a simulated ADC fed by signal
func NewADC(clockHz uint32, signal Signal) *ADC {
	return &ADC{clockHz: clockHz, signal: signal}
}

func (a *ADC) ClockHz() uint32 { return a.clockHz }

func (a *ADC) Configure(cfg capture.PeripheralConfig) error {
	res, err := audio.NewResolution(cfg.ResolutionBits)
	if err != nil {
		return err
	}
	if cfg.TimerCycles == 0 {
		return fmt.Errorf("timer period must be at least 1 cycle")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.resolution = res
	a.configured = true
	return nil
}

func (a *ADC) DataRegister() capture.Register { return scanFIFORegister }

func (a *ADC) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = capture.PeripheralConfig{}
	a.configured = false
	a.resets++
}

// Configured reports whether Configure has run since the last Reset
func (a *ADC) Configured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured
}

// EffectiveRate returns the rate the timer actually triggers at
func (a *ADC) EffectiveRate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.TimerCycles == 0 {
		return 0
	}
	return a.clockHz / uint32(a.cfg.TimerCycles)
}

// Scan fills dst with raw codes, as the FIFO would deliver them
func (a *ADC) Scan(dst []uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.configured {
		return
	}
	if cap(a.scratch) < len(dst) {
		a.scratch = make([]int16, len(dst))
	}
	levels := a.scratch[:len(dst)]

	n, err := a.signal.Read(levels)
	if err != nil {
		log.Printf("Signal read error: %v", err)
	}
	for i := n; i < len(levels); i++ {
		levels[i] = 0
	}

	for i, v := range levels {
		dst[i] = Quantize(v, a.resolution)
	}
}

// Quantize maps an analog PCM16 level to the raw code an ADC of res would
// produce. It is the inverse of audio.Resolution.ToPcm within one LSB.
func Quantize(level int16, res audio.Resolution) uint16 {
	code := (int32(level) >> res.Shift()) + int32(res.Midpoint())
	if code < 0 {
		code = 0
	}
	if code > int32(res.Mask()) {
		code = int32(res.Mask())
	}
	return uint16(code)
}

// Engine is a software ping-pong transfer engine. In realtime mode a
// goroutine completes one buffer per block period; otherwise Step drives it.
type Engine struct {
	adc      *ADC
	channels int
	realtime bool

	mu        sync.Mutex
	allocated map[capture.Channel]bool
	next      capture.Channel

	armed   bool
	channel capture.Channel
	bufs    [2][]uint16
	done    capture.CompletionFunc
	seq     uint32

	triggered bool
	paused    bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEngine creates an engine with channels transfer channels reading adc
func NewEngine(adc *ADC, channels int, realtime bool) *Engine {
	return &Engine{
		adc:       adc,
		channels:  channels,
		realtime:  realtime,
		allocated: make(map[capture.Channel]bool),
	}
}

func (e *Engine) Init() error { return nil }

func (e *Engine) AllocateChannel() (capture.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.allocated) >= e.channels {
		return 0, ErrNoChannel
	}
	for e.allocated[e.next] {
		e.next++
	}
	ch := e.next
	e.allocated[ch] = true
	e.next++
	return ch, nil
}

func (e *Engine) ArmPingPong(ch capture.Channel, bufA, bufB []uint16, source capture.Register, elementSize int, done capture.CompletionFunc) error {
	if source != scanFIFORegister {
		return fmt.Errorf("unknown source register %#x", uintptr(source))
	}
	if elementSize != capture.SampleBytes {
		return fmt.Errorf("unsupported element size %d", elementSize)
	}
	if len(bufA) == 0 || len(bufA) != len(bufB) {
		return fmt.Errorf("ping-pong buffers must be equal and non-empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allocated[ch] {
		return fmt.Errorf("channel %d not allocated", ch)
	}

	e.channel = ch
	e.bufs = [2][]uint16{bufA, bufB}
	e.done = done
	e.armed = true
	e.paused = false
	return nil
}

func (e *Engine) StartTrigger() {
	e.mu.Lock()
	if e.triggered {
		e.mu.Unlock()
		return
	}
	e.triggered = true
	start := e.realtime && e.stopChan == nil
	if start {
		e.stopChan = make(chan struct{})
	}
	stop := e.stopChan
	e.mu.Unlock()

	if start {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(stop)
		}()
	}
}

func (e *Engine) StopTrigger() {
	e.mu.Lock()
	e.triggered = false
	e.mu.Unlock()
}

func (e *Engine) StopTransfer(ch capture.Channel) {
	e.mu.Lock()
	stop := e.stopChan
	e.stopChan = nil
	e.armed = false
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	e.wg.Wait()
}

func (e *Engine) PauseTransfer(ch capture.Channel) {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *Engine) ResumeTransfer(ch capture.Channel) {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

func (e *Engine) FreeChannel(ch capture.Channel) {
	e.mu.Lock()
	delete(e.allocated, ch)
	e.mu.Unlock()
}

// Sequence returns the next sequence number the engine will report
func (e *Engine) Sequence() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Step fills the active buffer from the ADC and reports its completion.
// It returns false when the engine is not armed, triggered and unpaused.
func (e *Engine) Step() bool {
	e.mu.Lock()
	if !e.armed || !e.triggered || e.paused {
		e.mu.Unlock()
		return false
	}
	seq := e.seq
	buf := e.bufs[seq%2]
	done := e.done
	e.adc.Scan(buf)
	e.seq++
	e.mu.Unlock()

	if !done(seq) {
		e.mu.Lock()
		e.armed = false
		e.mu.Unlock()
	}
	return true
}

// BlockPeriod returns the time one buffer takes to fill at the ADC's rate
func (e *Engine) BlockPeriod() time.Duration {
	rate := e.adc.EffectiveRate()
	e.mu.Lock()
	size := len(e.bufs[0])
	e.mu.Unlock()
	if rate == 0 || size == 0 {
		return 0
	}
	return time.Duration(size) * time.Second / time.Duration(rate)
}

func (e *Engine) run(stop <-chan struct{}) {
	period := e.BlockPeriod()
	if period <= 0 {
		period = time.Millisecond
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Step()
		case <-stop:
			return
		}
	}
}

// Pins is a GPIO bank that remembers modes and levels
type Pins struct {
	mu     sync.Mutex
	modes  map[capture.Pin]capture.PinMode
	levels map[capture.Pin]bool
	edges  map[capture.Pin]uint64
}

// NewPins creates an empty GPIO bank
func NewPins() *Pins {
	return &Pins{
		modes:  make(map[capture.Pin]capture.PinMode),
		levels: make(map[capture.Pin]bool),
		edges:  make(map[capture.Pin]uint64),
	}
}

func (p *Pins) SetMode(pin capture.Pin, mode capture.PinMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes[pin] = mode
}

func (p *Pins) Write(pin capture.Pin, high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.levels[pin] != high {
		p.edges[pin]++
	}
	p.levels[pin] = high
}

// Level returns the last level written to pin
func (p *Pins) Level(pin capture.Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin]
}

// Mode returns the mode of pin
func (p *Pins) Mode(pin capture.Pin) capture.PinMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modes[pin]
}

// Edges returns how many times pin changed level
func (p *Pins) Edges(pin capture.Pin) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edges[pin]
}

// Board bundles simulated hardware for one microphone
type Board struct {
	ADC    *ADC
	Engine *Engine
	Pins   *Pins
}

// NewBoard builds a realtime board sampling signal
func NewBoard(signal Signal) *Board {
	adc := NewADC(DefaultClockHz, signal)
	return &Board{
		ADC:    adc,
		Engine: NewEngine(adc, 1, true),
		Pins:   NewPins(),
	}
}

// Hardware returns the board as capture collaborators
func (b *Board) Hardware() capture.Hardware {
	return capture.Hardware{
		Peripheral: b.ADC,
		Engine:     b.Engine,
		Pins:       b.Pins,
	}
}
