// ABOUTME: In-memory hardware doubles for controller tests
// ABOUTME: Records peripheral, transfer engine and pin calls
package capture

import (
	"errors"
	"sync"
)

type fakePeripheral struct {
	clockHz    uint32
	configured []PeripheralConfig
	resets     int
	failConfig bool
}

func (p *fakePeripheral) ClockHz() uint32 { return p.clockHz }

func (p *fakePeripheral) Configure(cfg PeripheralConfig) error {
	if p.failConfig {
		return errors.New("configure failed")
	}
	p.configured = append(p.configured, cfg)
	return nil
}

func (p *fakePeripheral) DataRegister() Register { return 0x5000_0000 }

func (p *fakePeripheral) Reset() { p.resets++ }

type fakeEngine struct {
	mu        sync.Mutex
	channels  int // available channels
	allocated map[Channel]bool
	next      Channel

	bufA, bufB  []uint16
	source      Register
	elementSize int
	done        CompletionFunc
	seq         uint32

	triggerRunning bool
	paused         bool
	calls          []string
}

func newFakeEngine(channels int) *fakeEngine {
	return &fakeEngine{channels: channels, allocated: make(map[Channel]bool)}
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

func (e *fakeEngine) Init() error {
	e.record("init")
	return nil
}

func (e *fakeEngine) AllocateChannel() (Channel, error) {
	e.record("allocate")
	if len(e.allocated) >= e.channels {
		return 0, errors.New("no free channel")
	}
	ch := e.next
	e.next++
	e.allocated[ch] = true
	return ch, nil
}

func (e *fakeEngine) ArmPingPong(ch Channel, bufA, bufB []uint16, source Register, elementSize int, done CompletionFunc) error {
	e.record("arm")
	e.bufA, e.bufB = bufA, bufB
	e.source = source
	e.elementSize = elementSize
	e.done = done
	return nil
}

func (e *fakeEngine) StartTrigger()            { e.record("start"); e.triggerRunning = true }
func (e *fakeEngine) StopTrigger()             { e.record("stop-trigger"); e.triggerRunning = false }
func (e *fakeEngine) StopTransfer(ch Channel)  { e.record("stop-transfer") }
func (e *fakeEngine) PauseTransfer(ch Channel) { e.record("pause"); e.paused = true }
func (e *fakeEngine) ResumeTransfer(ch Channel) {
	e.record("resume")
	e.paused = false
}
func (e *fakeEngine) FreeChannel(ch Channel) {
	e.record("free")
	delete(e.allocated, ch)
}

// complete fills the buffer the engine is currently writing and reports it
func (e *fakeEngine) complete(samples ...uint16) bool {
	target := e.bufA
	if e.seq%2 == 1 {
		target = e.bufB
	}
	copy(target, samples)
	seq := e.seq
	e.seq++
	return e.done(seq)
}

type fakePins struct {
	mu     sync.Mutex
	modes  map[Pin]PinMode
	levels map[Pin]bool
	writes map[Pin]int
}

func newFakePins() *fakePins {
	return &fakePins{
		modes:  make(map[Pin]PinMode),
		levels: make(map[Pin]bool),
		writes: make(map[Pin]int),
	}
}

func (p *fakePins) SetMode(pin Pin, mode PinMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes[pin] = mode
}

func (p *fakePins) Write(pin Pin, high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[pin] = high
	p.writes[pin]++
}

func (p *fakePins) level(pin Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin]
}

type testRig struct {
	ctrl   *Controller
	adc    *fakePeripheral
	engine *fakeEngine
	pins   *fakePins
}

func newTestRig(cfg Config, channels int) (*testRig, error) {
	rig := &testRig{
		adc:    &fakePeripheral{clockHz: 10_000_000},
		engine: newFakeEngine(channels),
		pins:   newFakePins(),
	}
	ctrl, err := New(cfg, Hardware{Peripheral: rig.adc, Engine: rig.engine, Pins: rig.pins})
	if err != nil {
		return nil, err
	}
	rig.ctrl = ctrl
	return rig, nil
}
