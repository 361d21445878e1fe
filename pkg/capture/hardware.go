// ABOUTME: Hardware collaborator interfaces for the capture controller
// ABOUTME: Narrow contracts for the ADC peripheral, transfer engine and pins
package capture

// Register identifies a peripheral data register the transfer engine reads from
type Register uintptr

// Channel is a transfer engine channel handle
type Channel uint32

// CompletionFunc is invoked by the transfer engine every time one of the two
// ping-pong buffers has been filled. Returning false stops the transfer.
type CompletionFunc func(sequence uint32) bool

// Alignment selects how the peripheral places samples in the data register
type Alignment int

const (
	AlignRight Alignment = iota
	AlignLeft
)

// PeripheralConfig is applied to the ADC once per Start
type PeripheralConfig struct {
	TimerCycles    uint16 // trigger period in peripheral clock cycles
	ResolutionBits int
	Alignment      Alignment
	FIFOWakeup     bool // wake the transfer engine on FIFO data valid
}

// Peripheral is the sampling ADC
type Peripheral interface {
	// ClockHz returns the peripheral clock after prescaling
	ClockHz() uint32

	// Configure applies timing, resolution and alignment
	Configure(cfg PeripheralConfig) error

	// DataRegister returns the FIFO data register to transfer from
	DataRegister() Register

	// Reset returns the peripheral to its power-on state
	Reset()
}

// TransferEngine moves completed FIFO blocks into memory
type TransferEngine interface {
	Init() error
	AllocateChannel() (Channel, error)

	// ArmPingPong starts a continuous transfer alternating between bufA and bufB.
	// done receives the engine-owned sequence number of each completion.
	ArmPingPong(ch Channel, bufA, bufB []uint16, source Register, elementSize int, done CompletionFunc) error

	StartTrigger()
	StopTrigger()
	StopTransfer(ch Channel)
	PauseTransfer(ch Channel)
	ResumeTransfer(ch Channel)
	FreeChannel(ch Channel)
}

// Pin identifies a GPIO
type Pin int

// NoPin disables an optional pin
const NoPin Pin = -1

// PinMode is a GPIO direction
type PinMode int

const (
	PinInput PinMode = iota
	PinOutput
)

// PinController drives microphone power and the diagnostic pin
type PinController interface {
	SetMode(pin Pin, mode PinMode)
	Write(pin Pin, high bool)
}

// Hardware bundles the collaborators a Controller drives
type Hardware struct {
	Peripheral Peripheral
	Engine     TransferEngine
	Pins       PinController
}
