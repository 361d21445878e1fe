// ABOUTME: Sample rate to ADC timer period derivation
// ABOUTME: Clamps the period into the 16-bit hardware counter range
package capture

import "math"

// MaxTimerCycles is the largest value the 16-bit trigger counter holds
const MaxTimerCycles = math.MaxUint16

// TimerPeriod returns the trigger period, in clock cycles, for sampleRate.
//
// A zero rate or a quotient of zero yields 1 rather than a divide by zero or a
// free-running timer. The floor keeps the peripheral valid; it does not mean
// the hardware actually samples at sampleRate for such configurations.
func TimerPeriod(clockHz, sampleRate uint32) uint16 {
	var cycles uint32
	if sampleRate > 0 && clockHz > 0 {
		cycles = clockHz / sampleRate
	}

	if cycles == 0 {
		cycles = 1
	}
	if cycles > MaxTimerCycles {
		cycles = MaxTimerCycles
	}

	return uint16(cycles)
}
