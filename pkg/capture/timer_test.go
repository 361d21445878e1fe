// ABOUTME: Tests for the timer period derivation
// ABOUTME: Covers exact division and both clamps
package capture

import "testing"

func TestTimerPeriod(t *testing.T) {
	tests := []struct {
		name       string
		clockHz    uint32
		sampleRate uint32
		expected   uint16
	}{
		{"exact", 10_000_000, 16000, 625},
		{"truncates", 10_000_000, 44100, 226},
		{"zero rate clamps to one", 10_000_000, 0, 1},
		{"zero clock clamps to one", 0, 16000, 1},
		{"rate above clock clamps to one", 1000, 16000, 1},
		{"clamps to counter max", 100_000_000, 1000, MaxTimerCycles},
		{"exact counter max", 65535, 1, MaxTimerCycles},
		{"just under counter max", 65534, 1, 65534},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TimerPeriod(tt.clockHz, tt.sampleRate)
			if result != tt.expected {
				t.Errorf("TimerPeriod(%d, %d) = %d, want %d", tt.clockHz, tt.sampleRate, result, tt.expected)
			}
		})
	}
}
