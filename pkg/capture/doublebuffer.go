// ABOUTME: Ping-pong buffer pair filled by the transfer engine
// ABOUTME: Maps engine sequence numbers to the buffer that just completed
package capture

// DoubleBuffer owns the two capture buffers. It holds no peripheral state.
type DoubleBuffer struct {
	buffers [2][]uint16
}

// NewDoubleBuffer allocates two buffers of size samples each
func NewDoubleBuffer(size int) *DoubleBuffer {
	return &DoubleBuffer{
		buffers: [2][]uint16{
			make([]uint16, size),
			make([]uint16, size),
		},
	}
}

// Len returns the number of samples in each buffer
func (d *DoubleBuffer) Len() int {
	return len(d.buffers[0])
}

// Buffer returns buffer 0 or 1. Any other id returns nil.
func (d *DoubleBuffer) Buffer(id int) []uint16 {
	if id != 0 && id != 1 {
		return nil
	}
	return d.buffers[id]
}

// BufferIndexFromSequence returns the logical buffer that completed with seq.
// Even sequence numbers complete buffer 0, odd ones buffer 1.
func BufferIndexFromSequence(seq uint32) int {
	return int(seq % 2)
}

// CompletedBufferFromSequence returns the buffer that completed with seq
func (d *DoubleBuffer) CompletedBufferFromSequence(seq uint32) []uint16 {
	return d.buffers[BufferIndexFromSequence(seq)]
}
