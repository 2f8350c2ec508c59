package kfmt

import "io"

// ringBufferSize defines size of the ring buffer that holds early Printf
// output. It must be a power of 2. 2K is enough for the memory map dump the
// allocator prints during initialisation.
const ringBufferSize = 2048

// ringBuffer captures Printf output until a serial console is attached. When
// full, new writes overwrite the oldest bytes.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write writes len(p) bytes from p to the ringBuffer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)

		// Drop the oldest byte if the writer caught up with the reader.
		if rb.wIndex == rb.rIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once the buffer
// has been drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Only copy the contiguous chunk that starts at rIndex; a wrapped
	// buffer is drained by a subsequent call.
	chunkEnd := rb.wIndex
	if rb.rIndex > rb.wIndex {
		chunkEnd = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:chunkEnd])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}
