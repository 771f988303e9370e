package gpio

import (
	"fmt"
	"sync"
)

// FakeWriter is a test double that records driven levels.
type FakeWriter struct {
	mu sync.Mutex

	levels map[int]bool
	writes []Write

	// SetError, if set, is returned by SetLevel and the level is not recorded.
	SetError error

	// Block, if set, makes SetLevel wait until the channel is closed.
	Block chan struct{}

	// Closed tracks if Close was called.
	Closed bool
}

// Write is one recorded SetLevel call.
type Write struct {
	Pin int
	On  bool
}

// NewFakeWriter creates a FakeWriter with every line low.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{levels: make(map[int]bool)}
}

// SetLevel records the level for pin.
func (f *FakeWriter) SetLevel(pin int, on bool) error {
	f.mu.Lock()
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return fmt.Errorf("set pin %d: %w", pin, f.SetError)
	}

	f.levels[pin] = on
	f.writes = append(f.writes, Write{Pin: pin, On: on})

	return nil
}

// Level returns the last level driven onto pin.
func (f *FakeWriter) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.levels[pin]
}

// Writes returns a copy of every recorded SetLevel call.
func (f *FakeWriter) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Write(nil), f.writes...)
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Closed = true

	return nil
}

// Reset clears recorded writes and injected faults.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.levels = make(map[int]bool)
	f.writes = nil
	f.SetError = nil
	f.Block = nil
	f.Closed = false
}
