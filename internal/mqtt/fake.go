package mqtt

import (
	"sync"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

// FakePublisher records published events for test assertions.
// It is safe for concurrent use since toggles publish from request goroutines.
type FakePublisher struct {
	mu sync.Mutex

	events         []lamp.Event
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	closed         bool

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Block, if set, makes Publish wait until the channel is closed.
	Block chan struct{}
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the toggle event.
func (f *FakePublisher) Publish(event lamp.Event) error {
	f.mu.Lock()
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}

	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}

	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)

	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Events returns a copy of the recorded toggle events.
func (f *FakePublisher) Events() []lamp.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lamp.Event(nil), f.events...)
}

// Payloads returns a copy of the recorded toggle payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
	f.Block = nil
}
