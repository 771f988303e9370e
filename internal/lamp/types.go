// Package lamp owns the state of the two indicator lamps and keeps the
// in-memory value, the driven output line and the persisted record in step.
package lamp

import (
	"context"
	"time"
)

// Channel identifies one of the two lamps. The set is closed.
type Channel int

const (
	Green Channel = iota
	Red

	channelCount = 2
)

// Channels lists every channel in display order.
var Channels = [channelCount]Channel{Green, Red}

var channelInfo = [channelCount]struct {
	slug  string
	label string
	key   string
}{
	Green: {slug: "green", label: "Green", key: "led_green"},
	Red:   {slug: "red", label: "Red", key: "led_red"},
}

// Valid reports whether c is one of Channels.
func (c Channel) Valid() bool {
	return c >= 0 && c < channelCount
}

// Slug is the lower-case path segment for c, e.g. "green".
func (c Channel) Slug() string {
	if !c.Valid() {
		return "unknown"
	}
	return channelInfo[c].slug
}

// Label is the display name for c, e.g. "Green".
func (c Channel) Label() string {
	if !c.Valid() {
		return "Unknown"
	}
	return channelInfo[c].label
}

// RecordKey is the non-volatile record name holding c's state.
func (c Channel) RecordKey() string {
	if !c.Valid() {
		return ""
	}
	return channelInfo[c].key
}

func (c Channel) String() string {
	return c.Slug()
}

// State is the textual status of a lamp.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf maps an energized flag to its State.
func StateOf(energized bool) State {
	if energized {
		return StateOn
	}
	return StateOff
}

// Snapshot is a point-in-time view of both lamps.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	energized [channelCount]bool
}

// NewSnapshot builds a Snapshot from explicit values.
func NewSnapshot(green, red bool) Snapshot {
	var s Snapshot
	s.energized[Green] = green
	s.energized[Red] = red
	return s
}

// Energized reports whether c is on in the snapshot.
func (s Snapshot) Energized(c Channel) bool {
	if !c.Valid() {
		return false
	}
	return s.energized[c]
}

// State returns c's textual status.
func (s Snapshot) State(c Channel) State {
	return StateOf(s.Energized(c))
}

// Event describes one completed toggle.
type Event struct {
	// Seq numbers toggles in the order they took effect, starting at 1.
	// Observers run concurrently, so a consumer that mirrors state must
	// ignore an event older than the last one it applied.
	Seq       uint64
	Timestamp time.Time
	Channel   Channel
	Energized bool
	// Snapshot holds both lamps immediately after the toggle.
	Snapshot Snapshot
	// DriveErr is set when the output line could not be driven.
	DriveErr error
	// PersistErr is set when the records could not be committed.
	PersistErr error
	Duration   time.Duration
}

// Observer is notified after every toggle, outside the state lock, on the
// toggling goroutine. Deliveries for concurrent toggles may arrive out of
// order (see Event.Seq). Implementations must not block or call back into
// Manager.Toggle.
type Observer interface {
	Toggled(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Toggled calls f.
func (f ObserverFunc) Toggled(ctx context.Context, ev Event) {
	f(ctx, ev)
}
