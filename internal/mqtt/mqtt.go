// Package mqtt publishes lamp toggles and daemon lifecycle events to an MQTT
// broker, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

// Topic is the MQTT topic for lamp toggle events.
const Topic = "home/lamps/panel/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/lamps/panel/system"

// Lifecycle event names.
const (
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
	EventOffline  = "OFFLINE"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a toggle event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event lamp.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// SystemEvent represents a system lifecycle event (startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload represents the MQTT message payload for a toggle.
type Payload struct {
	Lamp LampPayload `json:"lamp"`
}

// LampPayload contains the toggle details and both resulting lamp states.
type LampPayload struct {
	Seq       uint64       `json:"seq"`
	Timestamp string       `json:"timestamp"`
	Event     string       `json:"event"`
	Channel   string       `json:"channel"`
	State     string       `json:"state"`
	Green     ChannelState `json:"green"`
	Red       ChannelState `json:"red"`
	Fault     string       `json:"fault,omitempty"`
}

// ChannelState represents a single channel's state.
type ChannelState struct {
	State string `json:"state"`
}

// EventName returns the event label for a toggle, e.g. "GREEN_ON".
func EventName(event lamp.Event) string {
	return strings.ToUpper(event.Channel.Slug()) + "_" + string(lamp.StateOf(event.Energized))
}

// FormatPayload creates the JSON payload for a toggle event.
func FormatPayload(event lamp.Event) ([]byte, error) {
	payload := Payload{
		Lamp: LampPayload{
			Seq:       event.Seq,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     EventName(event),
			Channel:   event.Channel.Slug(),
			State:     string(lamp.StateOf(event.Energized)),
			Green:     ChannelState{State: string(event.Snapshot.State(lamp.Green))},
			Red:       ChannelState{State: string(event.Snapshot.State(lamp.Red))},
		},
	}

	switch {
	case event.DriveErr != nil:
		payload.Lamp.Fault = "drive"
	case event.PersistErr != nil:
		payload.Lamp.Fault = "persist"
	}

	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events
// that don't carry a full status snapshot (the last will).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
