package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Green         LampJSON   `json:"green"`
	Red           LampJSON   `json:"red"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Config        ConfigJSON `json:"config"`
}

// LampJSON reports one lamp.
type LampJSON struct {
	State         string     `json:"state"`
	Pin           int        `json:"pin"`
	Toggles       int        `json:"toggles"`
	DriveFaults   int        `json:"drive_faults"`
	PersistFaults int        `json:"persist_faults"`
	LastFault     *FaultJSON `json:"last_fault,omitempty"`
}

// FaultJSON is the JSON representation of a Fault.
type FaultJSON struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HTTPAddr         string `json:"http_addr"`
	AdminAddr        string `json:"admin_addr,omitempty"`
	StoreBackend     string `json:"store_backend"`
	DriveTimeoutMs   int64  `json:"drive_timeout_ms"`
	PersistTimeoutMs int64  `json:"persist_timeout_ms"`
}

func buildLamp(snap Snapshot, c lamp.Channel, pin int) LampJSON {
	stats := snap.Stats(c)
	lj := LampJSON{
		State:         string(snap.Lamps.State(c)),
		Pin:           pin,
		Toggles:       stats.Toggles,
		DriveFaults:   stats.DriveFaults,
		PersistFaults: stats.PersistFaults,
	}
	if f := stats.LastFault; f != nil {
		lj.LastFault = &FaultJSON{
			Timestamp: f.Time.UTC().Format(time.RFC3339),
			Kind:      f.Kind,
			Error:     f.Error,
		}
	}
	return lj
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Green:         buildLamp(snap, lamp.Green, snap.Config.GreenPin),
		Red:           buildLamp(snap, lamp.Red, snap.Config.RedPin),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			HTTPAddr:         snap.Config.HTTPAddr,
			AdminAddr:        snap.Config.AdminAddr,
			StoreBackend:     snap.Config.StoreBackend,
			DriveTimeoutMs:   snap.Config.DriveTimeoutMs,
			PersistTimeoutMs: snap.Config.PersistTimeoutMs,
		},
	}
}

// FormatJSON returns the JSON status for the admin endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
