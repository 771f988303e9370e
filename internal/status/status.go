// Package status provides a thread-safe tracker of lamp state, toggle counts
// and faults. It is read by the admin endpoint and the MQTT lifecycle events.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

// Fault kinds.
const (
	FaultDrive   = "drive"
	FaultPersist = "persist"
)

// Config contains daemon configuration for display.
type Config struct {
	HTTPAddr         string
	AdminAddr        string
	Broker           string
	StoreBackend     string
	GreenPin         int
	RedPin           int
	DriveTimeoutMs   int64
	PersistTimeoutMs int64
}

// Fault records the most recent failure on a channel.
type Fault struct {
	Time  time.Time
	Kind  string
	Error string
}

// ChannelStats counts toggles and faults on one channel since startup.
type ChannelStats struct {
	Toggles       int
	DriveFaults   int
	PersistFaults int
	LastFault     *Fault
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Lamps         lamp.Snapshot
	Green         ChannelStats
	Red           ChannelStats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Stats returns the counters for c.
func (s Snapshot) Stats(c lamp.Channel) ChannelStats {
	if c == lamp.Red {
		return s.Red
	}
	return s.Green
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	lastSeq uint64
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Seed sets the lamp states loaded at startup.
func (t *Tracker) Seed(lamps lamp.Snapshot) {
	t.mu.Lock()
	t.snap.Lamps = lamps
	t.mu.Unlock()
}

// Toggled records a toggle and any fault it carried. It implements lamp.Observer.
// Lamp state is only taken from an event newer than the last one applied;
// counters take every event.
func (t *Tracker) Toggled(_ context.Context, ev lamp.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Seq > t.lastSeq {
		t.lastSeq = ev.Seq
		t.snap.Lamps = ev.Snapshot
	}

	stats := &t.snap.Green
	if ev.Channel == lamp.Red {
		stats = &t.snap.Red
	}

	stats.Toggles++

	if ev.DriveErr != nil {
		stats.DriveFaults++
		stats.LastFault = &Fault{Time: ev.Timestamp, Kind: FaultDrive, Error: ev.DriveErr.Error()}
	}

	if ev.PersistErr != nil {
		stats.PersistFaults++
		stats.LastFault = &Fault{Time: ev.Timestamp, Kind: FaultPersist, Error: ev.PersistErr.Error()}
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
