package lamp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/lamp-panel/internal/gpio"
	"github.com/sweeney/lamp-panel/internal/logger"
	"github.com/sweeney/lamp-panel/internal/nvs"
)

var (
	// ErrTimeout reports a drive or persist attempt that did not finish in time.
	ErrTimeout = errors.New("lamp: operation timed out")
	// ErrAlreadyLoaded is returned by a second LoadInitialState call.
	ErrAlreadyLoaded = errors.New("lamp: initial state already loaded")
)

// Default bounds for the two blocking writes of a toggle.
const (
	DefaultDriveTimeout   = 500 * time.Millisecond
	DefaultPersistTimeout = 2 * time.Second
)

// Manager is the single owner of lamp state and the only code that changes
// an output level. One mutex covers both channels: a toggle's
// read-modify-drive-persist sequence is atomic with respect to every other
// toggle and read.
type Manager struct {
	out   gpio.Writer
	store nvs.Store

	pins           [channelCount]int
	driveTimeout   time.Duration
	persistTimeout time.Duration
	observers      []Observer
	now            func() time.Time

	mu        sync.Mutex
	energized [channelCount]bool
	loaded    bool
	seq       uint64
	// driving and persisting hold a write that outlived its timeout. No new
	// write is issued to the same target until it returns.
	driving    [channelCount]*inflight
	persisting *inflight
}

// inflight is a write that has not returned yet.
type inflight struct {
	done chan struct{}
	err  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithPins sets the BCM line offsets of the green and red lamps.
func WithPins(green, red int) Option {
	return func(m *Manager) {
		m.pins[Green] = green
		m.pins[Red] = red
	}
}

// WithTimeouts bounds output drives and record commits. Non-positive values keep the defaults.
func WithTimeouts(drive, persist time.Duration) Option {
	return func(m *Manager) {
		if drive > 0 {
			m.driveTimeout = drive
		}
		if persist > 0 {
			m.persistTimeout = persist
		}
	}
}

// WithObserver registers o to be told about every toggle.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithClock replaces time.Now for event timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager with both lamps off. Call LoadInitialState
// before serving requests.
func NewManager(out gpio.Writer, store nvs.Store, opts ...Option) *Manager {
	m := &Manager{
		out:            out,
		store:          store,
		pins:           [channelCount]int{Green: gpio.DefaultPinGreen, Red: gpio.DefaultPinRed},
		driveTimeout:   DefaultDriveTimeout,
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Pin returns the output line of c.
func (m *Manager) Pin(c Channel) int {
	return m.pins[c]
}

// LoadInitialState seeds both channels from their persisted records.
// An absent, unreadable or out-of-range record leaves the channel off.
// It does not touch the outputs; see DriveOutputs.
func (m *Manager) LoadInitialState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return ErrAlreadyLoaded
	}

	for _, c := range Channels {
		m.energized[c] = m.readRecord(ctx, c)
	}
	m.loaded = true

	logger.InfoKV(ctx, "Lamp state loaded",
		"green", StateOf(m.energized[Green]), "red", StateOf(m.energized[Red]))

	return nil
}

func (m *Manager) readRecord(ctx context.Context, c Channel) bool {
	key := c.RecordKey()

	var v int32
	err := m.bounded(ctx, m.persistTimeout, func(ctx context.Context) error {
		var err error
		v, err = m.store.GetInt(ctx, key)
		return err
	})

	switch {
	case errors.Is(err, nvs.ErrNotFound):
		logger.InfoKV(ctx, "No stored lamp record, defaulting to off", "channel", c, "key", key)
		return false
	case err != nil:
		logger.WarnKV(ctx, "Unreadable lamp record, defaulting to off", "channel", c, "key", key, "error", err)
		return false
	}

	switch v {
	case 0:
		return false
	case 1:
		return true
	default:
		logger.WarnKV(ctx, "Lamp record out of range, defaulting to off", "channel", c, "key", key, "value", v)
		return false
	}
}

// State returns the in-memory value of c.
func (m *Manager) State(c Channel) bool {
	if !c.Valid() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.energized[c]
}

// Snapshot returns both channels read under one lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{energized: m.energized}
}

// Toggle flips c, drives its output, persists both records and returns the
// new value. Drive and persist faults are logged and reported to observers
// but never returned: the new logical value stands either way. The toggle
// runs to completion even if ctx is cancelled; only the configured timeouts
// cut it short. A write that outlives its timeout keeps its line (or the
// store) to itself until it returns, and is then followed by a write of the
// current value if they differ.
func (m *Manager) Toggle(ctx context.Context, c Channel) bool {
	if !c.Valid() {
		logger.WarnKV(ctx, "Toggle of unknown channel ignored", "channel", int(c))
		return false
	}

	ctx = context.WithoutCancel(ctx)
	start := m.now()

	m.mu.Lock()

	m.energized[c] = !m.energized[c]
	m.seq++
	on := m.energized[c]
	seq := m.seq
	snap := Snapshot{energized: m.energized}

	driveErr := m.drive(ctx, c, on)
	persistErr := m.persist(ctx, snap)

	m.mu.Unlock()

	ev := Event{
		Seq:        seq,
		Timestamp:  start,
		Channel:    c,
		Energized:  on,
		Snapshot:   snap,
		DriveErr:   driveErr,
		PersistErr: persistErr,
		Duration:   m.now().Sub(start),
	}

	logger.InfoKV(ctx, "Lamp toggled", "channel", c, "state", StateOf(on), "duration", ev.Duration)

	for _, o := range m.observers {
		o.Toggled(ctx, ev)
	}

	return on
}

// DriveOutputs drives both lines to the current in-memory state. It is the
// bring-up step that follows LoadInitialState. It returns the joined drive
// errors so the caller can decide whether a dead output is fatal at boot.
func (m *Manager) DriveOutputs(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, c := range Channels {
		if err := m.drive(ctx, c, m.energized[c]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// drive must be called with mu held.
func (m *Manager) drive(ctx context.Context, c Channel, on bool) error {
	pin := m.pins[c]

	err := m.serialized(ctx, &m.driving[c], m.driveTimeout,
		func(context.Context) error {
			return m.out.SetLevel(pin, on)
		},
		func(late error) {
			// The line now holds on, or is in an unknown state if the write failed.
			if late == nil && m.energized[c] == on {
				return
			}
			logger.WarnKV(ctx, "Re-driving lamp after late output write",
				"channel", c, "pin", pin, "landed", StateOf(on), "want", StateOf(m.energized[c]), "error", late)
			_ = m.drive(context.WithoutCancel(ctx), c, m.energized[c])
		},
	)
	if err != nil {
		err = fmt.Errorf("drive %s lamp on pin %d: %w", c, pin, err)
		logger.ErrorKV(ctx, "Lamp output drive failed", "channel", c, "pin", pin, "error", err)
	}

	return err
}

// persist writes both records and commits them as one unit. It must be
// called with mu held.
func (m *Manager) persist(ctx context.Context, snap Snapshot) error {
	err := m.serialized(ctx, &m.persisting, m.persistTimeout,
		func(ctx context.Context) error {
			for _, c := range Channels {
				var v int32
				if snap.Energized(c) {
					v = 1
				}
				if err := m.store.SetInt(ctx, c.RecordKey(), v); err != nil {
					return fmt.Errorf("set %s: %w", c.RecordKey(), err)
				}
			}

			return m.store.Commit(ctx)
		},
		func(late error) {
			if late == nil && m.energized == snap.energized {
				return
			}
			logger.WarnKV(ctx, "Re-persisting lamp state after late commit", "error", late)
			_ = m.persist(context.WithoutCancel(ctx), Snapshot{energized: m.energized})
		},
	)
	if err != nil {
		err = fmt.Errorf("persist lamp state: %w", err)
		logger.ErrorKV(ctx, "Lamp state persist failed", "error", err)
	}

	return err
}

// serialized runs op with a time limit once any earlier write held in slot
// has returned. If op outlives limit it is left in slot and settle is called,
// with mu held, when it finally returns, unless a newer write has taken the
// slot by then. It must be called with mu held.
func (m *Manager) serialized(
	ctx context.Context,
	slot **inflight,
	limit time.Duration,
	op func(context.Context) error,
	settle func(late error),
) error {
	if prev := *slot; prev != nil {
		wait := time.NewTimer(limit)
		defer wait.Stop()

		select {
		case <-prev.done:
		case <-wait.C:
			return fmt.Errorf("%w after %s: previous write still pending", ErrTimeout, limit)
		}
	}
	*slot = nil

	opCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	w := &inflight{done: make(chan struct{})}
	go func() {
		w.err = op(opCtx)
		close(w.done)
	}()

	select {
	case <-w.done:
		if w.err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, limit, w.err)
		}
		return w.err
	case <-opCtx.Done():
	}

	*slot = w
	go func() {
		<-w.done

		m.mu.Lock()
		defer m.mu.Unlock()

		if *slot != w {
			return
		}
		*slot = nil
		settle(w.err)
	}()

	return fmt.Errorf("%w after %s", ErrTimeout, limit)
}

// bounded runs a read and waits at most limit for it. On expiry it returns
// ErrTimeout and the read's result is discarded.
func (m *Manager) bounded(ctx context.Context, limit time.Duration, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, limit, err)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrTimeout, limit)
	}
}
