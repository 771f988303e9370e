package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

var ts = time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)

func toggleEvent(c lamp.Channel, green, red bool) lamp.Event {
	snap := lamp.NewSnapshot(green, red)
	return lamp.Event{
		Timestamp: ts,
		Channel:   c,
		Energized: snap.Energized(c),
		Snapshot:  snap,
	}
}

func TestTopics(t *testing.T) {
	t.Parallel()

	require.Equal(t, "home/lamps/panel/events", Topic)
	require.Equal(t, "home/lamps/panel/system", TopicSystem)
}

func TestEventName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event lamp.Event
		want  string
	}{
		{toggleEvent(lamp.Green, true, false), "GREEN_ON"},
		{toggleEvent(lamp.Green, false, true), "GREEN_OFF"},
		{toggleEvent(lamp.Red, false, true), "RED_ON"},
		{toggleEvent(lamp.Red, true, false), "RED_OFF"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, EventName(tt.event))
		})
	}
}

func TestFormatPayload(t *testing.T) {
	t.Parallel()

	payload, err := FormatPayload(toggleEvent(lamp.Green, true, false))
	require.NoError(t, err)

	var parsed Payload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	require.Equal(t, "2026-02-02T22:18:12Z", parsed.Lamp.Timestamp)
	require.Equal(t, "GREEN_ON", parsed.Lamp.Event)
	require.Equal(t, "green", parsed.Lamp.Channel)
	require.Equal(t, "ON", parsed.Lamp.State)
	require.Equal(t, "ON", parsed.Lamp.Green.State)
	require.Equal(t, "OFF", parsed.Lamp.Red.State)
	require.Empty(t, parsed.Lamp.Fault)
}

func TestFormatPayloadExactJSON(t *testing.T) {
	t.Parallel()

	payload, err := FormatPayload(toggleEvent(lamp.Red, false, true))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"lamp":{"seq":0,"timestamp":"2026-02-02T22:18:12Z","event":"RED_ON","channel":"red","state":"ON","green":{"state":"OFF"},"red":{"state":"ON"}}}`,
		string(payload))
}

func TestFormatPayloadFault(t *testing.T) {
	t.Parallel()

	ev := toggleEvent(lamp.Red, false, true)
	ev.PersistErr = errors.New("flash worn out")

	payload, err := FormatPayload(ev)
	require.NoError(t, err)

	var parsed Payload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	require.Equal(t, "persist", parsed.Lamp.Fault)

	ev.DriveErr = errors.New("line busy")
	payload, err = FormatPayload(ev)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &parsed))
	require.Equal(t, "drive", parsed.Lamp.Fault)
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	t.Parallel()

	ev := toggleEvent(lamp.Green, true, false)
	ev.Timestamp = time.Date(2026, 2, 2, 23, 18, 12, 0, time.FixedZone("CET", 3600))

	payload, err := FormatPayload(ev)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"timestamp":"2026-02-02T22:18:12Z"`)
}

func TestFormatSystemPayload(t *testing.T) {
	t.Parallel()

	payload, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: EventShutdown, Reason: "SIGTERM"})
	require.NoError(t, err)
	require.JSONEq(t,
		`{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM"}}`,
		string(payload))

	payload, err = FormatSystemPayload(SystemEvent{Timestamp: ts, Event: EventStartup})
	require.NoError(t, err)
	require.NotContains(t, string(payload), "reason")
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: EventStartup, RawPayload: raw})
	require.NoError(t, err)
	require.Equal(t, raw, payload)
}

func TestFakePublisher(t *testing.T) {
	t.Parallel()

	f := NewFakePublisher()
	ev := toggleEvent(lamp.Green, true, false)

	require.NoError(t, f.Publish(ev))
	require.NoError(t, f.PublishSystem(SystemEvent{Timestamp: ts, Event: EventStartup, Retained: true}))

	require.Equal(t, []lamp.Event{ev}, f.Events())
	require.Len(t, f.Payloads(), 1)
	require.Contains(t, string(f.Payloads()[0]), "GREEN_ON")
	require.Len(t, f.SystemEvents(), 1)
	require.True(t, f.SystemEvents()[0].Retained)
	require.Contains(t, string(f.SystemPayloads()[0]), "STARTUP")

	require.NoError(t, f.Close())
	require.True(t, f.Closed())

	f.Reset()
	require.Empty(t, f.Events())
	require.Empty(t, f.SystemEvents())
	require.False(t, f.Closed())
}

func TestFakePublisherErrors(t *testing.T) {
	t.Parallel()

	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker still down")

	require.ErrorIs(t, f.Publish(toggleEvent(lamp.Red, false, true)), f.PublishError)
	require.ErrorIs(t, f.PublishSystem(SystemEvent{Event: EventShutdown}), f.PublishSystemError)
	require.Empty(t, f.Events())
	require.Empty(t, f.SystemEvents())
}

func TestFormatPayloadCarriesSeq(t *testing.T) {
	t.Parallel()

	ev := toggleEvent(lamp.Green, true, false)
	ev.Seq = 42

	payload, err := FormatPayload(ev)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"seq":42`)
}
