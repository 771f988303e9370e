package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

func TestRecorderToggled(t *testing.T) {
	t.Parallel()

	reg := prom.NewRegistry()
	r := NewRecorder(reg)
	r.Seed(lamp.NewSnapshot(false, true))

	require.InDelta(t, 1, testutil.ToFloat64(r.energized.WithLabelValues("red")), 0)

	ctx := context.Background()
	r.Toggled(ctx, lamp.Event{Seq: 1, Channel: lamp.Green, Energized: true,
		Snapshot: lamp.NewSnapshot(true, true), Duration: 3 * time.Millisecond})
	r.Toggled(ctx, lamp.Event{Seq: 2, Channel: lamp.Red, Energized: false,
		Snapshot: lamp.NewSnapshot(true, false), DriveErr: errors.New("busy")})
	r.Toggled(ctx, lamp.Event{Seq: 3, Channel: lamp.Red, Energized: true,
		Snapshot: lamp.NewSnapshot(true, true), PersistErr: errors.New("worn")})

	require.InDelta(t, 1, testutil.ToFloat64(r.toggles.WithLabelValues("green", "ON")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.toggles.WithLabelValues("red", "OFF")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.toggles.WithLabelValues("red", "ON")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.driveFaults.WithLabelValues("red")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.persistFaults.WithLabelValues("red")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(r.driveFaults.WithLabelValues("green")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.energized.WithLabelValues("green")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.energized.WithLabelValues("red")), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestRecorderIgnoresStaleState(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)

	ctx := context.Background()
	r.Toggled(ctx, lamp.Event{Seq: 2, Channel: lamp.Green, Energized: false, Snapshot: lamp.NewSnapshot(false, false)})
	r.Toggled(ctx, lamp.Event{Seq: 1, Channel: lamp.Green, Energized: true, Snapshot: lamp.NewSnapshot(true, false)})

	require.InDelta(t, 0, testutil.ToFloat64(r.energized.WithLabelValues("green")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.toggles.WithLabelValues("green", "ON")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.toggles.WithLabelValues("green", "OFF")), 0)
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.Seed(lamp.NewSnapshot(true, true))
	r.Toggled(context.Background(), lamp.Event{Channel: lamp.Green})
}

func TestHTTPHandler(t *testing.T) {
	t.Parallel()

	reg := prom.NewRegistry()
	NewRecorder(reg)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "lamp_drive_faults_total")
}
